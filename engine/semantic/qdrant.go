package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantStore is a vector index backed by a Qdrant server. It offers the
// same Add/Search surface as SnapshotStore for deployments where the
// index must outlive a single host. Durability is Qdrant's: upserts use
// wait=true so an acknowledged add is flushed server-side.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	embedder    Embedder
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, collection string, embedder Embedder) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		embedder:    embedder,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	return q.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", q.collection, err)
	}
	return nil
}

// Add embeds and upserts the documents. Point IDs are derived from the
// document source and text, so re-adding an identical document is an
// overwrite rather than a duplicate.
func (q *QdrantStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(docs))
	for i, doc := range docs {
		emb, err := q.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return fmt.Errorf("semantic: embed document %s: %w", doc.Source, err)
		}
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc.Source+"\n"+doc.Text)).String()
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: emb}},
			},
			Payload: map[string]*pb.Value{
				"text":   {Kind: &pb.Value_StringValue{StringValue: doc.Text}},
				"source": {Kind: &pb.Value_StringValue{StringValue: doc.Source}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return nil
}

// scrollPageSize is how many points one scroll request fetches.
const scrollPageSize = 256

// Documents scrolls the whole collection and returns every stored
// document. Used at startup to rebuild in-process state (e.g. the
// known-model registry) from a remote index.
func (q *QdrantStore) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	limit := uint32(scrollPageSize)
	var offset *pb.PointId

	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll %s: %w", q.collection, err)
		}

		for _, p := range resp.GetResult() {
			var d Document
			for key, val := range p.GetPayload() {
				switch key {
				case "text":
					d.Text = val.GetStringValue()
				case "source":
					d.Source = val.GetStringValue()
				}
			}
			docs = append(docs, d)
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	return docs, nil
}

// Search embeds the query and performs k-NN search ordered by
// descending similarity.
func (q *QdrantStore) Search(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	emb, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         emb,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]ScoredDocument, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sd := ScoredDocument{Score: r.GetScore()}
		for key, val := range r.GetPayload() {
			switch key {
			case "text":
				sd.Text = val.GetStringValue()
			case "source":
				sd.Source = val.GetStringValue()
			}
		}
		results[i] = sd
	}
	return results, nil
}
