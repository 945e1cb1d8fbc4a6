// Package semantic owns the vector index: a durable mapping from
// knowledge documents to embeddings with nearest-neighbor search.
// Two backends exist: SnapshotStore persists to a single local file,
// QdrantStore talks to a Qdrant server over gRPC.
package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/alphacar/aichat-engine/pkg/fn"
)

// embedWorkers bounds concurrent embedding calls during a batch add.
const embedWorkers = 4

// bootstrapDocument seeds a freshly created index so the snapshot is
// never empty; searches against a brand-new index still return a hit.
var bootstrapDocument = Document{Text: "Init Data", Source: "init"}

// SnapshotStore is a file-backed vector index. The whole index is
// serialized to one snapshot file; every mutation rewrites the file
// before the call returns, so an acknowledged add is always durable.
type SnapshotStore struct {
	path     string
	embedder Embedder

	mu      sync.RWMutex
	records []VectorRecord
}

type snapshotFile struct {
	Records []VectorRecord `json:"records"`
}

// LoadOrCreate opens the snapshot at path, or bootstraps a new index
// with a single placeholder record and persists it immediately.
// A missing file is the normal first-run condition, not an error.
func LoadOrCreate(ctx context.Context, path string, embedder Embedder) (*SnapshotStore, error) {
	s := &SnapshotStore{path: path, embedder: embedder}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var snap snapshotFile
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("semantic: corrupt snapshot %s: %w", path, err)
		}
		s.records = snap.Records
		return s, nil
	case errors.Is(err, fs.ErrNotExist):
		emb, err := embedder.Embed(ctx, bootstrapDocument.Text)
		if err != nil {
			return nil, fmt.Errorf("semantic: bootstrap embed: %w", err)
		}
		s.records = []VectorRecord{{Document: bootstrapDocument, Embedding: emb}}
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("semantic: read snapshot %s: %w", path, err)
	}
}

// Add embeds the documents, appends them, and persists the snapshot as
// one unit under the write lock. Concurrent adds are serialized; the
// snapshot is a whole-file overwrite, so an unserialized writer would
// silently drop knowledge. A persistence failure is returned as-is and
// must be treated as fatal by callers.
func (s *SnapshotStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := fn.ParMapResult(docs, embedWorkers, func(doc Document) fn.Result[VectorRecord] {
		emb, err := s.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return fn.Err[VectorRecord](fmt.Errorf("semantic: embed document %s: %w", doc.Source, err))
		}
		return fn.Ok(VectorRecord{Document: doc, Embedding: emb})
	})

	appended := make([]VectorRecord, 0, len(docs))
	for _, res := range results {
		rec, err := res.Unwrap()
		if err != nil {
			return err
		}
		appended = append(appended, rec)
	}

	s.records = append(s.records, appended...)
	if err := s.persist(); err != nil {
		// Roll back the in-memory append so memory matches disk.
		s.records = s.records[:len(s.records)-len(appended)]
		return err
	}
	return nil
}

// Search embeds the query and returns the k nearest documents by
// descending cosine similarity. Reads exclude in-flight writes.
func (s *SnapshotStore) Search(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]ScoredDocument, 0, len(s.records))
	for _, rec := range s.records {
		scored = append(scored, ScoredDocument{
			Document: rec.Document,
			Score:    cosineSimilarity(emb, rec.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > len(scored) {
		k = len(scored)
	}
	if k < 0 {
		k = 0
	}
	return scored[:k], nil
}

// Documents returns a copy of all stored documents, in insertion order.
func (s *SnapshotStore) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Document
	}
	return out
}

// Count returns the number of stored records.
func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// persist writes the snapshot atomically: marshal to a temp file in the
// same directory, then rename over the target. Must hold mu.
func (s *SnapshotStore) persist() error {
	data, err := json.Marshal(snapshotFile{Records: s.records})
	if err != nil {
		return fmt.Errorf("semantic: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("semantic: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("semantic: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("semantic: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("semantic: replace snapshot %s: %w", s.path, err)
	}
	return nil
}

// cosineSimilarity computes cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
