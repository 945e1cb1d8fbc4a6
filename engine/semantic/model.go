package semantic

import "context"

// Document is the unit stored and retrieved by the vector index: a
// structured knowledge text plus a stable provenance identifier.
type Document struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// ScoredDocument pairs a document with its similarity to the query.
// Scores are cosine similarities; results order by descending score
// (higher means closer).
type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}

// VectorRecord couples a document with its embedding. Records are
// created at ingestion (or bootstrap) and never mutated afterwards.
type VectorRecord struct {
	Document  Document  `json:"document"`
	Embedding []float32 `json:"embedding"`
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
