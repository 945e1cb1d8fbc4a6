package semantic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeEmbedder maps known texts to fixed vectors so similarity is
// deterministic. Unknown texts embed to a far-away direction.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{}}
}

func TestLoadOrCreateBootstraps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	emb := newFakeEmbedder()

	s, err := LoadOrCreate(context.Background(), path, emb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("fresh index must hold the bootstrap record, got %d", s.Count())
	}
	docs := s.Documents()
	if docs[0].Text != "Init Data" || docs[0].Source != "init" {
		t.Fatalf("unexpected bootstrap document: %+v", docs[0])
	}

	// Bootstrap must be persisted immediately.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file must exist after bootstrap: %v", err)
	}
}

func TestSnapshotAddAndSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	emb := newFakeEmbedder()
	emb.vectors["쏘나타 중형 세단"] = []float32{1, 0, 0}
	emb.vectors["GV80 대형 SUV"] = []float32{0, 1, 0}
	emb.vectors["중형 세단 추천해줘"] = []float32{0.9, 0.1, 0}

	s, err := LoadOrCreate(context.Background(), path, emb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = s.Add(context.Background(), []Document{
		{Text: "쏘나타 중형 세단", Source: "car-1"},
		{Text: "GV80 대형 SUV", Source: "car-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Count() != 3 {
		t.Fatalf("expected 3 records, got %d", s.Count())
	}

	hits, err := s.Search(context.Background(), "중형 세단 추천해줘", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Source != "car-1" {
		t.Fatalf("sedan must rank first, got %q", hits[0].Source)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatal("hits must be ordered by descending score")
	}
}

func TestSnapshotSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	emb := newFakeEmbedder()
	emb.vectors["전기차 지식"] = []float32{1, 0, 0}

	s, err := LoadOrCreate(context.Background(), path, emb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Add(context.Background(), []Document{{Text: "전기차 지식", Source: "manual-1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second open of the same path must see everything without
	// re-embedding.
	emb2 := newFakeEmbedder()
	s2, err := LoadOrCreate(context.Background(), path, emb2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s2.Count() != 2 {
		t.Fatalf("reloaded index must have 2 records, got %d", s2.Count())
	}
	if emb2.calls != 0 {
		t.Fatalf("reload must not embed, made %d calls", emb2.calls)
	}

	hits, err := s2.Search(context.Background(), "전기차 지식", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits[0].Source != "manual-1" {
		t.Fatalf("expected manual-1, got %q", hits[0].Source)
	}
}

func TestSnapshotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrCreate(context.Background(), path, newFakeEmbedder()); err == nil {
		t.Fatal("corrupt snapshot must not load silently")
	}
}

func TestSnapshotAddEmbedFailureRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	emb := newFakeEmbedder()

	s, err := LoadOrCreate(context.Background(), path, emb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	emb.err = errors.New("embedding service down")
	if err := s.Add(context.Background(), []Document{{Text: "x", Source: "s"}}); err == nil {
		t.Fatal("expected error")
	}
	if s.Count() != 1 {
		t.Fatalf("failed add must not change the index, got %d records", s.Count())
	}
}

func TestSnapshotSearchClampsK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	s, err := LoadOrCreate(context.Background(), path, newFakeEmbedder())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hits, err := s.Search(context.Background(), "anything", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("k beyond the index size must clamp, got %d", len(hits))
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched dims", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotBatchAddKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	s, err := LoadOrCreate(context.Background(), path, newFakeEmbedder())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batch := make([]Document, 10)
	for i := range batch {
		batch[i] = Document{Text: fmt.Sprintf("문서 %d", i), Source: fmt.Sprintf("car-%d", i)}
	}
	if err := s.Add(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Embedding runs concurrently but records must land in input order.
	docs := s.Documents()[1:] // skip the bootstrap record
	for i, doc := range docs {
		if doc.Source != fmt.Sprintf("car-%d", i) {
			t.Fatalf("position %d: got %q", i, doc.Source)
		}
	}
}
