package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"archaeo-rag/internal/embedding"
	"archaeo-rag/internal/models"
)

// memBackend keeps the index in memory and scores with a plain dot product.
type memBackend struct {
	manifest *Manifest
	items    []models.ChunkEmbedding
	writes   int
}

func (b *memBackend) Write(ctx context.Context, manifest Manifest, items []models.ChunkEmbedding) error {
	b.writes++
	b.manifest = &manifest
	b.items = items
	return nil
}

func (b *memBackend) Open(ctx context.Context) (Store, Manifest, error) {
	if b.manifest == nil {
		return nil, Manifest{}, ErrIndexNotFound
	}
	return &memStore{items: b.items}, *b.manifest, nil
}

func (b *memBackend) Exists(ctx context.Context) bool { return b.manifest != nil }

type memStore struct {
	items []models.ChunkEmbedding
}

func (s *memStore) Count() int { return len(s.items) }

func (s *memStore) Search(ctx context.Context, vec []float32, k int) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0, len(s.items))
	for _, item := range s.items {
		var dot float64
		for i := range vec {
			dot += float64(vec[i]) * float64(item.Embedding[i])
		}
		results = append(results, models.SearchResult{Chunk: item.Chunk, Score: dot, Distance: 1 - dot})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func chunks(n int) []models.Chunk {
	topics := []string{
		"survey grid laid out with a total station",
		"pottery sherds from the topsoil",
		"charcoal sample for radiocarbon dating",
		"posthole cut into the natural clay",
		"flint scatter on the ridge",
		"mortar sample from the wall foundation",
	}
	out := make([]models.Chunk, n)
	for i := range out {
		out[i] = models.Chunk{
			ID:      fmt.Sprintf("report.pdf-%d", i+1),
			Content: topics[i%len(topics)],
			Source:  "report.pdf",
			ChunkID: i + 1,
		}
	}
	return out
}

func TestManager_BuildAndQuery(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	mgr := NewManager(backend, embedding.NewHashEmbedder(64), "hash:fnv-64")

	if mgr.Current() != nil {
		t.Fatal("Expected no current index before build")
	}
	idx, err := mgr.Build(ctx, chunks(6))
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if mgr.Current() != idx {
		t.Error("Expected built index to become current")
	}

	m := idx.Manifest()
	if m.ModelTag != "hash:fnv-64" || m.Dimension != 64 || m.ChunkCount != 6 {
		t.Errorf("Unexpected manifest: %+v", m)
	}
	if len(m.Sources) != 1 || m.Sources[0] != "report.pdf" {
		t.Errorf("Unexpected sources: %v", m.Sources)
	}

	results, err := idx.Query(ctx, "radiocarbon dating of charcoal", 0)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("Expected default of 4 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "report.pdf-3" {
		t.Errorf("Expected charcoal chunk first, got %s", results[0].Chunk.ID)
	}

	again, err := idx.Query(ctx, "radiocarbon dating of charcoal", 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range results {
		if results[i].Chunk.ID != again[i].Chunk.ID || results[i].Score != again[i].Score {
			t.Errorf("Query is not deterministic at %d", i)
		}
	}
}

func TestIndex_QueryClampsK(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(&memBackend{}, embedding.NewHashEmbedder(32), "hash:fnv-32")
	idx, err := mgr.Build(ctx, chunks(2))
	if err != nil {
		t.Fatal(err)
	}

	results, err := idx.Query(ctx, "flint", 10)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected k clamped to 2, got %d", len(results))
	}
}

func TestManager_Errors(t *testing.T) {
	ctx := context.Background()

	mgr := NewManager(&memBackend{}, embedding.NewHashEmbedder(32), "hash:fnv-32")
	if _, err := mgr.Build(ctx, nil); !errors.Is(err, ErrNoChunks) {
		t.Errorf("Expected ErrNoChunks, got %v", err)
	}
	if _, err := mgr.Load(ctx); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Expected ErrIndexNotFound, got %v", err)
	}

	backend := &memBackend{}
	broken := NewManager(backend, failingEmbedder{}, "ollama:all-minilm")
	if _, err := broken.Build(ctx, chunks(3)); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("Expected ErrEmbeddingUnavailable, got %v", err)
	}
	if backend.writes != 0 {
		t.Errorf("Expected no write after embedding failure, got %d", backend.writes)
	}

	good := NewManager(backend, embedding.NewHashEmbedder(32), "hash:fnv-32")
	if _, err := good.Build(ctx, chunks(3)); err != nil {
		t.Fatal(err)
	}
	mismatched := NewManager(backend, embedding.NewHashEmbedder(32), "ollama:all-minilm")
	if _, err := mismatched.Load(ctx); !errors.Is(err, ErrModelMismatch) {
		t.Errorf("Expected ErrModelMismatch, got %v", err)
	}

	// same tag but the query embedder returns a different dimension
	idx := &Index{store: &memStore{items: backend.items}, manifest: *backend.manifest, embedder: embedding.NewHashEmbedder(16)}
	if _, err := idx.Query(ctx, "flint", 2); !errors.Is(err, ErrModelMismatch) {
		t.Errorf("Expected ErrModelMismatch on dimension change, got %v", err)
	}

	idx = &Index{store: &memStore{items: backend.items}, manifest: *backend.manifest, embedder: failingEmbedder{}}
	if _, err := idx.Query(ctx, "flint", 2); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("Expected ErrEmbeddingUnavailable on query, got %v", err)
	}
}

func TestManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")

	if _, err := ReadManifest(path); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("Expected ErrIndexNotFound, got %v", err)
	}

	want := Manifest{
		ModelTag:   "ollama:all-minilm",
		Dimension:  384,
		ChunkCount: 12,
		Sources:    []string{"survey.pdf"},
		CreatedAt:  time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}
	if err := WriteManifest(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest() failed: %v", err)
	}
	if got.ModelTag != want.ModelTag || got.Dimension != want.Dimension || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("ReadManifest() = %+v, want %+v", got, want)
	}
}
