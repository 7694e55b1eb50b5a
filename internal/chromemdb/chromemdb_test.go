package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"archaeo-rag/internal/config"
	"archaeo-rag/internal/embedding"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testChunks(source string) []models.Chunk {
	texts := []string{
		"Equipment needed for field surveys: a GPS unit, total station, trowels, and context sheets.",
		"Magnetometry and ground penetrating radar reveal buried features without excavation.",
		"Pottery sherds are bagged by context and labelled with trench and locus numbers.",
		"Stratigraphy is recorded using the Harris matrix to show the sequence of deposits.",
		"Permits from the heritage authority are required before any excavation begins.",
	}
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s-%d", source, i+1),
			Content:    text,
			Source:     source,
			PageNumber: i/2 + 1,
			ChunkID:    i + 1,
			Start:      i * 100,
			End:        i*100 + len(text),
		}
	}
	return chunks
}

func newTestManager(t *testing.T) (*index.Manager, *VectorDBManager) {
	t.Helper()
	backend := NewVectorDBManager(&config.IndexConfig{
		Path:       filepath.Join(t.TempDir(), "vector_store"),
		Collection: config.DefaultCollection,
	})
	cfg := &config.LLMConfig{Provider: embedding.ProviderHash}
	return index.NewManager(backend, embedding.NewHashEmbedder(embedding.DefaultHashDimension), embedding.ModelTag(cfg)), backend
}

func TestBuildAndLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, backend := newTestManager(t)

	if backend.Exists(ctx) {
		t.Fatal("Expected no index before build")
	}
	built, err := mgr.Build(ctx, testChunks("survey.pdf"))
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if built.Count() != 5 {
		t.Errorf("Expected 5 chunks, got %d", built.Count())
	}
	if !backend.Exists(ctx) {
		t.Error("Expected index to exist after build")
	}

	// a fresh manager reads what the first one wrote
	other := index.NewManager(backend, embedding.NewHashEmbedder(embedding.DefaultHashDimension), mgr.ModelTag())
	loaded, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	question := "What equipment is needed for field surveys?"
	want, err := built.Query(ctx, question, 3)
	if err != nil {
		t.Fatalf("Query() on built index failed: %v", err)
	}
	got, err := loaded.Query(ctx, question, 3)
	if err != nil {
		t.Fatalf("Query() on loaded index failed: %v", err)
	}
	if len(got) != 3 || len(want) != 3 {
		t.Fatalf("Expected 3 results, got %d and %d", len(want), len(got))
	}
	for i := range got {
		if got[i].Chunk.ID != want[i].Chunk.ID {
			t.Errorf("Result %d differs after reload: %s vs %s", i, want[i].Chunk.ID, got[i].Chunk.ID)
		}
	}
	if got[0].Chunk.ID != "survey.pdf-1" {
		t.Errorf("Expected the equipment chunk first, got %s", got[0].Chunk.ID)
	}
	if got[0].Chunk.Source != "survey.pdf" || got[0].Chunk.PageNumber != 1 || got[0].Chunk.ChunkID != 1 {
		t.Errorf("Chunk metadata not preserved: %+v", got[0].Chunk)
	}
	if got[0].Chunk.Content == "" {
		t.Error("Expected chunk content to be preserved")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Errorf("Results not ordered by distance: %v then %v", got[i-1].Distance, got[i].Distance)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		mgr, _ := newTestManager(t)
		if _, err := mgr.Load(ctx); !errors.Is(err, index.ErrIndexNotFound) {
			t.Fatalf("Expected ErrIndexNotFound, got %v", err)
		}
	})

	t.Run("model mismatch", func(t *testing.T) {
		mgr, backend := newTestManager(t)
		if _, err := mgr.Build(ctx, testChunks("survey.pdf")); err != nil {
			t.Fatal(err)
		}
		other := index.NewManager(backend, embedding.NewHashEmbedder(embedding.DefaultHashDimension), "ollama:all-minilm")
		if _, err := other.Load(ctx); !errors.Is(err, index.ErrModelMismatch) {
			t.Fatalf("Expected ErrModelMismatch, got %v", err)
		}
	})

	t.Run("corrupt manifest", func(t *testing.T) {
		mgr, backend := newTestManager(t)
		if _, err := mgr.Build(ctx, testChunks("survey.pdf")); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(backend.Path(), manifestFile), []byte("model_tag: [broken"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := mgr.Load(ctx); !errors.Is(err, index.ErrIndexCorrupt) {
			t.Fatalf("Expected ErrIndexCorrupt, got %v", err)
		}
	})

	t.Run("missing collection", func(t *testing.T) {
		mgr, backend := newTestManager(t)
		if _, err := mgr.Build(ctx, testChunks("survey.pdf")); err != nil {
			t.Fatal(err)
		}
		entries, err := os.ReadDir(backend.Path())
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if e.IsDir() {
				if err := os.RemoveAll(filepath.Join(backend.Path(), e.Name())); err != nil {
					t.Fatal(err)
				}
			}
		}
		if _, err := mgr.Load(ctx); !errors.Is(err, index.ErrIndexCorrupt) {
			t.Fatalf("Expected ErrIndexCorrupt, got %v", err)
		}
	})
}

func TestBuild_ReplacesPreviousIndex(t *testing.T) {
	ctx := context.Background()
	mgr, backend := newTestManager(t)

	if _, err := mgr.Build(ctx, testChunks("first.pdf")); err != nil {
		t.Fatal(err)
	}
	idx, err := mgr.Build(ctx, testChunks("second.pdf")[:2])
	if err != nil {
		t.Fatal(err)
	}
	if idx.Count() != 2 {
		t.Errorf("Expected 2 chunks after rebuild, got %d", idx.Count())
	}
	if srcs := idx.Manifest().Sources; len(srcs) != 1 || srcs[0] != "second.pdf" {
		t.Errorf("Unexpected sources after rebuild: %v", srcs)
	}

	leftovers, err := filepath.Glob(backend.Path() + ".*")
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("Expected no temporary directories, found %v", leftovers)
	}
}

func TestBuild_Concurrent(t *testing.T) {
	ctx := context.Background()
	mgr, backend := newTestManager(t)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each writer goes straight to the backend so the swaps can race
			chunks := testChunks(fmt.Sprintf("doc-%d.pdf", i))
			items := make([]models.ChunkEmbedding, len(chunks))
			for j, c := range chunks {
				vec, _ := embedding.NewHashEmbedder(embedding.DefaultHashDimension).EmbedQuery(ctx, c.Content)
				items[j] = models.ChunkEmbedding{Chunk: c, Embedding: vec}
			}
			manifest := index.Manifest{ModelTag: mgr.ModelTag(), Dimension: embedding.DefaultHashDimension, ChunkCount: len(items), Sources: []string{chunks[0].Source}}
			errs <- backend.Write(ctx, manifest, items)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}

	idx, err := mgr.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after concurrent writes failed: %v", err)
	}
	source := idx.Manifest().Sources[0]
	results, err := idx.Query(ctx, "pottery sherds", 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Chunk.Source != source {
			t.Errorf("Index mixes documents: manifest %s, chunk from %s", source, r.Chunk.Source)
		}
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	mgr, backend := newTestManager(t)
	if _, err := mgr.Build(ctx, testChunks("survey.pdf")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "survey.gob.enc")
	if err := backend.Export(ctx, dst, testKey); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if _, err := os.Stat(dst + ".manifest.yaml"); err != nil {
		t.Fatalf("Expected manifest next to export: %v", err)
	}

	restored := NewVectorDBManager(&config.IndexConfig{
		Path:       filepath.Join(t.TempDir(), "restored"),
		Collection: config.DefaultCollection,
	})
	if err := restored.Import(ctx, dst, strings.Repeat("x", 32)); err == nil {
		t.Fatal("Expected import with the wrong key to fail")
	}
	if restored.Exists(ctx) {
		t.Fatal("Failed import must not leave an index behind")
	}
	if err := restored.Import(ctx, dst, testKey); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	other := index.NewManager(restored, embedding.NewHashEmbedder(embedding.DefaultHashDimension), mgr.ModelTag())
	idx, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after import failed: %v", err)
	}
	if idx.Count() != 5 {
		t.Errorf("Expected 5 chunks after import, got %d", idx.Count())
	}
}
