package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"archaeo-rag/internal/config"
	"archaeo-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"gopkg.in/yaml.v3"
)

var (
	ErrIndexNotFound        = errors.New("vector index not found")
	ErrIndexCorrupt         = errors.New("vector index is corrupt")
	ErrModelMismatch        = errors.New("vector index was built with a different embedding model")
	ErrEmbeddingUnavailable = errors.New("embedding model unavailable")
	ErrNoChunks             = errors.New("no chunks to index")
)

// Manifest describes a persisted index. ModelTag must match the embedder used for queries.
type Manifest struct {
	ModelTag   string    `yaml:"model_tag" json:"model_tag"`
	Dimension  int       `yaml:"dimension" json:"dimension"`
	ChunkCount int       `yaml:"chunk_count" json:"chunk_count"`
	Sources    []string  `yaml:"sources" json:"sources"`
	CreatedAt  time.Time `yaml:"created_at" json:"created_at"`
}

// Store is a read-only view over persisted chunk vectors.
type Store interface {
	Search(ctx context.Context, vec []float32, k int) ([]models.SearchResult, error)
	Count() int
}

// Backend persists an index. Write replaces whatever was stored before.
type Backend interface {
	Write(ctx context.Context, manifest Manifest, items []models.ChunkEmbedding) error
	Open(ctx context.Context) (Store, Manifest, error)
	Exists(ctx context.Context) bool
}

// Index is a loaded, queryable index.
type Index struct {
	store    Store
	manifest Manifest
	embedder embeddings.Embedder
}

func (i *Index) Manifest() Manifest { return i.manifest }

func (i *Index) Count() int { return i.store.Count() }

// Query returns the k chunks closest to question, most relevant first. k <= 0 uses the
// default and k larger than the index is clamped.
func (i *Index) Query(ctx context.Context, question string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = config.DefaultTopK
	}
	if n := i.store.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	vec, err := i.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if i.manifest.Dimension > 0 && len(vec) != i.manifest.Dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index has %d", ErrModelMismatch, len(vec), i.manifest.Dimension)
	}

	results, err := i.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Distance != results[b].Distance {
			return results[a].Distance < results[b].Distance
		}
		return results[a].Chunk.ID < results[b].Chunk.ID
	})
	return results, nil
}

// Manager builds and loads the index and holds the current one for all sessions.
type Manager struct {
	backend  Backend
	embedder embeddings.Embedder
	modelTag string

	buildMu sync.Mutex
	mu      sync.RWMutex
	current *Index
}

func NewManager(backend Backend, embedder embeddings.Embedder, modelTag string) *Manager {
	return &Manager{backend: backend, embedder: embedder, modelTag: modelTag}
}

func (m *Manager) ModelTag() string { return m.modelTag }

// Build embeds chunks, replaces the persisted index and loads the result.
func (m *Manager) Build(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	start := time.Now()
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}

	dim := len(vectors[0])
	items := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: chunk %s has a %d-dimensional vector, expected %d", ErrEmbeddingUnavailable, c.ID, len(vectors[i]), dim)
		}
		items[i] = models.ChunkEmbedding{Chunk: c, Embedding: vectors[i]}
	}
	log.Debug().Int("chunks", len(chunks)).Dur("took", time.Since(start)).Msg("Chunks embedded")

	manifest := Manifest{
		ModelTag:   m.modelTag,
		Dimension:  dim,
		ChunkCount: len(chunks),
		Sources:    sources(chunks),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.backend.Write(ctx, manifest, items); err != nil {
		return nil, fmt.Errorf("failed to write index: %w", err)
	}
	log.Info().Int("chunks", len(chunks)).Str("model", m.modelTag).Msg("Vector index built")

	return m.Load(ctx)
}

// Load opens the persisted index and makes it current.
func (m *Manager) Load(ctx context.Context) (*Index, error) {
	store, manifest, err := m.backend.Open(ctx)
	if err != nil {
		return nil, err
	}
	if manifest.ModelTag != m.modelTag {
		return nil, fmt.Errorf("%w: index uses %q, configured model is %q", ErrModelMismatch, manifest.ModelTag, m.modelTag)
	}

	idx := &Index{store: store, manifest: manifest, embedder: m.embedder}
	m.mu.Lock()
	m.current = idx
	m.mu.Unlock()
	return idx, nil
}

func (m *Manager) Exists(ctx context.Context) bool {
	return m.backend.Exists(ctx)
}

// Current returns the last built or loaded index, or nil.
func (m *Manager) Current() *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func sources(chunks []models.Chunk) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chunks {
		if c.Source != "" && !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	return out
}

// ReadManifest loads a manifest file. A missing file is ErrIndexNotFound, an
// undecodable one ErrIndexCorrupt.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return m, fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: manifest: %w", ErrIndexCorrupt, err)
	}
	if m.ModelTag == "" {
		return m, fmt.Errorf("%w: manifest has no model tag", ErrIndexCorrupt)
	}
	return m, nil
}

func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
