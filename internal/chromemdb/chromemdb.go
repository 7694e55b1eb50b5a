package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"archaeo-rag/internal/config"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/models"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const manifestFile = "manifest.yaml"

var errPrecomputed = errors.New("chunk embeddings must be computed before they are stored")

// noEmbed is installed as the collection embedding func; vectors always come from the
// index manager.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

// VectorDBManager stores the index as a chromem-go persistent database in a directory,
// next to a manifest file.
type VectorDBManager struct {
	mu         sync.Mutex
	dbPath     string
	collection string
	compress   bool
}

var _ index.Backend = (*VectorDBManager)(nil)

func NewVectorDBManager(cfg *config.IndexConfig) *VectorDBManager {
	return &VectorDBManager{
		dbPath:     filepath.Clean(cfg.Path),
		collection: cfg.Collection,
		compress:   cfg.Compress,
	}
}

func (m *VectorDBManager) Path() string { return m.dbPath }

// Write builds the collection in a sibling directory and swaps it into place.
func (m *VectorDBManager) Write(ctx context.Context, manifest index.Manifest, items []models.ChunkEmbedding) error {
	tmp := fmt.Sprintf("%s.building-%s", m.dbPath, uuid.NewString())
	if err := m.writeTo(ctx, tmp, manifest, items); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swap(tmp)
}

func (m *VectorDBManager) writeTo(ctx context.Context, dir string, manifest index.Manifest, items []models.ChunkEmbedding) error {
	db, err := chromem.NewPersistentDB(dir, m.compress)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	c, err := db.CreateCollection(m.collection, map[string]string{"model_tag": manifest.ModelTag}, noEmbed)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	docs := make([]chromem.Document, len(items))
	for i, item := range items {
		docs[i] = chromem.Document{
			ID:        item.ID,
			Content:   item.Content,
			Metadata:  chunkMetadata(item.Chunk),
			Embedding: item.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	return index.WriteManifest(filepath.Join(dir, manifestFile), manifest)
}

// swap replaces dbPath with dir. Callers hold m.mu.
func (m *VectorDBManager) swap(dir string) error {
	old := ""
	if _, err := os.Stat(m.dbPath); err == nil {
		old = fmt.Sprintf("%s.old-%s", m.dbPath, uuid.NewString())
		if err := os.Rename(m.dbPath, old); err != nil {
			_ = os.RemoveAll(dir)
			return fmt.Errorf("failed to move previous index aside: %w", err)
		}
	}
	if err := os.Rename(dir, m.dbPath); err != nil {
		if old != "" {
			_ = os.Rename(old, m.dbPath)
		}
		_ = os.RemoveAll(dir)
		return fmt.Errorf("failed to move new index into place: %w", err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("path", old).Msg("Failed to remove previous index")
		}
	}
	return nil
}

func (m *VectorDBManager) Exists(ctx context.Context) bool {
	_, err := os.Stat(filepath.Join(m.dbPath, manifestFile))
	return err == nil
}

// Open loads the persisted collection into memory.
func (m *VectorDBManager) Open(ctx context.Context) (index.Store, index.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// NewPersistentDB creates missing directories, so look for the manifest first
	manifest, err := index.ReadManifest(filepath.Join(m.dbPath, manifestFile))
	if err != nil {
		return nil, manifest, err
	}

	db, err := chromem.NewPersistentDB(m.dbPath, m.compress)
	if err != nil {
		return nil, manifest, fmt.Errorf("%w: %w", index.ErrIndexCorrupt, err)
	}
	c := db.GetCollection(m.collection, noEmbed)
	if c == nil {
		return nil, manifest, fmt.Errorf("%w: collection %q missing", index.ErrIndexCorrupt, m.collection)
	}
	if c.Count() != manifest.ChunkCount {
		return nil, manifest, fmt.Errorf("%w: manifest lists %d chunks, collection has %d", index.ErrIndexCorrupt, manifest.ChunkCount, c.Count())
	}

	log.Debug().Str("path", m.dbPath).Int("chunks", c.Count()).Msg("Vector index opened")
	return &collectionStore{collection: c}, manifest, nil
}

// Export writes an encrypted copy of the collection to dst with the manifest beside it.
func (m *VectorDBManager) Export(ctx context.Context, dst, encryptionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := index.ReadManifest(filepath.Join(m.dbPath, manifestFile))
	if err != nil {
		return err
	}
	db, err := chromem.NewPersistentDB(m.dbPath, m.compress)
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrIndexCorrupt, err)
	}
	if err := db.ExportToFile(dst, m.compress, encryptionKey, m.collection); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	if err := index.WriteManifest(dst+".manifest.yaml", manifest); err != nil {
		return err
	}
	log.Info().Str("file", dst).Int("chunks", manifest.ChunkCount).Msg("Vector index exported")
	return nil
}

// Import restores an export made by Export, replacing the current index.
func (m *VectorDBManager) Import(ctx context.Context, src, encryptionKey string) error {
	manifest, err := index.ReadManifest(src + ".manifest.yaml")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.building-%s", m.dbPath, uuid.NewString())
	fail := func(err error) error {
		_ = os.RemoveAll(tmp)
		return err
	}
	db, err := chromem.NewPersistentDB(tmp, m.compress)
	if err != nil {
		return fail(fmt.Errorf("failed to create database: %w", err))
	}
	if err := db.ImportFromFile(src, encryptionKey, m.collection); err != nil {
		return fail(fmt.Errorf("%w: %w", index.ErrIndexCorrupt, err))
	}
	if c := db.GetCollection(m.collection, noEmbed); c == nil || c.Count() != manifest.ChunkCount {
		return fail(fmt.Errorf("%w: export does not contain collection %q with %d chunks", index.ErrIndexCorrupt, m.collection, manifest.ChunkCount))
	}
	if err := index.WriteManifest(filepath.Join(tmp, manifestFile), manifest); err != nil {
		return fail(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.swap(tmp); err != nil {
		return err
	}
	log.Info().Str("file", src).Int("chunks", manifest.ChunkCount).Msg("Vector index imported")
	return nil
}

type collectionStore struct {
	collection *chromem.Collection
}

func (s *collectionStore) Count() int { return s.collection.Count() }

func (s *collectionStore) Search(ctx context.Context, vec []float32, k int) ([]models.SearchResult, error) {
	if n := s.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	res, err := s.collection.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(res))
	for _, r := range res {
		chunk := chunkFromMetadata(r.Metadata)
		chunk.ID = r.ID
		chunk.Content = r.Content
		score := float64(r.Similarity)
		results = append(results, models.SearchResult{Chunk: chunk, Score: score, Distance: 1 - score})
	}
	return results, nil
}

func chunkMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		"source":      c.Source,
		"page_number": strconv.Itoa(c.PageNumber),
		"chunk_id":    strconv.Itoa(c.ChunkID),
		"start":       strconv.Itoa(c.Start),
		"end":         strconv.Itoa(c.End),
	}
}

func chunkFromMetadata(meta map[string]string) models.Chunk {
	atoi := func(key string) int {
		v, _ := strconv.Atoi(meta[key])
		return v
	}
	return models.Chunk{
		Source:     meta["source"],
		PageNumber: atoi("page_number"),
		ChunkID:    atoi("chunk_id"),
		Start:      atoi("start"),
		End:        atoi("end"),
	}
}
