package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"archaeo-rag/internal/config"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type Chunk struct {
	bun.BaseModel `bun:"table:survey_chunks,alias:c"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Collection    string          `bun:"collection,notnull"`
	ChunkKey      string          `bun:"chunk_key,notnull"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source"`
	PageNumber    int             `bun:"page_number"`
	ChunkID       int             `bun:"chunk_id"`
	StartOffset   int             `bun:"start_offset"`
	EndOffset     int             `bun:"end_offset"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Distance      float64         `bun:"distance,scanonly"`
}

type IndexManifest struct {
	bun.BaseModel `bun:"table:survey_index_manifests,alias:m"`
	Collection    string    `bun:"collection,pk"`
	ModelTag      string    `bun:"model_tag,notnull"`
	Dimension     int       `bun:"dimension"`
	ChunkCount    int       `bun:"chunk_count"`
	Sources       []string  `bun:"sources,array"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	for _, model := range []interface{}{(*Chunk)(nil), (*IndexManifest)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// PGVectorStore keeps the index in Postgres. Rebuilds run in a single transaction, so
// readers see either the old or the new index.
type PGVectorStore struct {
	db         *bun.DB
	collection string
}

var _ index.Backend = (*PGVectorStore)(nil)

func NewPGVectorStore(db *bun.DB, collection string) *PGVectorStore {
	return &PGVectorStore{db: db, collection: collection}
}

func (s *PGVectorStore) Write(ctx context.Context, manifest index.Manifest, items []models.ChunkEmbedding) error {
	rows := make([]Chunk, len(items))
	for i, item := range items {
		rows[i] = Chunk{
			Collection:  s.collection,
			ChunkKey:    item.ID,
			Content:     item.Content,
			Source:      item.Source,
			PageNumber:  item.PageNumber,
			ChunkID:     item.ChunkID,
			StartOffset: item.Start,
			EndOffset:   item.End,
			Embedding:   pgvector.NewVector(item.Embedding),
		}
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("collection = ?", s.collection).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
		}
		m := &IndexManifest{
			Collection: s.collection,
			ModelTag:   manifest.ModelTag,
			Dimension:  manifest.Dimension,
			ChunkCount: manifest.ChunkCount,
			Sources:    manifest.Sources,
			CreatedAt:  manifest.CreatedAt,
		}
		_, err := tx.NewInsert().Model(m).
			On("CONFLICT (collection) DO UPDATE").
			Set("model_tag = EXCLUDED.model_tag").
			Set("dimension = EXCLUDED.dimension").
			Set("chunk_count = EXCLUDED.chunk_count").
			Set("sources = EXCLUDED.sources").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to store manifest: %w", err)
		}
		log.Debug().Str("collection", s.collection).Int("chunks", len(rows)).Msg("Chunks stored in postgres")
		return nil
	})
}

func (s *PGVectorStore) Open(ctx context.Context) (index.Store, index.Manifest, error) {
	var m IndexManifest
	err := s.db.NewSelect().Model(&m).Where("collection = ?", s.collection).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, index.Manifest{}, fmt.Errorf("%w: collection %q", index.ErrIndexNotFound, s.collection)
	}
	if err != nil {
		return nil, index.Manifest{}, fmt.Errorf("%w: %w", index.ErrIndexCorrupt, err)
	}

	manifest := index.Manifest{
		ModelTag:   m.ModelTag,
		Dimension:  m.Dimension,
		ChunkCount: m.ChunkCount,
		Sources:    m.Sources,
		CreatedAt:  m.CreatedAt,
	}
	count, err := s.db.NewSelect().Model((*Chunk)(nil)).Where("collection = ?", s.collection).Count(ctx)
	if err != nil {
		return nil, manifest, fmt.Errorf("%w: %w", index.ErrIndexCorrupt, err)
	}
	if count != m.ChunkCount {
		return nil, manifest, fmt.Errorf("%w: manifest lists %d chunks, table has %d", index.ErrIndexCorrupt, m.ChunkCount, count)
	}
	return &pgStore{db: s.db, collection: s.collection, count: count}, manifest, nil
}

func (s *PGVectorStore) Exists(ctx context.Context) bool {
	exists, err := s.db.NewSelect().Model((*IndexManifest)(nil)).Where("collection = ?", s.collection).Exists(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check for index manifest")
		return false
	}
	return exists
}

// DropTables removes both tables.
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*Chunk)(nil), (*IndexManifest)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

type pgStore struct {
	db         *bun.DB
	collection string
	count      int
}

func (s *pgStore) Count() int { return s.count }

func (s *pgStore) Search(ctx context.Context, vec []float32, k int) ([]models.SearchResult, error) {
	query := pgvector.NewVector(vec)

	var rows []Chunk
	err := s.db.NewSelect().
		Model(&rows).
		Column("chunk_key", "content", "source", "page_number", "chunk_id", "start_offset", "end_offset").
		ColumnExpr("embedding <=> ? AS distance", query).
		Where("collection = ?", s.collection).
		OrderExpr("embedding <=> ?", query).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		results[i] = models.SearchResult{
			Chunk: models.Chunk{
				ID:         r.ChunkKey,
				Content:    r.Content,
				Source:     r.Source,
				PageNumber: r.PageNumber,
				ChunkID:    r.ChunkID,
				Start:      r.StartOffset,
				End:        r.EndOffset,
			},
			Score:    1 - r.Distance,
			Distance: r.Distance,
		}
	}
	return results, nil
}
