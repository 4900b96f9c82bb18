package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pdf-rag/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// Embedder computes the vectors stored in and queried against the table.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	PageNumber    int             `bun:"page_number,notnull"`
	ChunkID       int             `bun:"chunk_id,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Store keeps chunks in a Postgres table with a pgvector column and ranks them by
// cosine distance.
type Store struct {
	db       *bun.DB
	table    string
	embedder Embedder
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

// Open connects to dsn and makes sure the vector extension and the chunk table exist.
func Open(ctx context.Context, dsn, table string, debug bool, embedder Embedder) (*Store, error) {
	if table == "" {
		table = "documents"
	}
	s := &Store{
		db:       NewDB(ConnectDB(dsn), debug),
		table:    table,
		embedder: embedder,
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("%w: failed to connect to database: %w", models.ErrStore, err)
	}
	if err := s.Init(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the vector extension and the chunk table when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: failed to create vector extension: %w", models.ErrStore, err)
	}
	_, err := s.db.NewCreateTable().
		Model((*Document)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to create table %s: %w", models.ErrStore, s.table, err)
	}
	return nil
}

// Write embeds and inserts chunks in one statement. Rows are never updated, so writing
// the same content twice stores it twice.
func (s *Store) Write(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return models.WithKind(models.ErrStore, err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrStore, len(vecs), len(chunks))
	}

	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = Document{
			Content:    c.Content,
			Source:     c.Source,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
			Embedding:  pgvector.NewVector(vecs[i]),
		}
	}

	_, err = s.db.NewInsert().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to insert chunks: %w", models.ErrStore, err)
	}
	log.Debug().Int("chunks", len(docs)).Str("table", s.table).Msg("Stored chunks")
	return nil
}

// Retrieve returns up to k chunks ordered by increasing cosine distance to query. Rows
// at equal distance come back in insertion order.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrValidation, k)
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, models.WithKind(models.ErrStore, err)
	}

	var docs []Document
	err = s.db.NewSelect().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("id", "content", "source", "page_number", "chunk_id").
		OrderExpr("embedding <=> ?", pgvector.NewVector(vec)).
		OrderExpr("id ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search chunks: %w", models.ErrStore, err)
	}

	chunks := make([]models.Chunk, 0, len(docs))
	for _, d := range docs {
		c := models.Chunk{
			Content:    d.Content,
			Source:     d.Source,
			PageNumber: d.PageNumber,
			ChunkID:    d.ChunkID,
		}
		if c.Source == "" {
			c.Source = models.UnknownSource
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().
		Model((*Document)(nil)).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count chunks: %w", models.ErrStore, err)
	}
	return n, nil
}

// Drop removes the chunk table.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.db.NewDropTable().
		Model((*Document)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to drop table %s: %w", models.ErrStore, s.table, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
