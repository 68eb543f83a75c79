package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/models"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     string    `bun:"session_id,notnull"`
	ChunkID       int       `bun:"chunk_id,notnull"`
	ChunkOffset   int       `bun:"chunk_offset,notnull"`
	Content       string    `bun:"content,notnull"`
	Embedding     Vector    `bun:"embedding,notnull,type:vector"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	Distance      float64   `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens Postgres with the bun pgdriver, or lib/pq when driver is "pq".
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Driver == "pq" {
		return sql.Open("postgres", cfg.DSN)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// InitDB enables pgvector and creates the documents table.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("documents_session_idx").
		Column("session_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// drop table documents
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

// Index is the per-session pgvector similarity index.
type Index struct {
	db        *bun.DB
	sessionID string
}

func NewIndex(db *bun.DB, sessionID string) *Index {
	return &Index{db: db, sessionID: sessionID}
}

func (x *Index) Reset(ctx context.Context) error {
	_, err := x.db.NewDelete().Model((*Document)(nil)).Where("session_id = ?", x.sessionID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear session documents: %w", err)
	}
	return nil
}

func (x *Index) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := ToDocuments(x.sessionID, chunks)
	if _, err := x.db.NewInsert().Model(&docs).Exec(ctx); err != nil {
		return fmt.Errorf("store documents: %w", err)
	}
	log.Debug().Str("session", x.sessionID).Int("docs", len(docs)).Msg("Stored documents")
	return nil
}

// Search orders the session's chunks by cosine distance to query.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]models.Source, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if k <= 0 {
		return nil, nil
	}
	var docs []Document
	err := x.db.NewSelect().
		Model(&docs).
		Column("chunk_id", "content").
		ColumnExpr("embedding <=> ? AS distance", Vector(query)).
		Where("session_id = ?", x.sessionID).
		OrderExpr("distance").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return ToSources(docs), nil
}

func (x *Index) Close(ctx context.Context) error {
	return x.Reset(ctx)
}

func ToDocuments(sessionID string, chunks []models.ChunkEmbedding) []Document {
	docs := make([]Document, len(chunks))
	for i, ce := range chunks {
		docs[i] = Document{
			SessionID:   sessionID,
			ChunkID:     ce.ChunkID,
			ChunkOffset: ce.Offset,
			Content:     ce.Content,
			Embedding:   Vector(ce.Embedding),
		}
	}
	return docs
}

// ToSources converts cosine distance to a similarity score.
func ToSources(docs []Document) []models.Source {
	sources := make([]models.Source, len(docs))
	for i, d := range docs {
		sources[i] = models.Source{ChunkID: d.ChunkID, Content: d.Content, Score: float32(1 - d.Distance)}
	}
	return sources
}
