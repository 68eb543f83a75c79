package main

import (
	"context"
	"errors"
	"fmt"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/rag"
	"document-qa/internal/session"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/uptrace/bun"
)

// exportCollection is the collection name inside exported index files.
const exportCollection = "docqa"

// services holds the model clients and index backend shared by the commands.
type services struct {
	embedder embeddings.Embedder
	llm      llms.Model
	newIndex session.IndexFactory
	closers  []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

// newServices wires the configured providers. With lenient set, a missing API
// key does not fail startup; the affected calls fail instead.
func newServices(ctx context.Context, cfg *config.Config, needLLM, lenient bool) (*services, error) {
	return newServicesWithReset(ctx, cfg, needLLM, lenient, false)
}

// newServicesWithReset drops the pgvector table first when resetDB is set.
func newServicesWithReset(ctx context.Context, cfg *config.Config, needLLM, lenient, resetDB bool) (*services, error) {
	s := &services{}

	embedder, err := embedding.NewEmbedder(ctx, &cfg.EmbedLLM, cfg.RAG.BatchSize)
	if err != nil {
		if !lenient || !errors.Is(err, llmservice.ErrMissingAPIKey) {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		log.Warn().Err(err).Msg("Embedding provider unavailable")
		embedder = embedding.Unavailable{Err: err}
	}
	s.embedder = embedder

	if needLLM {
		llm, err := llmservice.NewLLM(ctx, &cfg.LLM)
		if err != nil {
			if !lenient || !errors.Is(err, llmservice.ErrMissingAPIKey) {
				return nil, fmt.Errorf("create llm: %w", err)
			}
			log.Warn().Err(err).Msg("LLM provider unavailable")
			llm = llmservice.Unavailable{Err: err}
		}
		s.llm = llm
	}

	switch cfg.VectorStore.Type {
	case config.StorePGVector:
		bunDB, err := openPostgres(ctx, &cfg.Database, resetDB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, bunDB.Close)
		s.newIndex = func(ctx context.Context, sessionID string) (rag.Index, error) {
			return db.NewIndex(bunDB, sessionID), nil
		}
	default:
		if err := chromemIndexes(cfg, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func chromemIndexes(cfg *config.Config, s *services) error {
	if cfg.VectorStore.Path != "" {
		if err := helper.CreateFolder(cfg.VectorStore.Path); err != nil {
			return err
		}
	}
	vdb, err := chromemdb.OpenDB(cfg.VectorStore.Path, cfg.VectorStore.Compress)
	if err != nil {
		return err
	}
	s.newIndex = func(ctx context.Context, sessionID string) (rag.Index, error) {
		m, err := chromemdb.NewVectorDBManager(vdb, "session-"+sessionID, cfg.VectorStore.Compress, cfg.RAG.EncryptionKey)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig, reset bool) (*bun.DB, error) {
	sqldb, err := db.ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	bunDB := db.NewDB(sqldb, cfg.Debug)
	if reset {
		if err := db.DropDocuments(ctx, bunDB); err != nil {
			bunDB.Close()
			return nil, fmt.Errorf("clear documents: %w", err)
		}
	}
	if err := db.InitDB(ctx, bunDB); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("Connected to pgvector")
	return bunDB, nil
}
