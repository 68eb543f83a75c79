package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"

	"github.com/tmc/langchaingo/embeddings"
)

const defaultBatchSize = 32

// NewEmbedder creates the embedder selected by llmConfig.Provider.
func NewEmbedder(ctx context.Context, llmConfig *config.LLMConfig, batchSize int) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		llm, err := llmservice.NewOpenAI(llmConfig, true)
		if err != nil {
			return nil, err
		}
		client = llm
	case config.ProviderOllama:
		llm, err := llmservice.NewOllama(llmConfig)
		if err != nil {
			return nil, err
		}
		client = llm
	case config.ProviderGemini:
		g, err := NewGeminiEmbedder(ctx, llmConfig, batchSize)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", llmConfig.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return embedder, nil
}

// GenerateEmbedding embeds every chunk in one batched call. texts, when not
// nil, replaces the content that gets embedded for the chunk at the same index.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk, texts []string) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}
	if texts == nil {
		texts = make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
	}
	if len(texts) != len(chunks) {
		return nil, fmt.Errorf("got %d texts for %d chunks", len(texts), len(chunks))
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, len(chunks))
	for i, chunk := range chunks {
		chunkEmbeddings[i] = models.ChunkEmbedding{
			Chunk:           chunk,
			EmbeddedContent: texts[i],
			Embedding:       vectors[i],
		}
	}
	log.Debug().Int("chunks", len(chunks)).Int("dims", len(vectors[0])).Msg("Generated embeddings")
	return chunkEmbeddings, nil
}

// Unavailable is an embedder whose every call fails with Err.
type Unavailable struct {
	Err error
}

func (u Unavailable) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, u.Err
}

func (u Unavailable) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, u.Err
}
