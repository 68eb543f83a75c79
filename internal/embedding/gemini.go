package embedding

import (
	"context"
	"fmt"

	"document-qa/internal/config"
	"document-qa/internal/llmservice"

	"github.com/tmc/langchaingo/embeddings"
	genai "google.golang.org/genai"
)

// GeminiEmbedder implements embeddings.Embedder on the genai EmbedContent API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	batchSize int
}

var _ embeddings.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, llmConfig *config.LLMConfig, batchSize int) (*GeminiEmbedder, error) {
	client, err := llmservice.NewGenAIClient(ctx, llmConfig)
	if err != nil {
		return nil, err
	}
	model := llmConfig.Model
	if model == "" {
		model = "text-embedding-004"
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &GeminiEmbedder{client: client, model: model, batchSize: batchSize}, nil
}

func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, batch := range embeddings.BatchTexts(texts, g.batchSize) {
		contents := make([]*genai.Content, len(batch))
		for i, t := range batch {
			contents[i] = genai.NewContentFromText(t, genai.RoleUser)
		}
		res, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("gemini embed: %w", err)
		}
		if len(res.Embeddings) != len(batch) {
			return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(res.Embeddings), len(batch))
		}
		for _, e := range res.Embeddings {
			vectors = append(vectors, e.Values)
		}
	}
	return vectors, nil
}

func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
