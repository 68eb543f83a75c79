package embedding

import (
	"context"
	"errors"
	"testing"

	"document-qa/internal/config"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEmbedding(t *testing.T) {
	ctx := context.Background()
	emb := &testutil.HashEmbedder{}
	chunks := []models.Chunk{
		{ChunkID: 1, Content: "alpha beta", Offset: 0},
		{ChunkID: 2, Content: "gamma delta", Offset: 11},
	}

	out, err := GenerateEmbedding(ctx, emb, chunks, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, 1, emb.Calls)
	assert.Equal(t, chunks[1], out[1].Chunk)
	assert.Equal(t, "gamma delta", out[1].EmbeddedContent)
	assert.Equal(t, testutil.HashVector("gamma delta"), out[1].Embedding)
}

func TestGenerateEmbeddingWithContextTexts(t *testing.T) {
	ctx := context.Background()
	chunks := []models.Chunk{{ChunkID: 1, Content: "revenue grew"}}
	texts := []string{"Q3 report" + models.ContextSeparator + "revenue grew"}

	out, err := GenerateEmbedding(ctx, &testutil.HashEmbedder{}, chunks, texts)
	require.NoError(t, err)
	assert.Equal(t, "revenue grew", out[0].Content)
	assert.Equal(t, texts[0], out[0].EmbeddedContent)

	_, err = GenerateEmbedding(ctx, &testutil.HashEmbedder{}, chunks, []string{"a", "b"})
	assert.Error(t, err)
}

func TestGenerateEmbeddingEmptyAndError(t *testing.T) {
	ctx := context.Background()

	out, err := GenerateEmbedding(ctx, &testutil.HashEmbedder{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	boom := errors.New("connection refused")
	_, err = GenerateEmbedding(ctx, &testutil.HashEmbedder{Err: boom}, []models.Chunk{{ChunkID: 1, Content: "x"}}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	emb, err := NewEmbedder(ctx, &config.LLMConfig{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "all-minilm"}, 0)
	require.NoError(t, err)
	assert.NotNil(t, emb)

	_, err = NewEmbedder(ctx, &config.LLMConfig{Provider: config.ProviderGemini}, 8)
	assert.ErrorIs(t, err, llmservice.ErrMissingAPIKey)

	_, err = NewEmbedder(ctx, &config.LLMConfig{Provider: "faiss"}, 8)
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	u := Unavailable{Err: llmservice.ErrMissingAPIKey}
	_, err := GenerateEmbedding(context.Background(), u, []models.Chunk{{ChunkID: 1, Content: "x"}}, nil)
	assert.ErrorIs(t, err, llmservice.ErrMissingAPIKey)
	_, err = u.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, llmservice.ErrMissingAPIKey)
}
