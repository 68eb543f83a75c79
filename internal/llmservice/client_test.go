package llmservice

import (
	"context"
	"testing"

	"document-qa/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	genai "google.golang.org/genai"
)

func TestNewLLMMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	ctx := context.Background()

	_, err := NewLLM(ctx, &config.LLMConfig{Provider: config.ProviderOpenAI, KeyEnv: "GROQ_API_KEY", Model: "llama3-70b-8192"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "GROQ_API_KEY")

	_, err = NewLLM(ctx, &config.LLMConfig{Provider: config.ProviderGemini})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
}

func TestNewLLMProviders(t *testing.T) {
	ctx := context.Background()

	llm, err := NewLLM(ctx, &config.LLMConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  "https://api.groq.com/openai/v1",
		Key:      "Bearer gsk-test",
		Model:    "llama3-70b-8192",
	})
	require.NoError(t, err)
	assert.NotNil(t, llm)

	llm, err = NewLLM(ctx, &config.LLMConfig{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, llm)

	_, err = NewLLM(ctx, &config.LLMConfig{Provider: "bedrock"})
	assert.Error(t, err)
}

func TestToGenAIContents(t *testing.T) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be brief"),
		llms.TextParts(llms.ChatMessageTypeHuman, "what is ", "RAG?"),
		llms.TextParts(llms.ChatMessageTypeAI, "retrieval augmented generation"),
		{Role: llms.ChatMessageTypeHuman},
		llms.TextParts(llms.ChatMessageTypeSystem, "cite sources"),
	}

	contents, system := toGenAIContents(messages)

	assert.Equal(t, "be brief\ncite sources", system)
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, "what is \nRAG?", contents[0].Parts[0].Text)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "retrieval augmented generation", contents[1].Parts[0].Text)
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	u := Unavailable{Err: ErrMissingAPIKey}
	_, err := llms.GenerateFromSinglePrompt(ctx, u, "hi")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = u.Call(ctx, "hi")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

type optionRecorder struct {
	opts llms.CallOptions
}

func (r *optionRecorder) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	r.opts = llms.CallOptions{}
	for _, opt := range options {
		opt(&r.opts)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func (r *optionRecorder) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, r, prompt, options...)
}

func TestWithDefaultOptions(t *testing.T) {
	ctx := context.Background()
	rec := &optionRecorder{}
	llm := WithDefaultOptions(rec, llms.WithTemperature(0.2), llms.WithMaxTokens(64))

	out, err := llms.GenerateFromSinglePrompt(ctx, llm, "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.InDelta(t, 0.2, rec.opts.Temperature, 1e-9)
	assert.Equal(t, 64, rec.opts.MaxTokens)

	_, err = llm.Call(ctx, "hi", llms.WithTemperature(0.9))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, rec.opts.Temperature, 1e-9)
}

func TestNewOpenAIEnvKeyOnlyForOpenAIHost(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	_, err := NewOpenAI(&config.LLMConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  "https://api.groq.com/openai/v1",
		KeyEnv:   "GROQ_API_KEY",
		Model:    "llama3-70b-8192",
	}, false)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "GROQ_API_KEY")

	llm, err := NewOpenAI(&config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o-mini"}, false)
	require.NoError(t, err)
	assert.NotNil(t, llm)

	llm, err = NewOpenAI(&config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"}, false)
	require.NoError(t, err)
	assert.NotNil(t, llm)
}

func TestIsOpenAIHost(t *testing.T) {
	assert.True(t, isOpenAIHost(""))
	assert.True(t, isOpenAIHost("https://api.openai.com/v1"))
	assert.False(t, isOpenAIHost("https://api.groq.com/openai/v1"))
	assert.False(t, isOpenAIHost("https://api.openai.com.evil.example/v1"))
}
