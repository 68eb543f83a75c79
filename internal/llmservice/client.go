package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"document-qa/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrMissingAPIKey is returned when a hosted provider needs a key and none is configured.
var ErrMissingAPIKey = errors.New("missing API key")

// NewLLM creates the chat model selected by llmConfig.Provider.
func NewLLM(ctx context.Context, llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating LLM client")

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		llm, err = NewOpenAI(llmConfig, false)
	case config.ProviderOllama:
		llm, err = NewOllama(llmConfig)
	case config.ProviderGemini:
		llm, err = NewGemini(ctx, llmConfig)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithDefaultOptions(llm, llms.WithTemperature(llmConfig.Temperature)), nil
}

// defaulted prepends default call options to every call; per-call options win.
type defaulted struct {
	llms.Model
	defaults []llms.CallOption
}

// WithDefaultOptions wraps llm so opts apply to every call unless overridden.
func WithDefaultOptions(llm llms.Model, opts ...llms.CallOption) llms.Model {
	return &defaulted{Model: llm, defaults: opts}
}

func (d *defaulted) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return d.Model.GenerateContent(ctx, messages, append(append([]llms.CallOption{}, d.defaults...), options...)...)
}

func (d *defaulted) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, d, prompt, options...)
}

func NewOllama(llmConfig *config.LLMConfig) (*ollama.LLM, error) {
	opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
	}
	return ollama.New(opts...)
}

// NewOpenAI creates a client for any OpenAI-compatible endpoint. With
// embedding set, the configured model is also used for embeddings.
func NewOpenAI(llmConfig *config.LLMConfig, embedding bool) (*openai.LLM, error) {
	token := strings.TrimPrefix(llmConfig.Key, "Bearer ")
	// the client falls back to OPENAI_API_KEY, which must not reach other hosts
	if token == "" && (!isOpenAIHost(llmConfig.BaseURL) || os.Getenv("OPENAI_API_KEY") == "") {
		return nil, fmt.Errorf("%w: set %s", ErrMissingAPIKey, keyHint(llmConfig))
	}

	opts := []openai.Option{
		openai.WithModel(llmConfig.Model),
		openai.WithHTTPClient(&http.Client{Timeout: timeout(llmConfig)}),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	if token != "" {
		opts = append(opts, openai.WithToken(token))
	}
	if embedding {
		opts = append(opts, openai.WithEmbeddingModel(llmConfig.Model))
	}
	return openai.New(opts...)
}

func isOpenAIHost(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	return err == nil && u.Hostname() == "api.openai.com"
}

func keyHint(c *config.LLMConfig) string {
	if c.KeyEnv != "" {
		return c.KeyEnv
	}
	if c.Provider == config.ProviderGemini {
		return "GOOGLE_API_KEY"
	}
	return "OPENAI_API_KEY"
}

func timeout(c *config.LLMConfig) time.Duration {
	if c.TimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Unavailable is a model whose every call fails with Err. It stands in for a
// provider that could not be configured, so callers see the cause per request.
type Unavailable struct {
	Err error
}

var _ llms.Model = Unavailable{}

func (u Unavailable) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, u.Err
}

func (u Unavailable) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", u.Err
}
