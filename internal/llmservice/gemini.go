package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"document-qa/internal/config"

	"github.com/tmc/langchaingo/llms"
	genai "google.golang.org/genai"
)

// Gemini adapts the genai client to llms.Model so chains can use it.
type Gemini struct {
	client *genai.Client
	model  string
}

var _ llms.Model = (*Gemini)(nil)

func NewGemini(ctx context.Context, llmConfig *config.LLMConfig) (*Gemini, error) {
	client, err := NewGenAIClient(ctx, llmConfig)
	if err != nil {
		return nil, err
	}
	model := llmConfig.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

// NewGenAIClient creates a Gemini API client from llmConfig.Key.
func NewGenAIClient(ctx context.Context, llmConfig *config.LLMConfig) (*genai.Client, error) {
	if llmConfig.Key == "" {
		return nil, fmt.Errorf("%w: set %s", ErrMissingAPIKey, keyHint(llmConfig))
	}
	cc := &genai.ClientConfig{APIKey: llmConfig.Key, Backend: genai.BackendGeminiAPI}
	if llmConfig.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: llmConfig.BaseURL}
	}
	return genai.NewClient(ctx, cc)
}

func (g *Gemini) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}

func (g *Gemini) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	contents, system := toGenAIContents(messages)
	if len(contents) == 0 {
		return nil, errors.New("gemini: no user content")
	}
	temperature := float32(opts.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:   &temperature,
		StopSequences: opts.StopWords,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	if opts.StreamingFunc == nil {
		res, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini generate: %w", err)
		}
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: res.Text()}}}, nil
	}

	var sb strings.Builder
	for res, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		part := res.Text()
		if part == "" {
			continue
		}
		sb.WriteString(part)
		if err := opts.StreamingFunc(ctx, []byte(part)); err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: sb.String()}}}, nil
}

// toGenAIContents maps chat messages to genai contents. System messages are
// folded into one system instruction.
func toGenAIContents(messages []llms.MessageContent) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		var texts []string
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok && t.Text != "" {
				texts = append(texts, t.Text)
			}
		}
		if len(texts) == 0 {
			continue
		}
		text := strings.Join(texts, "\n")
		switch m.Role {
		case llms.ChatMessageTypeSystem:
			system = append(system, text)
		case llms.ChatMessageTypeAI:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n")
}
