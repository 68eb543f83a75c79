// Package testutil provides deterministic stand-ins for the hosted embedding
// model and LLM so pipeline tests run offline.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

const HashDims = 64

var wordRe = regexp.MustCompile(`\p{L}+|\p{N}+`)

// HashEmbedder maps each word to a bucket of a fixed size vector, so texts
// sharing words end up close under cosine similarity.
type HashEmbedder struct {
	mu    sync.Mutex
	Calls int
	Texts int
	Err   error
}

var _ embeddings.Embedder = (*HashEmbedder)(nil)

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.Calls++
	h.Texts += len(texts)
	err := h.Err
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = HashVector(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := h.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// HashVector is the embedding HashEmbedder produces for text. Dimension 0 is
// a small constant so no vector is all zeros.
func HashVector(text string) []float32 {
	v := make([]float32, HashDims)
	v[0] = 0.01
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[1+int(h.Sum32()%(HashDims-1))]++
	}
	return v
}

// FakeLLM is a scripted llms.Model that records every prompt it receives.
type FakeLLM struct {
	mu      sync.Mutex
	Prompts []string
	// Reply computes the answer for a prompt; nil answers "ok".
	Reply func(prompt string) string
	Err   error
}

var _ llms.Model = (*FakeLLM)(nil)

var ErrNoPrompt = errors.New("fake llm: empty prompt")

func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	var sb strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				sb.WriteString(t.Text)
			}
		}
	}
	prompt := sb.String()

	f.mu.Lock()
	f.Prompts = append(f.Prompts, prompt)
	reply, err := f.Reply, f.Err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if prompt == "" {
		return nil, ErrNoPrompt
	}
	answer := "ok"
	if reply != nil {
		answer = reply(prompt)
	}
	if opts.StreamingFunc != nil {
		for _, tok := range strings.SplitAfter(answer, " ") {
			if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// LastPrompt returns the most recent prompt, or "" when none was sent.
func (f *FakeLLM) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Prompts) == 0 {
		return ""
	}
	return f.Prompts[len(f.Prompts)-1]
}

// PromptCount returns how many prompts were sent.
func (f *FakeLLM) PromptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}
