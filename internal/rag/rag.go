package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/models"
	"document-qa/internal/parser"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

var ErrEmptyQuestion = errors.New("question is empty")

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Index is the similarity index a RAG builds into and retrieves from.
type Index interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, chunks []models.ChunkEmbedding) error
	Search(ctx context.Context, query []float32, k int) ([]models.Source, error)
	Close(ctx context.Context) error
}

// StreamFunc receives answer tokens as the LLM produces them.
type StreamFunc func(ctx context.Context, chunk []byte) error

type RAG struct {
	embedder embeddings.Embedder
	llm      llms.Model
	index    Index
	splitter parser.Splitter
	cfg      config.RAGConfig
}

func NewRAG(embedder embeddings.Embedder, llm llms.Model, index Index, cfg config.RAGConfig) (*RAG, error) {
	splitter, err := parser.NewSplitter(cfg)
	if err != nil {
		return nil, err
	}
	return &RAG{embedder: embedder, llm: llm, index: index, splitter: splitter, cfg: cfg}, nil
}

// Build replaces the index contents with the chunks of text and returns them.
func (r *RAG) Build(ctx context.Context, text string) ([]models.Chunk, error) {
	if err := r.index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}

	chunks, err := r.splitter.Split(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	var texts []string
	if r.cfg.ContextualChunks {
		texts, err = r.contextualTexts(ctx, text, chunks)
		if err != nil {
			return nil, err
		}
	}

	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, r.embedder, chunks, texts)
	if err != nil {
		return nil, err
	}
	if err := r.index.Add(ctx, chunkEmbeddings); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}
	log.Info().Int("chunks", len(chunks)).Bool("contextual", r.cfg.ContextualChunks).Msg("Built index")
	return chunks, nil
}

func (r *RAG) contextualTexts(ctx context.Context, document string, chunks []models.Chunk) ([]string, error) {
	document = truncate(document, r.cfg.ContextWindowChars)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		chunkCtx, err := r.GenerateContext(ctx, document, c.Content)
		if err != nil {
			return nil, fmt.Errorf("context for chunk %d: %w", c.ChunkID, err)
		}
		texts[i] = chunkCtx + models.ContextSeparator + c.Content
	}
	return texts, nil
}

// generate context for a chunk within the whole document
func (r *RAG) GenerateContext(ctx context.Context, document, chunk string) (string, error) {
	log.Debug().Int("chunk_len", len(chunk)).Msg("Generating context for chunk")
	prompt := fmt.Sprintf(models.ContextPromptTemplate, document, chunk)

	res, err := llms.GenerateFromSinglePrompt(ctx, r.llm, prompt)
	if err != nil {
		return "", err
	}
	return StripThink(res), nil
}

// Retrieve embeds question and returns the k nearest chunks, best first.
// k <= 0 uses the configured top_k.
func (r *RAG) Retrieve(ctx context.Context, question string, k int) ([]models.Source, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = r.cfg.TopK
	}
	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	sources, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return sources, nil
}

// Query retrieves chunks for question and answers it with a stuff QA chain.
// A non-nil stream receives the answer as it is generated, minus think blocks.
func (r *RAG) Query(ctx context.Context, question string, stream StreamFunc) (*models.PromptResponse, error) {
	question = strings.TrimSpace(question)
	sources, err := r.Retrieve(ctx, question, 0)
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, len(sources))
	for i, s := range sources {
		docs[i] = schema.Document{
			PageContent: s.Content,
			Metadata:    map[string]any{"chunk_id": s.ChunkID},
			Score:       s.Score,
		}
	}

	var opts []chains.ChainCallOption
	var filter *thinkFilter
	if stream != nil {
		filter = &thinkFilter{out: stream}
		opts = append(opts, chains.WithStreamingFunc(filter.Write))
	}

	qa := chains.LoadStuffQA(r.llm)
	result, err := chains.Call(ctx, qa, map[string]any{
		"input_documents": docs,
		"question":        question,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("answer question: %w", err)
	}
	if filter != nil {
		if err := filter.Flush(ctx); err != nil {
			return nil, err
		}
	}

	answer, ok := result["text"].(string)
	if !ok {
		return nil, fmt.Errorf("answer question: unexpected chain output %T", result["text"])
	}

	log.Debug().Int("sources", len(sources)).Msg("Answered question")
	return &models.PromptResponse{
		Query:   question,
		Content: StripThink(answer),
		Sources: sources,
	}, nil
}

func (r *RAG) Close(ctx context.Context) error {
	return r.index.Close(ctx)
}

// StripThink removes <think>...</think> reasoning blocks, including a trailing
// block that was never closed.
func StripThink(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
