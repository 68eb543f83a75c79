package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/parser"
	"document-qa/internal/rag"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func askCmd(loaded func() *config.Config) *cobra.Command {
	var filePath string
	var indexPath string
	var questions []string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer questions about a document or an exported index",
		Long: "Answer each --question about --file, or about an index written by `docqa index`.\n" +
			"Without --question, one question is read per line from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (filePath == "") == (indexPath == "") {
				return errors.New("provide exactly one of --file or --index")
			}
			cfg := loaded()
			ctx := cmd.Context()

			svc, err := newServices(ctx, cfg, true, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			r, err := openRAG(ctx, cfg, svc, filePath, indexPath)
			if err != nil {
				return err
			}
			defer r.Close(context.Background())

			next := questionSource(questions, cmd.InOrStdin())
			for {
				q, ok := next()
				if !ok {
					return nil
				}
				if strings.TrimSpace(q) == "" {
					continue
				}
				if err := answer(ctx, cmd.OutOrStdout(), r, q, showSources); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "document to index and query")
	cmd.Flags().StringVar(&indexPath, "index", "", "index file written by `docqa index`")
	cmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "question to ask (repeatable)")
	cmd.Flags().BoolVar(&showSources, "show-sources", false, "print the retrieved chunks")
	return cmd
}

// openRAG indexes filePath, or loads the chromem export at indexPath.
func openRAG(ctx context.Context, cfg *config.Config, svc *services, filePath, indexPath string) (*rag.RAG, error) {
	if indexPath != "" {
		m, err := chromemdb.NewVectorDBManager(chromem.NewDB(), exportCollection, cfg.VectorStore.Compress, cfg.RAG.EncryptionKey)
		if err != nil {
			return nil, err
		}
		if err := m.Import(ctx, indexPath); err != nil {
			return nil, err
		}
		log.Info().Str("index", indexPath).Int("chunks", m.Count()).Msg("Loaded index")
		return rag.NewRAG(svc.embedder, svc.llm, m, cfg.RAG)
	}

	doc, err := parser.ExtractFile(filePath)
	if err != nil {
		return nil, err
	}
	index, err := svc.newIndex(ctx, "cli")
	if err != nil {
		return nil, err
	}
	r, err := rag.NewRAG(svc.embedder, svc.llm, index, cfg.RAG)
	if err != nil {
		return nil, err
	}
	if _, err := r.Build(ctx, doc.Text); err != nil {
		return nil, err
	}
	return r, nil
}

// questionSource yields the flag questions, or stdin lines when there are none.
func questionSource(questions []string, in io.Reader) func() (string, bool) {
	if len(questions) > 0 {
		i := 0
		return func() (string, bool) {
			if i >= len(questions) {
				return "", false
			}
			i++
			return questions[i-1], true
		}
	}
	scanner := bufio.NewScanner(in)
	return func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	}
}

func answer(ctx context.Context, w io.Writer, r *rag.RAG, question string, showSources bool) error {
	fmt.Fprintf(w, "Q: %s\nA: ", strings.TrimSpace(question))
	resp, err := r.Query(ctx, question, func(ctx context.Context, chunk []byte) error {
		_, err := w.Write(chunk)
		return err
	})
	if err != nil {
		fmt.Fprintln(w)
		return err
	}
	fmt.Fprint(w, "\n\n")

	if showSources {
		for _, s := range resp.Sources {
			fmt.Fprintf(w, "[chunk %d, score %.3f]\n%s\n\n", s.ChunkID, s.Score, s.Content)
		}
	}
	return nil
}
