package main

import (
	"errors"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/parser"
	"document-qa/internal/rag"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func indexCmd(loaded func() *config.Config) *cobra.Command {
	var filePath string
	var out string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build an index for a document and export it to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return errors.New("--file is required")
			}
			cfg := loaded()
			ctx := cmd.Context()
			if out == "" {
				out = chromemdb.ExportFileName(exportCollection, cfg.VectorStore.Compress, cfg.RAG.EncryptionKey != "")
			}

			doc, err := parser.ExtractFile(filePath)
			if err != nil {
				return err
			}

			svc, err := newServices(ctx, cfg, cfg.RAG.ContextualChunks, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			m, err := chromemdb.NewVectorDBManager(chromem.NewDB(), exportCollection, cfg.VectorStore.Compress, cfg.RAG.EncryptionKey)
			if err != nil {
				return err
			}
			r, err := rag.NewRAG(svc.embedder, svc.llm, m, cfg.RAG)
			if err != nil {
				return err
			}
			chunks, err := r.Build(ctx, doc.Text)
			if err != nil {
				return err
			}
			if err := m.Export(ctx, out); err != nil {
				return err
			}

			log.Info().Str("file", filePath).Str("out", out).Int("chunks", len(chunks)).Msg("Exported index")
			helper.PrettyPrint(cmd.OutOrStdout(), map[string]any{
				"file":   doc.Filename,
				"format": doc.Format,
				"pages":  doc.Pages,
				"chunks": len(chunks),
				"out":    out,
			})
			return nil
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "document to index")
	cmd.Flags().StringVarP(&out, "out", "o", "", "export path (default docqa.gob with .gz/.enc suffixes)")
	return cmd
}
