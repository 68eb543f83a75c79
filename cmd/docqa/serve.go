package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"document-qa/internal/api"
	"document-qa/internal/config"
	"document-qa/internal/session"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd(loaded func() *config.Config) *cobra.Command {
	var addr string
	var resetDB bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loaded()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newServicesWithReset(ctx, cfg, true, true, resetDB)
			if err != nil {
				return err
			}
			defer svc.Close()

			sessions := session.NewManager(svc.embedder, svc.llm, svc.newIndex, cfg.RAG, cfg.Server)
			defer sessions.Close(context.Background())
			go sessions.Run(ctx, time.Duration(cfg.Server.CleanupIntervalMinutes)*time.Minute)

			e := api.NewServer(cfg.Server, api.NewHandler(sessions, Version))

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Str("version", Version).Msg("Starting server")
				if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&resetDB, "reset-db", false, "drop the pgvector documents table on startup")
	return cmd
}
