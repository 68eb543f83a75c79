package main

import (
	"fmt"
	"os"

	"document-qa/internal/config"
	"document-qa/internal/helper"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const configFilePath = "./configs/config.yaml"

// Version is set at build time.
var Version = "dev"

func main() {
	// a missing .env is fine, keys may come from the environment
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about a PDF or text document",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
			log.Debug().Str("config", configPath).Msg("Loaded config")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", configFilePath, "path to the YAML config file")

	loaded := func() *config.Config { return cfg }
	root.AddCommand(serveCmd(loaded), askCmd(loaded), indexCmd(loaded))
	return root
}
