// Package cmd defines the parley command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - conversational AI gateway",
	Long: `Parley is an HTTP gateway in front of a conversational model.
It keeps per-session history, strips reasoning markers from replies,
and exposes synchronous and streaming (SSE) chat endpoints.

Run "parley serve" to start the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. main() calls this.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads and validates configuration, then builds the
// logger it describes. Shared by the serve and ingest commands.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}
