// Command syncwave is the CLI front end of the sync engine: datasource and
// task management, run control and ledger inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/syncwave/syncwave/internal/config"
	"github.com/syncwave/syncwave/internal/connector/factory"
	"github.com/syncwave/syncwave/internal/engine"
	"github.com/syncwave/syncwave/internal/progress"
	"github.com/syncwave/syncwave/internal/secrets"
	"github.com/syncwave/syncwave/internal/storage/sqlite"
	"github.com/syncwave/syncwave/internal/telemetry"
)

var version = "0.1.0"

var (
	cfg        *config.Config
	log        zerolog.Logger
	eng        *engine.Engine
	jsonOutput bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "syncwave",
		Short:         "Copy tables and indices between relational and search endpoints",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()
			if err := telemetry.Init(cmd.Context(), "syncwave", version); err != nil {
				log.Warn().Err(err).Msg("telemetry disabled")
			}
			return openEngine(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if eng != nil {
				if err := eng.Close(); err != nil {
					log.Warn().Err(err).Msg("close engine")
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			telemetry.Shutdown(ctx)
		},
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of text")

	root.AddCommand(
		datasourceCmd(),
		taskCmd(),
		startCmd(),
		pauseCmd(),
		resumeCmd(),
		statusCmd(),
		ledgerCmd(),
	)
	return root
}

func openEngine(ctx context.Context) error {
	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	cipher, err := secrets.Load(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load credentials key: %w", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("metrics unavailable")
	}
	eng = engine.New(engine.Options{
		Store:   store,
		Factory: factory.New(),
		Bus:     progress.NewBus(log),
		Cipher:  cipher,
		Metrics: metrics,
		Log:     log,
	})
	return nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
