package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trainlog/internal/app"
	"trainlog/internal/config"
	"trainlog/internal/logger"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tripctl",
	Short: "Operational commands for the trip stores",
	Long: `tripctl runs maintenance against the primary sqlite stores and the
postgres secondary store: a full migration, and drift checks of a single
trip or of everything.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $TRAINLOG_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(migrateCmd, compareCmd, compareAllCmd)
}

// open wires the stores. The caller closes the returned App.
func open(ctx context.Context, opts app.Options) (*app.App, error) {
	if configPath != "" {
		if err := os.Setenv("TRAINLOG_CONFIG", configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	built, err := logger.New().FromBuffer(zerolog.ConsoleWriter{Out: os.Stderr}).WithLevel(level).Make()
	if err != nil {
		return nil, err
	}

	return app.New(ctx, cfg, built.Logger, nil, opts)
}
