// Package cmd defines the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/app"
	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Incremental harvester for serialized web fiction",
		Long: `harvester discovers serialized works on configured sites, tracks their
chapter indexes as they grow, extracts chapter text through a headless
browser, and submits new chapters for translation. All progress is durable:
the service can be stopped and restarted at any point without losing work.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default harvester.yaml in the working directory)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newChaptersCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

// buildApp loads config, builds the logger and wires the service container.
// The returned cleanup closes everything in reverse order.
func buildApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
		_ = logger.Sync()
	}
	return a, cleanup, nil
}
