// Command forcedeck ingests force-plate test results into the analytics store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/forcedeck/internal/config"
	"github.com/okian/forcedeck/pkg/logger"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "forcedeck",
		Short:         "Force-plate test ingestion",
		Long:          "forcedeck pulls force-plate tests from the testing service, selects the best trial of each test and appends one row per test to the analytics store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newPipelinesCmd())
	return root
}

// loadConfig loads configuration and initializes logging from it. Logs go to
// the command's error stream so stdout carries only command output.
func loadConfig(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	opts := []logger.Option{logger.WithOutput(cmd.ErrOrStderr())}
	if cfg.LogJSON {
		opts = append(opts, logger.WithJSON())
	}
	if err := logger.Init(opts...); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, log, nil
}
