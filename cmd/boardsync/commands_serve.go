package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/boardsync/internal/config"
	"github.com/haasonsaas/boardsync/internal/observability"
	"github.com/haasonsaas/boardsync/internal/server"
)

// buildServeCmd creates the "serve" command that runs the sync server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the synchronization server",
		Long: `Start the boardsync server.

The server will:
1. Load configuration from the specified file (defaults apply without one)
2. Open the durable operation log (SQLite, or in-memory when unset)
3. Serve the synchronization channel, auth endpoints, health, and metrics
4. Run periodic sweeps for expired sessions and prunable history

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults
  boardsync serve

  # Start with a config file
  boardsync serve --config /etc/boardsync/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("BOARDSYNC_CONFIG")
			}
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Observability.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Observability.Logging.Format,
	})

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("boardsync started", "version", version, "addr", srv.Addr())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
