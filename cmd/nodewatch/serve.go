package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/nodewatch"
	"github.com/jpalmerr/nodewatch/config"
	"github.com/jpalmerr/nodewatch/registry"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts the nodewatch polling service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start polling and the diagnostic API",
	Long: `Start the nodewatch polling service.

The service will:
  - Load configuration from the specified YAML file
  - Load the node registry from the configured nodes file
  - Poll the active node's configured data feeds
  - Serve the diagnostic API on the configured port

The service runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  nodewatch serve -c config.yaml
  nodewatch serve --config /etc/nodewatch/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reg, err := registry.Load(cfg.NodesFile)
	if err != nil {
		return fmt.Errorf("failed to load node registry: %w", err)
	}

	logger.Info("config loaded",
		"subscriptions", len(cfg.Subscriptions),
		"nodes", len(reg.Nodes()),
	)
	logger.Info("starting service", "port", cfg.Port)

	// convert config to SDK subscriptions
	subs, err := config.BuildSubscriptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return fmt.Errorf("no subscriptions configured")
	}

	// create the watcher with options
	opts := []nodewatch.Option{
		nodewatch.WithRegistry(reg),
		nodewatch.WithPort(cfg.Port),
		nodewatch.WithLogger(logger),
	}
	for _, sub := range subs {
		opts = append(opts, nodewatch.WithSubscription(sub))
	}

	nw, err := nodewatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start service - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- nw.Start(ctx)
	}()

	// wait for service to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("service error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("service error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
