package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/api"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/dispatch"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/factory"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/listener"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/shutdown"
)

const shutdownGrace = 3 * time.Second

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xrelay",
		Short: "Concurrent static file server and HTTP relay",
		Long: `xrelay accepts TCP connections and either serves files from a directory
or relays each request to a fixed upstream. Connections are handled inline,
in a child process, in a goroutine, or by a fixed worker pool.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command) error {
	// Load configuration from defaults, file, environment and flags
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Initialize logger
	logger.InitWithOptions(logger.Options{Debug: cfg.Debug, Format: cfg.LogFormat})

	// A re-executed child serves exactly one inherited connection
	if dispatch.IsChild() {
		handler, err := factory.NewHandlerFactory(cfg).Create(context.Background())
		if err != nil {
			return err
		}
		defer closeHandler(handler)
		return dispatch.ServeChild(handler)
	}

	logger.Info("Starting xrelay...",
		"version", version,
		"port", cfg.ServerPort,
		"strategy", cfg.Strategy,
		"files", cfg.FilesDir,
		"proxy", cfg.ProxyTarget,
		"discovery", cfg.DiscoveryMode)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	// Start health server
	var healthServer *api.HealthServer
	if cfg.HealthServerPort != "" {
		healthServer = api.NewHealthServer(":" + cfg.HealthServerPort)
		healthServer.Start()
	}

	// Create request handler
	handler, err := factory.NewHandlerFactory(cfg).Create(ctx)
	if err != nil {
		logger.Fatal("Failed to create handler", "error", err)
	}

	// Create dispatcher
	dispatcher, err := factory.NewDispatcherFactory(cfg).Create()
	if err != nil {
		logger.Fatal("Failed to create dispatcher", "error", err)
	}

	// Start TCP listener
	l, err := listener.Listen(cfg.ServerPort)
	if err != nil {
		logger.Fatal("Failed to start listener", "port", cfg.ServerPort, "error", err)
	}
	logger.Info("Listening", "addr", l.Addr().String(), "backlog", listener.Backlog)

	server := &core.Server{
		Listener:          l,
		Dispatcher:        dispatcher,
		ConnectionHandler: handler,
	}

	// Readiness follows the accept loop
	if healthServer != nil {
		healthServer.AddReadinessCheck("listener", server.Ready)
	}

	// Start serving (blocking)
	serveErr := server.Serve(ctx)

	if healthServer != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
		if err := healthServer.Stop(stopCtx); err != nil {
			logger.Warn("Health server shutdown failed", "error", err)
		}
		stop()
	}
	if err := shutdown.CloseWithin(dispatcher, shutdownGrace); err != nil {
		logger.Warn("Dispatcher did not drain", "error", err)
	}
	closeHandler(handler)

	if errors.Is(serveErr, core.ErrExecutionContextExhausted) {
		logger.Fatal("Cannot create execution context for new connections", "error", serveErr)
	}
	if serveErr != nil {
		logger.Fatal("Server error", "error", serveErr)
	}

	logger.Info("Shutdown complete")
	return nil
}

// closeHandler releases resources held by the handler, such as a
// Kubernetes informer behind the relay resolver.
func closeHandler(h core.ConnectionHandler) {
	c, ok := h.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("Failed to close handler", "error", err)
	}
}
