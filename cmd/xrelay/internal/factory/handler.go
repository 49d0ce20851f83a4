package factory

import (
	"context"
	"fmt"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/handler/files"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/handler/relay"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
)

// HandlerFactory creates the request handler selected by configuration
type HandlerFactory struct {
	cfg       *config.Config
	resolvers *ResolverFactory
}

// NewHandlerFactory creates a new handler factory
func NewHandlerFactory(cfg *config.Config) *HandlerFactory {
	return &HandlerFactory{cfg: cfg, resolvers: NewResolverFactory(cfg)}
}

// Create creates the file handler or the relay handler
func (f *HandlerFactory) Create(ctx context.Context) (core.ConnectionHandler, error) {
	switch {
	case f.cfg.FilesDir != "":
		logger.Info("Creating File Handler", "root", f.cfg.FilesDir, "chunk_size", f.cfg.ChunkSize.Int())
		return &files.Handler{
			Root:      f.cfg.FilesDir,
			ChunkSize: f.cfg.ChunkSize.Int(),
		}, nil
	case f.cfg.ProxyTarget != "":
		return f.createRelay(ctx)
	default:
		return nil, fmt.Errorf("no handler configured: set a files directory or a proxy target")
	}
}

func (f *HandlerFactory) createRelay(ctx context.Context) (core.ConnectionHandler, error) {
	resolver, err := f.resolvers.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create target resolver: %w", err)
	}

	logger.Info("Creating Relay Handler",
		"target", f.cfg.Proxy.String(),
		"discovery", f.cfg.DiscoveryMode,
		"dial_timeout", f.cfg.DialTimeout)

	return &relay.Handler{
		Target:      f.cfg.Proxy,
		Resolver:    resolver,
		DialTimeout: f.cfg.DialTimeout,
		ChunkSize:   f.cfg.ChunkSize.Int(),
	}, nil
}
