package factory

import (
	"fmt"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/config"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/dispatch"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
)

// DispatcherFactory creates the concurrency strategy selected by configuration
type DispatcherFactory struct {
	cfg *config.Config

	processSupported func() bool
}

// NewDispatcherFactory creates a new dispatcher factory
func NewDispatcherFactory(cfg *config.Config) *DispatcherFactory {
	return &DispatcherFactory{cfg: cfg, processSupported: dispatch.ProcessSupported}
}

// Create creates the dispatcher. It is called once per server process.
func (f *DispatcherFactory) Create() (core.Dispatcher, error) {
	logger.Info("Creating Dispatcher", "strategy", f.cfg.Strategy)

	switch f.cfg.Strategy {
	case dispatch.StrategyInline:
		return dispatch.NewInline(), nil
	case dispatch.StrategyThread:
		return dispatch.NewThread(), nil
	case dispatch.StrategyPool:
		return dispatch.NewPool(f.cfg.NumThreads)
	case dispatch.StrategyProcess:
		if !f.processSupported() {
			logger.Warn("Process dispatch is not available on this platform, handling connections in goroutines instead; a crashing handler is no longer isolated")
			return dispatch.NewThread(), nil
		}
		return dispatch.NewProcess()
	default:
		return nil, fmt.Errorf("unknown strategy: %s", f.cfg.Strategy)
	}
}
