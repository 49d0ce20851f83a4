package core

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
)

const maxAcceptDelay = time.Second

// Server is the accept loop.
// It depends ONLY on interfaces, not concrete implementations, and performs
// no request semantics of its own.
type Server struct {
	Listener          net.Listener
	Dispatcher        Dispatcher
	ConnectionHandler ConnectionHandler

	serving atomic.Bool
}

// ErrNotServing is reported by Ready while the accept loop is not running.
var ErrNotServing = errors.New("accept loop not running")

// Ready reports whether the accept loop is currently taking connections.
func (s *Server) Ready() error {
	if !s.serving.Load() {
		return ErrNotServing
	}
	return nil
}

// Serve accepts connections until ctx is cancelled, handing each one to the
// dispatcher. It returns nil after an orderly shutdown, or the error that
// made the loop impossible to continue.
func (s *Server) Serve(ctx context.Context) error {
	s.serving.Store(true)
	defer s.serving.Store(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.serving.Store(false)
			if err := s.Listener.Close(); err != nil {
				logger.Warn("Failed to close listener", "error", err)
			}
			if i, ok := s.Dispatcher.(Interrupter); ok {
				i.Interrupt()
			}
		case <-done:
		}
	}()

	var delay time.Duration
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			metrics.AcceptErrors.Inc()
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.Warn("Accept failed, retrying", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		metrics.ConnectionsAccepted.Inc()
		logger.Debug("Connection accepted", "remote_addr", conn.RemoteAddr())

		if err := s.Dispatcher.Dispatch(conn, s.ConnectionHandler); err != nil {
			if errors.Is(err, ErrExecutionContextExhausted) {
				return err
			}
			logger.Error("Dispatch failed", "remote_addr", conn.RemoteAddr(), "error", err)
		}
	}
}
