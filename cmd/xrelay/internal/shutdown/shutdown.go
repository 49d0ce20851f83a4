// Package shutdown wires process signals to context cancellation.
package shutdown

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
)

// SetupSignalHandler returns a context that is cancelled on SIGINT or
// SIGTERM. SIGPIPE is ignored so a client that disconnects mid-response
// surfaces as a write error instead of killing the process.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signal.Ignore(syscall.SIGPIPE)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigc)
		select {
		case s := <-sigc:
			logger.Info("Signal received, shutting down", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// CloseWithin closes c but gives up waiting after timeout. The close keeps
// running in the background in that case.
func CloseWithin(c io.Closer, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("close did not finish within %s", timeout)
	}
}
