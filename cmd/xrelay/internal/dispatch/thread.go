package dispatch

import (
	"net"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

// Thread starts a detached goroutine per connection. Concurrency is
// unbounded and a panic in any handler takes the whole process down.
type Thread struct{}

// NewThread returns the goroutine-per-connection dispatcher.
func NewThread() *Thread { return &Thread{} }

func (d *Thread) Dispatch(conn net.Conn, h core.ConnectionHandler) error {
	go run(StrategyThread, conn, h)
	return nil
}

// Close does not wait for running handlers; they are never joined.
func (d *Thread) Close() error   { return nil }
func (d *Thread) Isolated() bool { return false }
