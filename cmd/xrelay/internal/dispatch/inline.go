package dispatch

import (
	"net"
	"sync"
	"time"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

// Inline runs the handler on the accepting goroutine. The accept loop is
// blocked until the handler returns.
type Inline struct {
	mu       sync.Mutex
	current  net.Conn
	stopping bool
}

// NewInline returns the synchronous dispatcher.
func NewInline() *Inline { return &Inline{} }

func (d *Inline) Dispatch(conn net.Conn, h core.ConnectionHandler) error {
	d.mu.Lock()
	d.current = conn
	if d.stopping {
		conn.SetDeadline(time.Now())
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.current = nil
		d.mu.Unlock()
	}()
	run(StrategyInline, conn, h)
	return nil
}

// Interrupt expires the deadline of the connection being served so a handler
// stuck on an idle client returns and the accept loop can observe shutdown.
func (d *Inline) Interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopping = true
	if d.current != nil {
		d.current.SetDeadline(time.Now())
	}
}

func (d *Inline) Close() error   { return nil }
func (d *Inline) Isolated() bool { return false }
