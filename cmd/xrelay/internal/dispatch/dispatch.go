// Package dispatch holds the strategies that map an accepted connection onto
// an execution context: inline, process-per-connection, goroutine-per-connection
// and a fixed worker pool.
package dispatch

import (
	"net"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
)

// Strategy names a dispatcher variant.
type Strategy string

const (
	StrategyInline  Strategy = "inline"
	StrategyProcess Strategy = "process"
	StrategyThread  Strategy = "thread"
	StrategyPool    Strategy = "pool"
)

// Strategies lists every variant in a stable order.
var Strategies = []Strategy{StrategyInline, StrategyProcess, StrategyThread, StrategyPool}

// Isolator is implemented by every dispatcher. Isolated reports whether a
// fault inside a handler is contained away from the accepting process.
type Isolator interface {
	Isolated() bool
}

func run(s Strategy, conn net.Conn, h core.ConnectionHandler) {
	active := metrics.HandlersActive.WithLabelValues(string(s))
	active.Inc()
	defer active.Dec()
	h.HandleConnection(conn)
}
