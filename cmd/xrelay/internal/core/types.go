package core

import (
	"context"
	"net"
	"strconv"
)

// ConnectionHandler services one client connection.
// It takes full ownership of the connection and must close it on every path.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn)
}

// HandlerFunc adapts a plain function to ConnectionHandler.
type HandlerFunc func(conn net.Conn)

// HandleConnection implements ConnectionHandler.
func (f HandlerFunc) HandleConnection(conn net.Conn) { f(conn) }

// Dispatcher maps an accepted connection onto an execution context that will
// run the handler. One implementation is chosen at startup and kept for the
// lifetime of the process.
type Dispatcher interface {
	// Dispatch hands conn over to h. Ownership of conn moves to the
	// dispatcher; on error the dispatcher has already closed it.
	Dispatch(conn net.Conn, h ConnectionHandler) error
	// Close releases long-lived execution contexts (pool workers).
	Close() error
}

// Interrupter is implemented by dispatchers that serve on the accepting
// goroutine. Interrupt unblocks the handler in flight so the accept loop can
// return once shutdown has begun.
type Interrupter interface {
	Interrupt()
}

// Request is the parsed request line of a client request.
type Request struct {
	Method string
	Path   string
}

// ProxyTarget is the upstream the relay handler connects to.
type ProxyTarget struct {
	Host string
	Port int
}

// String returns host:port.
func (t ProxyTarget) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TargetResolver turns a ProxyTarget into a dialable address.
// It is purely a lookup mechanism and knows nothing about the connection.
type TargetResolver interface {
	Resolve(ctx context.Context, target ProxyTarget) (string, error)
}
