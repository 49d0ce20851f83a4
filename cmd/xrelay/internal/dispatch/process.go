package dispatch

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

const (
	// childEnv marks a process started by the process dispatcher. Its value
	// is the descriptor number of the inherited client connection.
	childEnv = "XRELAY_CHILD_CONN"
	childFD  = 3
)

// ErrProcessUnsupported is returned by NewProcess on platforms that cannot
// hand a socket to a child process.
var ErrProcessUnsupported = errors.New("process-per-connection dispatch is not supported on this platform")

// Process serves every connection in a fresh OS process. The child is the
// same executable started with the same arguments, so it builds the same
// handler from the same configuration; the handler passed to Dispatch only
// runs in the child.
type Process struct {
	Path string
	Args []string
	Env  []string
}

// NewProcess returns a dispatcher that re-executes the running binary.
func NewProcess() (*Process, error) {
	if !ProcessSupported() {
		return nil, ErrProcessUnsupported
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &Process{Path: exe, Args: os.Args, Env: os.Environ()}, nil
}

// Dispatch starts a child for conn and closes the parent's copy right away.
func (d *Process) Dispatch(conn net.Conn, h core.ConnectionHandler) error {
	defer conn.Close()
	return d.spawn(conn)
}

func (d *Process) Close() error   { return nil }
func (d *Process) Isolated() bool { return true }

// IsChild reports whether this process was started to serve one connection.
func IsChild() bool {
	return os.Getenv(childEnv) != ""
}

// ServeChild rebuilds the inherited connection and runs h on it. The
// listening socket is never inherited, so there is nothing else to close.
func ServeChild(h core.ConnectionHandler) error {
	f := os.NewFile(uintptr(childFD), "client-conn")
	if f == nil {
		return fmt.Errorf("no inherited connection on fd %d", childFD)
	}
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("rebuild inherited connection: %w", err)
	}
	run(StrategyProcess, conn, h)
	return nil
}
