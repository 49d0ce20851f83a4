//go:build !unix

package dispatch

import (
	"net"
)

// ProcessSupported reports whether connections can be handed to child processes.
func ProcessSupported() bool { return false }

func (d *Process) spawn(conn net.Conn) error {
	return ErrProcessUnsupported
}
