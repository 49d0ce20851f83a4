//go:build !unix

package listener

import (
	"fmt"
	"net"
)

// Listen binds all interfaces on port. The platform picks the backlog.
func Listen(port int) (net.Listener, error) {
	l, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen port %d: %w", port, err)
	}
	return l, nil
}
