//go:build unix

package listener

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen binds an IPv4 TCP socket to all interfaces on port with
// SO_REUSEADDR set and listens with Backlog. Port 0 picks a free port.
func Listen(port int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	// zero address is INADDR_ANY
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, Backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	// net.FileListener dups the descriptor, so the original is closed either way.
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp-listener:%d", port))
	defer f.Close()
	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("wrap listener: %w", err)
	}
	return l, nil
}
