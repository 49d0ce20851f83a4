package static

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
)

type Resolver struct {
	targets map[string]string
}

// NewResolver creates a resolver from a comma-separated mapping.
// Format: "host=addr[:port],..."
// Example: "origin=10.0.0.5:8080,cdn=10.0.0.6"
// An address without a port keeps the target's port.
func NewResolver(mappingStr string) (*Resolver, error) {
	targets := make(map[string]string)
	if mappingStr == "" {
		return &Resolver{targets: targets}, nil
	}

	pairs := strings.Split(mappingStr, ",")
	for _, pair := range pairs {
		host, addr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		host, addr = strings.TrimSpace(host), strings.TrimSpace(addr)
		if !ok || host == "" || addr == "" {
			return nil, fmt.Errorf("invalid mapping format: %s", pair)
		}
		targets[strings.ToLower(host)] = addr
	}

	return &Resolver{targets: targets}, nil
}

func (r *Resolver) Resolve(ctx context.Context, target core.ProxyTarget) (string, error) {
	addr, ok := r.targets[strings.ToLower(target.Host)]

	if !ok {
		return "", fmt.Errorf("no static mapping for host: %s", target.Host)
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(target.Port))
	}
	logger.Debug("Static route", "host", target.Host, "addr", addr)
	return addr, nil
}
