// Package dns resolves proxy targets through the system resolver.
package dns

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

// Lookuper is the subset of *net.Resolver used here.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolver looks the target host up on every call and prefers IPv4 addresses.
type Resolver struct {
	Lookup Lookuper
}

func NewResolver() *Resolver {
	return &Resolver{Lookup: net.DefaultResolver}
}

// Resolve implements core.TargetResolver.
func (r *Resolver) Resolve(ctx context.Context, target core.ProxyTarget) (string, error) {
	port := strconv.Itoa(target.Port)
	if ip, err := netip.ParseAddr(target.Host); err == nil {
		return net.JoinHostPort(ip.String(), port), nil
	}

	addrs, err := r.Lookup.LookupNetIP(ctx, "ip", target.Host)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", target.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("lookup %s: no addresses", target.Host)
	}

	best := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			best = a
			break
		}
	}
	return net.JoinHostPort(best.Unmap().String(), port), nil
}
