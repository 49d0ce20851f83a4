// Package relay forwards one client request to a fixed upstream and streams
// the upstream's answer back until it closes.
package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/httpcodec"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultChunkSize   = 4 << 10

	handlerName = "relay"
)

// Handler relays requests to Target. The upstream request is always sent as
// HTTP/1.0 without headers, so the upstream ends its response by closing
// the connection.
type Handler struct {
	Target      core.ProxyTarget
	Resolver    core.TargetResolver
	DialTimeout time.Duration
	ChunkSize   int
}

// Close releases the resolver when it holds resources of its own.
func (h *Handler) Close() error {
	if c, ok := h.Resolver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// HandleConnection implements core.ConnectionHandler.
// It takes full ownership of the client connection.
func (h *Handler) HandleConnection(clientConn net.Conn) {
	defer clientConn.Close()

	// 1. Resolve and dial upstream
	upstream, err := h.connect()
	if err != nil {
		logger.Error("Upstream unavailable", "target", h.Target.String(), "error", err, "remote_addr", clientConn.RemoteAddr())
		// the request is read so the client sees a response rather than a reset
		if _, perr := httpcodec.ParseRequest(clientConn); perr != nil {
			logger.Debug("Discarded malformed request", "remote_addr", clientConn.RemoteAddr(), "error", perr)
		}
		h.reply(clientConn, err)
		return
	}
	defer upstream.Close()

	// 2. Parse the client request
	req, err := httpcodec.ParseRequest(clientConn)
	if err != nil {
		logger.Warn("Bad client request", "error", err, "remote_addr", clientConn.RemoteAddr())
		h.reply(clientConn, err)
		return
	}

	// 3. Forward the request line
	if err := writeRequest(upstream, req); err != nil {
		logger.Error("Failed to forward request", "upstream", upstream.RemoteAddr(), "error", err, "remote_addr", clientConn.RemoteAddr())
		return
	}

	// 4. Relay the answer
	n, err := h.relay(clientConn, upstream)
	metrics.BytesSent.WithLabelValues(handlerName).Add(float64(n))
	if err != nil {
		logger.Warn("Relay interrupted", "upstream", upstream.RemoteAddr(), "bytes", n, "error", err, "remote_addr", clientConn.RemoteAddr())
		return
	}
	logger.Debug("Relay finished", "method", req.Method, "path", req.Path, "bytes", n, "remote_addr", clientConn.RemoteAddr())
}

func (h *Handler) connect() (net.Conn, error) {
	timeout := h.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addr, err := h.Resolver.Resolve(ctx, h.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", core.ErrUpstreamUnavailable, h.Target, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", core.ErrUpstreamUnavailable, addr, err)
	}
	return conn, nil
}

// reply sends the error response matching cause.
func (h *Handler) reply(conn net.Conn, cause error) {
	code := core.StatusCode(cause)
	metrics.Responses.WithLabelValues(handlerName, strconv.Itoa(code)).Inc()
	if err := httpcodec.WriteError(conn, code); err != nil {
		logger.Warn("Failed to send error response", "status", code, "error", err, "remote_addr", conn.RemoteAddr())
	}
}

// writeRequest sends "METHOD PATH HTTP/1.0" followed by an empty header block.
func writeRequest(w io.Writer, req *core.Request) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = append(buf.B, req.Method...)
	buf.B = append(buf.B, ' ')
	buf.B = append(buf.B, req.Path...)
	buf.B = append(buf.B, " HTTP/1.0\r\n\r\n"...)
	_, err := httpcodec.WriteFull(w, buf.B)
	return err
}

// relay copies upstream to client chunk by chunk until upstream reports EOF.
func (h *Handler) relay(client io.Writer, upstream io.Reader) (int64, error) {
	size := h.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunk := make([]byte, size)
	var total int64
	for {
		n, rerr := upstream.Read(chunk)
		if n > 0 {
			written, werr := httpcodec.WriteFull(client, chunk[:n])
			total += int64(written)
			if werr != nil {
				return total, fmt.Errorf("write client: %w", werr)
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("read upstream: %w", rerr)
		}
	}
}
