// Package files serves a directory tree over HTTP/1.0, one request per
// connection.
package files

import (
	"fmt"
	"html"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/valyala/bytebufferpool"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/httpcodec"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
)

const (
	// DefaultChunkSize is the read/write unit for file bodies.
	DefaultChunkSize = 4 << 10

	indexFile   = "index.html"
	handlerName = "files"
)

// Handler serves regular files and directory listings below Root.
type Handler struct {
	Root      string
	ChunkSize int
}

// HandleConnection implements core.ConnectionHandler.
func (h *Handler) HandleConnection(conn net.Conn) {
	defer conn.Close()

	code, sent, err := h.serve(conn)
	metrics.Responses.WithLabelValues(handlerName, strconv.Itoa(code)).Inc()
	metrics.BytesSent.WithLabelValues(handlerName).Add(float64(sent))
	if err != nil {
		logger.Warn("File request failed", "remote_addr", conn.RemoteAddr(), "status", code, "error", err)
		return
	}
	logger.Debug("File request served", "remote_addr", conn.RemoteAddr(), "status", code, "bytes", sent)
}

// serve writes exactly one response and reports its status and body size.
func (h *Handler) serve(conn net.Conn) (int, int64, error) {
	req, err := httpcodec.ParseRequest(conn)
	if err == nil && !strings.HasPrefix(req.Path, "/") {
		err = fmt.Errorf("%w: request target %q is not an absolute path", core.ErrClientProtocol, req.Path)
	}
	if err != nil {
		return h.fail(conn, err)
	}

	urlPath := stripQuery(req.Path)
	decoded, err := url.PathUnescape(urlPath)
	if err != nil {
		return h.fail(conn, fmt.Errorf("%w: %v", core.ErrClientProtocol, err))
	}
	if hasDotDot(decoded) {
		return h.fail(conn, fmt.Errorf("%w: %s", core.ErrPathPolicy, decoded))
	}

	local := filepath.Join(h.Root, filepath.FromSlash(decoded))
	info, err := os.Stat(local)
	if err != nil {
		// ENOENT, ENOTDIR, ENAMETOOLONG and EINVAL (embedded NUL) all mean
		// there is nothing at this path.
		return h.fail(conn, fmt.Errorf("%w: %s: %w", core.ErrNotFound, urlPath, err))
	}

	switch {
	case info.Mode().IsRegular():
		return h.serveFile(conn, local, info.Size())
	case info.IsDir():
		return h.serveDirectory(conn, local, urlPath)
	default:
		return h.fail(conn, fmt.Errorf("%w: %s is not a regular file or directory", core.ErrNotFound, urlPath))
	}
}

func (h *Handler) fail(conn net.Conn, cause error) (int, int64, error) {
	code := core.StatusCode(cause)
	if err := httpcodec.WriteError(conn, code); err != nil {
		return code, 0, fmt.Errorf("%w; write error response: %w", cause, err)
	}
	return code, 0, cause
}

func (h *Handler) serveFile(conn net.Conn, local string, size int64) (int, int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return h.fail(conn, err)
	}
	defer f.Close()

	rw := httpcodec.NewResponseWriter(conn)
	rw.WriteStatus(200)
	rw.WriteHeader("Content-Type", httpcodec.MimeType(local))
	rw.WriteHeader("Content-Length", strconv.FormatInt(size, 10))
	if err := rw.EndHeaders(); err != nil {
		return 200, 0, fmt.Errorf("write headers: %w", err)
	}

	sent, err := h.copyChunks(conn, f)
	if err != nil {
		return 200, sent, fmt.Errorf("send %s: %w", local, err)
	}
	return 200, sent, nil
}

// copyChunks streams src to w one chunk at a time. Every chunk is written in
// full before the next read.
func (h *Handler) copyChunks(w io.Writer, src io.Reader) (int64, error) {
	chunk := make([]byte, h.chunkSize())
	var total int64
	for {
		n, rerr := src.Read(chunk)
		if n > 0 {
			written, werr := httpcodec.WriteFull(w, chunk[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

func (h *Handler) serveDirectory(conn net.Conn, local, urlPath string) (int, int64, error) {
	index := filepath.Join(local, indexFile)
	if info, err := os.Stat(index); err == nil && info.Mode().IsRegular() {
		return h.serveFile(conn, index, info.Size())
	}

	entries, err := os.ReadDir(local)
	if err != nil {
		return h.fail(conn, err)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	base := urlPath
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		href := html.EscapeString(path.Join(base, url.PathEscape(e.Name())))
		name := html.EscapeString(e.Name())
		fmt.Fprintf(buf, "<a href=\"%s\">%s</a> (%s)<br>\n", href, name, humanize.Bytes(uint64(info.Size())))
	}

	rw := httpcodec.NewResponseWriter(conn)
	rw.WriteStatus(200)
	rw.WriteHeader("Content-Type", "text/html")
	rw.WriteHeader("Content-Length", strconv.Itoa(buf.Len()))
	if err := rw.EndHeaders(); err != nil {
		return 200, 0, fmt.Errorf("write headers: %w", err)
	}
	n, err := httpcodec.WriteFull(conn, buf.B)
	if err != nil {
		return 200, int64(n), fmt.Errorf("send listing: %w", err)
	}
	return 200, int64(n), nil
}

func (h *Handler) chunkSize() int {
	if h.ChunkSize > 0 {
		return h.ChunkSize
	}
	return DefaultChunkSize
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
