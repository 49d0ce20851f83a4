// Package httpcodec reads request lines and writes HTTP/1.0 response heads.
package httpcodec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

const (
	protoVersion = "HTTP/1.0"
	readBufSize  = 8 << 10
)

// ParseRequest reads the request line and headers from r. Headers are
// consumed but not kept. Any failure wraps core.ErrClientProtocol.
func ParseRequest(r io.Reader) (*core.Request, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	br := bufio.NewReaderSize(r, readBufSize)
	if err := req.Header.Read(br); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrClientProtocol, err)
	}

	method := string(req.Header.Method())
	path := string(req.Header.RequestURI())
	if method == "" || path == "" {
		return nil, fmt.Errorf("%w: empty request line", core.ErrClientProtocol)
	}
	return &core.Request{Method: method, Path: path}, nil
}

// ResponseWriter serializes a status line and headers. Nothing reaches the
// underlying writer until EndHeaders.
type ResponseWriter struct {
	w   io.Writer
	buf *bytebufferpool.ByteBuffer
}

// NewResponseWriter returns a ResponseWriter that flushes into w.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{w: w, buf: bytebufferpool.Get()}
}

// WriteStatus starts the response with the status line for code.
func (rw *ResponseWriter) WriteStatus(code int) {
	rw.buf.B = append(rw.buf.B, protoVersion...)
	rw.buf.B = append(rw.buf.B, ' ')
	rw.buf.B = strconv.AppendInt(rw.buf.B, int64(code), 10)
	rw.buf.B = append(rw.buf.B, ' ')
	rw.buf.B = append(rw.buf.B, fasthttp.StatusMessage(code)...)
	rw.buf.B = append(rw.buf.B, "\r\n"...)
}

// WriteHeader appends one header line.
func (rw *ResponseWriter) WriteHeader(name, value string) {
	rw.buf.B = append(rw.buf.B, name...)
	rw.buf.B = append(rw.buf.B, ": "...)
	rw.buf.B = append(rw.buf.B, value...)
	rw.buf.B = append(rw.buf.B, "\r\n"...)
}

// EndHeaders terminates the header block and writes the whole head.
// The ResponseWriter must not be used afterwards.
func (rw *ResponseWriter) EndHeaders() error {
	rw.buf.B = append(rw.buf.B, "\r\n"...)
	_, err := WriteFull(rw.w, rw.buf.B)
	bytebufferpool.Put(rw.buf)
	rw.buf = nil
	return err
}

// WriteError sends a body-less response carrying only a status code.
func WriteError(w io.Writer, code int) error {
	rw := NewResponseWriter(w)
	rw.WriteStatus(code)
	rw.WriteHeader("Content-Type", "text/html")
	rw.WriteHeader("Content-Length", "0")
	return rw.EndHeaders()
}

// WriteFull writes all of p, looping over short writes. A write that makes
// no progress without reporting an error yields io.ErrShortWrite.
func WriteFull(w io.Writer, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
