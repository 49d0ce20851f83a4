package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
)

type closingResolver struct {
	staticResolver
	closed int
}

func (r *closingResolver) Close() error {
	r.closed++
	return nil
}

type staticResolver struct {
	addr string
	err  error
}

func (r staticResolver) Resolve(ctx context.Context, target core.ProxyTarget) (string, error) {
	return r.addr, r.err
}

// upstream accepts one connection, records what it was sent up to the blank
// line and answers with reply before closing.
type upstream struct {
	addr     string
	received chan string
}

func startUpstream(t *testing.T, reply []byte) *upstream {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	u := &upstream{addr: l.Addr().String(), received: make(chan string, 1)}
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.SetDeadline(time.Now().Add(5 * time.Second))

		var head strings.Builder
		br := bufio.NewReader(c)
		for {
			line, err := br.ReadString('\n')
			head.WriteString(line)
			if err != nil || line == "\r\n" {
				break
			}
		}
		u.received <- head.String()
		c.Write(reply)
	}()
	return u
}

func roundTrip(t *testing.T, h core.ConnectionHandler, raw string) []byte {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		h.HandleConnection(c)
	}()

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	_, err = io.WriteString(c, raw)
	require.NoError(t, err)
	require.NoError(t, c.(*net.TCPConn).CloseWrite())
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))

	out, err := io.ReadAll(c)
	require.NoError(t, err)
	return out
}

func TestRelaysRequestLineAndResponse(t *testing.T) {
	reply := []byte("HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\n" + strings.Repeat("payload ", 2000))
	up := startUpstream(t, reply)

	h := &Handler{
		Target:    core.ProxyTarget{Host: "origin.internal", Port: 80},
		Resolver:  staticResolver{addr: up.addr},
		ChunkSize: 3,
	}
	out := roundTrip(t, h, "GET /search?q=go HTTP/1.1\r\nHost: origin.internal\r\nAccept: */*\r\n\r\n")

	select {
	case head := <-up.received:
		assert.Equal(t, "GET /search?q=go HTTP/1.0\r\n\r\n", head)
	case <-time.After(time.Second):
		t.Fatal("upstream never received a request")
	}
	assert.True(t, bytes.Equal(reply, out), "relayed body differs: got %d bytes, want %d", len(out), len(reply))
}

func TestUpstreamClosingEarlyEndsRelay(t *testing.T) {
	up := startUpstream(t, nil)
	h := &Handler{Target: core.ProxyTarget{Host: "origin", Port: 80}, Resolver: staticResolver{addr: up.addr}}

	out := roundTrip(t, h, "HEAD / HTTP/1.0\r\n\r\n")
	assert.Equal(t, "HEAD / HTTP/1.0\r\n\r\n", <-up.received)
	assert.Empty(t, out)
}

func TestResolveFailureGets502(t *testing.T) {
	h := &Handler{
		Target:   core.ProxyTarget{Host: "nowhere.invalid", Port: 80},
		Resolver: staticResolver{err: errors.New("no such host")},
	}
	out := roundTrip(t, h, "GET / HTTP/1.0\r\n\r\n")
	assert.Equal(t, "HTTP/1.0 502 Bad Gateway\r\nContent-Type: text/html\r\nContent-Length: 0\r\n\r\n", string(out))
}

func TestDialFailureGets502(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	h := &Handler{
		Target:      core.ProxyTarget{Host: "127.0.0.1", Port: 1},
		Resolver:    staticResolver{addr: addr},
		DialTimeout: time.Second,
	}
	out := roundTrip(t, h, "GET / HTTP/1.0\r\n\r\n")
	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.0 502 Bad Gateway\r\n"), "got %q", out)
}

func TestUpstreamFailureStillAnswersMalformedRequest(t *testing.T) {
	h := &Handler{Resolver: staticResolver{err: errors.New("down")}}
	out := roundTrip(t, h, "")
	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.0 502 Bad Gateway\r\n"), "got %q", out)
}

func TestMalformedRequestGets400AndClosesUpstream(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	upstreamSaw := make(chan []byte, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		b, _ := io.ReadAll(c)
		upstreamSaw <- b
	}()

	h := &Handler{Target: core.ProxyTarget{Host: "origin", Port: 80}, Resolver: staticResolver{addr: l.Addr().String()}}
	out := roundTrip(t, h, "GET /partial HTTP/1.0\r\nHost")
	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.0 400 Bad Request\r\n"), "got %q", out)

	select {
	case b := <-upstreamSaw:
		assert.Empty(t, b, "nothing may be forwarded for a malformed request")
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection was never closed")
	}
}

// trickleReader returns upstream data one byte at a time.
type trickleReader struct{ r io.Reader }

func (t trickleReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return t.r.Read(p)
}

func TestRelayHandlesPartialReads(t *testing.T) {
	h := &Handler{ChunkSize: 16}
	var out bytes.Buffer
	n, err := h.relay(&out, trickleReader{strings.NewReader("partial reads are fine")})
	require.NoError(t, err)
	assert.EqualValues(t, 22, n)
	assert.Equal(t, "partial reads are fine", out.String())
}

func TestWriteRequest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRequest(&buf, &core.Request{Method: "POST", Path: "/submit"}))
	assert.Equal(t, "POST /submit HTTP/1.0\r\n\r\n", buf.String())
}

func TestCloseReleasesResolver(t *testing.T) {
	r := &closingResolver{}
	h := &Handler{Resolver: r}
	require.NoError(t, h.Close())
	assert.Equal(t, 1, r.closed)

	// resolvers without resources are left alone
	assert.NoError(t, (&Handler{Resolver: staticResolver{}}).Close())
}
