package dispatch

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
)

// The test binary doubles as the child of the process dispatcher.
func TestMain(m *testing.M) {
	if IsChild() {
		err := ServeChild(core.HandlerFunc(func(c net.Conn) {
			defer c.Close()
			fmt.Fprintf(c, "pid=%d", os.Getpid())
		}))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// countingConn records how many times Close is called.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func newCountingConn(t *testing.T) *countingConn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	return &countingConn{Conn: a}
}

// tracker is a handler that records concurrency and closes its connection.
type tracker struct {
	active  atomic.Int32
	max     atomic.Int32
	handled atomic.Int32
	release chan struct{}
	done    sync.WaitGroup
}

func newTracker(n int, blocking bool) *tracker {
	tr := &tracker{}
	if blocking {
		tr.release = make(chan struct{})
	}
	tr.done.Add(n)
	return tr
}

func (tr *tracker) HandleConnection(conn net.Conn) {
	defer tr.done.Done()
	defer conn.Close()
	n := tr.active.Add(1)
	for {
		m := tr.max.Load()
		if n <= m || tr.max.CompareAndSwap(m, n) {
			break
		}
	}
	if tr.release != nil {
		<-tr.release
	}
	tr.handled.Add(1)
	tr.active.Add(-1)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestEveryConnectionClosedExactlyOnce(t *testing.T) {
	builders := map[Strategy]func(t *testing.T) core.Dispatcher{
		StrategyInline: func(*testing.T) core.Dispatcher { return NewInline() },
		StrategyThread: func(*testing.T) core.Dispatcher { return NewThread() },
		StrategyPool: func(t *testing.T) core.Dispatcher {
			p, err := NewPool(3)
			require.NoError(t, err)
			return p
		},
	}
	for name, build := range builders {
		t.Run(string(name), func(t *testing.T) {
			const n = 20
			d := build(t)
			tr := newTracker(n, false)
			conns := make([]*countingConn, n)
			for i := range conns {
				conns[i] = newCountingConn(t)
				require.NoError(t, d.Dispatch(conns[i], tr))
			}
			tr.done.Wait()
			require.NoError(t, d.Close())

			for i, c := range conns {
				assert.EqualValues(t, 1, c.closes.Load(), "connection %d", i)
			}
		})
	}
}

func TestInlineNeverOverlaps(t *testing.T) {
	d := NewInline()
	tr := newTracker(10, false)
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Dispatch(newCountingConn(t), tr))
		// the handler has finished before Dispatch returns
		assert.EqualValues(t, i+1, tr.handled.Load())
	}
	tr.done.Wait()
	assert.EqualValues(t, 1, tr.max.Load())
	assert.False(t, d.Isolated())
}

func TestThreadHandlesConcurrently(t *testing.T) {
	d := NewThread()
	tr := newTracker(4, true)
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Dispatch(newCountingConn(t), tr))
	}
	waitFor(t, func() bool { return tr.active.Load() == 4 })
	close(tr.release)
	tr.done.Wait()
	assert.EqualValues(t, 4, tr.max.Load())
	assert.False(t, d.Isolated())
}

func TestPoolCapsConcurrency(t *testing.T) {
	const size, extra = 3, 5
	p, err := NewPool(size)
	require.NoError(t, err)

	tr := newTracker(size+extra, true)
	for i := 0; i < size+extra; i++ {
		require.NoError(t, p.Dispatch(newCountingConn(t), tr))
	}

	waitFor(t, func() bool { return tr.active.Load() == size })
	// give idle workers (there are none) a chance to over-admit
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, size, tr.active.Load())
	assert.Equal(t, extra, p.Pending())
	assert.EqualValues(t, extra, testutil.ToFloat64(metrics.QueueDepth))

	close(tr.release)
	tr.done.Wait()
	require.NoError(t, p.Close())

	assert.EqualValues(t, size, tr.max.Load())
	assert.EqualValues(t, size+extra, tr.handled.Load())
	assert.Equal(t, 0, p.Pending())
	assert.Zero(t, testutil.ToFloat64(metrics.QueueDepth))
}

func TestPoolServesInArrivalOrder(t *testing.T) {
	p, err := NewPool(1)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, p.Dispatch(newCountingConn(t), core.HandlerFunc(func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})))
	}
	wg.Wait()
	require.NoError(t, p.Close())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestPoolRejectsBadSizeAndClosedDispatch(t *testing.T) {
	_, err := NewPool(0)
	assert.Error(t, err)

	p, err := NewPool(1)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	depth := testutil.ToFloat64(metrics.QueueDepth)
	c := newCountingConn(t)
	assert.Error(t, p.Dispatch(c, core.HandlerFunc(func(net.Conn) {})))
	assert.EqualValues(t, 1, c.closes.Load())
	assert.Equal(t, depth, testutil.ToFloat64(metrics.QueueDepth), "a rejected connection is not counted as queued")
}

func tcpPair(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	client, err = net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server, err = l.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return server, client
}

func testProcess(t *testing.T) *Process {
	t.Helper()
	if !ProcessSupported() {
		t.Skip("process dispatch unsupported on this platform")
	}
	return &Process{
		Path: os.Args[0],
		Args: []string{os.Args[0], "-test.run=^$"},
		Env:  os.Environ(),
	}
}

func TestProcessServesInChild(t *testing.T) {
	d := testProcess(t)
	assert.True(t, d.Isolated())

	server, client := tcpPair(t)
	require.NoError(t, d.Dispatch(server, core.HandlerFunc(func(net.Conn) {
		t.Error("handler must not run in the parent")
	})))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(10*time.Second)))
	// EOF only arrives once both the child and the parent dropped the socket
	body, err := io.ReadAll(client)
	require.NoError(t, err)

	got := string(body)
	require.True(t, strings.HasPrefix(got, "pid="), "unexpected reply %q", got)
	pid, err := strconv.Atoi(strings.TrimPrefix(got, "pid="))
	require.NoError(t, err)
	assert.NotEqual(t, os.Getpid(), pid)
}

func TestProcessSpawnFailureIsFatalAndClosesConnection(t *testing.T) {
	d := testProcess(t)
	d.Path = "/nonexistent/xrelay-child"

	server, client := tcpPair(t)
	err := d.Dispatch(server, core.HandlerFunc(func(net.Conn) {}))
	require.ErrorIs(t, err, core.ErrExecutionContextExhausted)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestProcessRequiresDescriptor(t *testing.T) {
	d := testProcess(t)
	c := newCountingConn(t)
	err := d.Dispatch(c, core.HandlerFunc(func(net.Conn) {}))
	assert.ErrorIs(t, err, core.ErrExecutionContextExhausted)
	assert.EqualValues(t, 1, c.closes.Load())
}
