package dispatch

import (
	"fmt"
	"net"
	"sync"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/queue"
)

type task struct {
	conn net.Conn
	h    core.ConnectionHandler
}

// Pool feeds a fixed set of worker goroutines through an unbounded FIFO.
// At most Size handlers run at once; excess connections wait in the queue.
type Pool struct {
	size  int
	queue *queue.Queue[task]
	wg    sync.WaitGroup
}

// NewPool starts size workers. They live until Close.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	p := &Pool{size: size, queue: queue.New[task]()}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	logger.Info("Worker pool started", "workers", size)
	return p, nil
}

// Dispatch enqueues the connection; it never blocks on busy workers.
func (p *Pool) Dispatch(conn net.Conn, h core.ConnectionHandler) error {
	// counted before the push so a worker's Dec never runs first
	metrics.QueueDepth.Inc()
	if err := p.queue.Push(task{conn: conn, h: h}); err != nil {
		metrics.QueueDepth.Dec()
		conn.Close()
		return fmt.Errorf("enqueue connection: %w", err)
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		t, ok := p.queue.Pop()
		if !ok {
			logger.Debug("Pool worker exiting", "worker", id)
			return
		}
		metrics.QueueDepth.Dec()
		run(StrategyPool, t.conn, t.h)
	}
}

// Size is the fixed number of workers.
func (p *Pool) Size() int { return p.size }

// Pending is the number of connections waiting for a worker.
func (p *Pool) Pending() int { return p.queue.Len() }

// Close stops accepting work and waits until the workers have drained the
// queue and returned.
func (p *Pool) Close() error {
	p.queue.Close()
	p.wg.Wait()
	return nil
}

func (p *Pool) Isolated() bool { return false }
