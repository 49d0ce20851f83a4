package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
)

// ReadinessCheck reports why a component cannot take traffic, or nil.
type ReadinessCheck func() error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// HealthServer exposes liveness, readiness and Prometheus metrics.
// Readiness is derived from the registered checks; with none registered the
// process is not ready.
type HealthServer struct {
	server *http.Server

	mu     sync.RWMutex
	checks []namedCheck
}

func NewHealthServer(addr string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/ready", hs.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	return hs
}

func (s *HealthServer) Start() {
	go func() {
		logger.Info("Health server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// AddReadinessCheck registers a check consulted on every /ready request.
func (s *HealthServer) AddReadinessCheck(name string, check ReadinessCheck) {
	s.mu.Lock()
	s.checks = append(s.checks, namedCheck{name: name, check: check})
	s.mu.Unlock()
}

// Handler returns the routing handler, mainly for tests.
func (s *HealthServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := s.checks
	s.mu.RUnlock()

	if len(checks) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: starting"))
		return
	}

	var failed []string
	for _, c := range checks {
		if err := c.check(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", c.name, err))
		}
	}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not ready")
		for _, f := range failed {
			fmt.Fprintf(w, "\n%s", f)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
