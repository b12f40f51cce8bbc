// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

// Package observability serves Prometheus metrics and Kubernetes-style
// health probes over a plain HTTP listener, grounded directly on the
// teacher's own internal/observability package: a private
// prometheus.Registry (so wasmstream's metrics never collide with
// anything else registered against the global default), the Go/process
// collectors, and the same /healthz/liveness + /healthz/readiness
// route split.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the runtime is ready to accept
// traffic (e.g. the store is open and the module registry has
// finished its startup scan).
type ReadinessChecker func() bool

// Metrics holds the runtime's domain-specific Prometheus instruments,
// covering each core component's externally visible behavior: C6's
// command outcomes, C4's live-actor population, C5's subscriber count
// and delivery lag.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	EventsAppended   prometheus.Counter
	ActiveActors     prometheus.Gauge
	ActiveSubscribers prometheus.Gauge
	DeliveryBacklog  *prometheus.GaugeVec
}

// NewMetrics creates and registers wasmstream's custom metrics against
// reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wasmstream_commands_total",
			Help: "Total number of Execute calls by category and outcome",
		}, []string{"category", "outcome"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "wasmstream_command_duration_seconds",
			Help: "Execute call latency in seconds",
		}, []string{"category"}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "wasmstream_events_appended_total",
			Help: "Total number of events persisted across all streams",
		}),
		ActiveActors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wasmstream_active_actors",
			Help: "Number of live actors currently held by the Supervisor",
		}),
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wasmstream_active_subscribers",
			Help: "Number of open subscriptions on the Subscription Hub",
		}),
		DeliveryBacklog: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wasmstream_subscriber_backlog",
			Help: "Global id distance between a subscriber's cursor and the store head",
		}, []string{"subscriber"}),
	}
}

// Server serves /metrics and the health probes on its own listener,
// separate from the gRPC gateway and control ports.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates an observability server bound to addr. readiness
// is consulted by /healthz/readiness; a nil readiness always reports
// ready.
func NewServer(addr string, readiness ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readiness,
	}
}

// Metrics returns the instruments callers (the gateway, supervisor,
// hub) record their events against.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins serving in the background.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown observability server: %w", err)
		}
	}
	s.running.Store(false)
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready\n"))
}
