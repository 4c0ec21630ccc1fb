// Package httpserver exposes the controller status over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/freqpilot/internal/config"
	"github.com/skobkin/freqpilot/internal/status"
	"github.com/skobkin/freqpilot/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	board      *status.Board

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, board *status.Board) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		board:  board,
	}
	if cfg.HTTP.WSMaxClients > 0 {
		s.maxWSClients = int64(cfg.HTTP.WSMaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWS)

	if cfg.HTTP.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.HTTP.EnablePprof {
		registerPprof(mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type readyResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) readiness() readyResponse {
	snap, ok := s.board.Latest()
	if !ok {
		return readyResponse{Status: "initializing", Reason: "waiting_for_first_frame"}
	}
	if snap.State != "running" {
		return readyResponse{Status: "finished", State: snap.State, Reason: "run_ended"}
	}
	return readyResponse{Status: "ok", State: snap.State}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	info := s.readiness()
	code := http.StatusOK
	if info.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.board.Latest()
	if !ok {
		http.Error(w, "no status available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newControllerCollector(s.board))

	wsOpts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: metricsNamespace, Subsystem: "ws", Name: name, Help: help}
	}
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts(wsOpts("clients", "WebSocket status clients currently connected.")),
		func() float64 { return float64(s.wsActive.Load()) },
	))
	for _, c := range []struct {
		name, help string
		value      func() uint64
	}{
		{"accepted_total", "WebSocket status clients accepted.", s.wsTotal.Load},
		{"rejected_total", "WebSocket clients turned away at capacity.", s.wsRejected.Load},
		{"sent_total", "Status messages written to WebSocket clients.", s.wsSent.Load},
		{"dropped_total", "Status messages dropped for slow WebSocket clients.", s.wsDropped.Load},
	} {
		registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts(wsOpts(c.name, c.help)),
			func() float64 { return float64(c.value()) },
		))
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
