// Package server implements the HTTP control-plane boundary: the narrow set
// of routes described in spec.md's external interfaces, translating HTTP
// requests into Orchestrator calls and Orchestrator/apperr results back into
// responses.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/hostmeta"
	"github.com/prevant-go/prevant/internal/metrics"
	"github.com/prevant-go/prevant/internal/orchestrator"
	"github.com/prevant-go/prevant/pkg/logging"
)

// Server owns the HTTP listener and the router wiring every route to its
// handler.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	cache        *hostmeta.Cache
	config       *config.Config
	metrics      *metrics.Registry

	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server. Call ListenAndServe to start accepting connections.
// m may be nil, in which case /metrics serves an empty collector set.
func New(orch *orchestrator.Orchestrator, cache *hostmeta.Cache, cfg *config.Config, m *metrics.Registry) *Server {
	s := &Server{orchestrator: orch, cache: cache, config: cfg, metrics: m}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/apps", s.handleListApps).Methods(http.MethodGet)
	r.HandleFunc("/apps/{appName}", s.handleCreateOrUpdate).Methods(http.MethodPost)
	r.HandleFunc("/apps/{appName}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/apps/{appName}/status-changes/{id}", s.handleStatusChange).Methods(http.MethodGet)
	r.HandleFunc("/apps/{appName}/logs/{service}", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/apps/{appName}/states/{service}", s.handleChangeStatus).Methods(http.MethodPut)

	var gatherer prometheus.Gatherer = prometheus.NewRegistry()
	if s.metrics != nil {
		gatherer = s.metrics.Gatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Router exposes the underlying mux.Router, mainly so tests can drive
// requests through it directly with httptest.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks serving HTTP on addr until Shutdown is called, at
// which point it returns nil rather than http.ErrServerClosed.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	logging.Info("server", "listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
