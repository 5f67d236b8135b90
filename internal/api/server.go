// Package api exposes the controller over HTTP. Routes follow the
// ServeMux method-pattern syntax; every response body is JSON with
// camelCase keys, and errors carry their code and kind verbatim so
// clients can switch on them.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/controller"
	"github.com/steladb/stela/internal/engine"
	"github.com/steladb/stela/internal/metrics"
)

const shutdownGrace = 10 * time.Second

// Server serves the HTTP API for one controller.
type Server struct {
	ctrl       *controller.Controller
	addr       string
	maxPayload int64
	mux        *http.ServeMux
}

// NewServer builds the route table. Metrics are registered on a fresh
// registry here so two servers in one process never double-register.
func NewServer(cfg *config.Config, ctrl *controller.Controller) *Server {
	s := &Server{
		ctrl:       ctrl,
		addr:       cfg.HTTP.Addr,
		maxPayload: cfg.HTTP.MaxPayloadBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("GET /indexes", s.handleListIndexes)
	mux.HandleFunc("POST /indexes", s.handleCreateIndex)
	mux.HandleFunc("GET /indexes/{uid}", s.handleGetIndex)
	mux.HandleFunc("PUT /indexes/{uid}", s.handleUpdateIndex)
	mux.HandleFunc("DELETE /indexes/{uid}", s.handleDeleteIndex)
	mux.HandleFunc("GET /indexes/{uid}/stats", s.handleStats)
	mux.HandleFunc("POST /swap-indexes", s.handleSwapIndexes)

	mux.HandleFunc("GET /indexes/{uid}/documents", s.handleListDocuments)
	mux.HandleFunc("GET /indexes/{uid}/documents/{docid}", s.handleGetDocument)
	mux.HandleFunc("POST /indexes/{uid}/documents", s.handleAddDocuments(engine.MethodReplace))
	mux.HandleFunc("PUT /indexes/{uid}/documents", s.handleAddDocuments(engine.MethodUpdate))
	mux.HandleFunc("POST /indexes/{uid}/documents/delete-batch", s.handleDeleteBatch)
	mux.HandleFunc("DELETE /indexes/{uid}/documents", s.handleClearDocuments)

	mux.HandleFunc("GET /indexes/{uid}/search", s.handleSearchGet)
	mux.HandleFunc("POST /indexes/{uid}/search", s.handleSearchPost)

	mux.HandleFunc("GET /indexes/{uid}/settings", s.handleGetSettings)
	mux.HandleFunc("POST /indexes/{uid}/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /indexes/{uid}/facets", s.handleUpdateFacets)

	mux.HandleFunc("GET /indexes/{uid}/tasks", s.handleListTasks)
	mux.HandleFunc("GET /indexes/{uid}/tasks/{taskId}", s.handleGetTask)

	if cfg.HTTP.EnableMetrics {
		reg := prometheus.NewRegistry()
		metrics.Register(reg)
		reg.MustRegister(
			metrics.NewStoreCollector(ctrl.UpdateLog()),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.mux = mux
	return s
}

// Handler returns the full middleware-wrapped handler, exported so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// ListenAndServe blocks until ctx is cancelled or the listener fails,
// then shuts down gracefully so in-flight requests finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	slog.Info("http server listening", slog.String("addr", s.addr))

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http on %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	<-errc
	slog.Info("http server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(began)))
	})
}
