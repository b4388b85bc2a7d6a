// Package server provides the HTTP API of the upload service.
//
// Endpoints:
//
//	POST /?uploadPath=<path>  store the first file part of a multipart form
//	GET  /healthz             liveness probe
//	GET  /metrics             Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tomasbasham/cdn/internal/metrics"
	"github.com/tomasbasham/cdn/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	store   storage.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	router  *mux.Router
}

// New creates a Server writing uploads to store. When reg is non-nil the
// upload collectors are registered with it and exposed on /metrics.
func New(store storage.Store, logger *zap.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:  store,
		logger: logger,
		router: mux.NewRouter(),
	}

	s.router.Use(s.logRequests)
	s.router.HandleFunc("/", s.handleUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if reg != nil {
		s.metrics = metrics.New(reg)
		s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. In-flight uploads get shutdownTimeout to complete.
//
// No read or write timeout is set: upload duration is bounded by the client.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", zap.String("address", addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
