// Package httpapi is Nalyze's HTTP surface (spec §6): a chi router
// wiring `/datasets`, `/chat`, `/queries/execute`, `/reports`,
// `/reports/{id}`, `/test-ai-connection`, `/healthz`, and `/metrics`
// over the conversation state machine and query executor. `/datasets`
// isn't named in spec §6's endpoint list, but the registry it backs
// (`registry.json`) has no other documented way to gain an entry —
// this is the operational gap the HTTP surface needs filled to be
// usable end to end.
//
// Grounded on CrlsMrls-dummybox/server/server.go's middleware chain
// (zerolog-in-context, metrics, request-id, correlation id, panic
// recovery) and server/routes.go's route registration; the
// correlation-id propagation is CorrelationIDMiddleware verbatim in
// spirit, adapted to internal/logging's context-logger convention
// instead of zerolog/hlog.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nalyze/nalyze/internal/aiclient"
	"github.com/nalyze/nalyze/internal/config"
	"github.com/nalyze/nalyze/internal/conversation"
	"github.com/nalyze/nalyze/internal/logging"
	"github.com/nalyze/nalyze/internal/metrics"
	"github.com/nalyze/nalyze/internal/registry"
	"github.com/nalyze/nalyze/internal/reportstore"
	"github.com/nalyze/nalyze/internal/sqlexec"
)

// Server bundles the chi router with the collaborators its handlers need.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	cfg        *config.Config

	registry *registry.Store
	reports  *reportstore.Store
	exec     *sqlexec.Manager
	conv     *conversation.Manager
	ai       aiclient.Client
	met      *metrics.Registry
}

// New wires the router and the underlying http.Server.
func New(cfg *config.Config, reg *registry.Store, reports *reportstore.Store, exec *sqlexec.Manager,
	conv *conversation.Manager, ai aiclient.Client, met *metrics.Registry) *Server {

	s := &Server{cfg: cfg, registry: reg, reports: reports, exec: exec, conv: conv, ai: ai, met: met}

	r := chi.NewRouter()
	r.Use(
		correlationIDMiddleware,
		met.HTTPMiddleware,
		accessLogMiddleware,
		middleware.Recoverer,
	)

	r.Post("/datasets", s.handleDatasetsRegister)
	r.Get("/datasets", s.handleDatasetsList)
	r.Post("/chat", s.handleChat)
	r.Post("/queries/execute", s.handleQueriesExecute)
	r.Get("/reports", s.handleReportsList)
	r.Get("/reports/{id}", s.handleReportGet)
	r.Get("/test-ai-connection", s.handleTestAIConnection)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", met.Handler())

	s.router = r
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	return s
}

// ServeHTTP lets Server itself be used directly in tests via httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start runs the server until ctx is canceled, then shuts down within
// the configured shutdown timeout (spec §6 Configuration, HTTPConfig.ShutdownTimeout).
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx, _ := logging.WithCorrelationID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		logging.FromContext(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
