// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"analysisweb/internal/controller/handlers"
	"analysisweb/internal/controller/middleware"
	"analysisweb/internal/logger"
)

// Options configures the controller server.
type Options struct {
	Addr string

	// InternalSecret protects the worker endpoints. Empty disables the check.
	InternalSecret string

	// RateLimit is the number of requests per second per client. Zero means unlimited.
	RateLimit      float64
	RateLimitBurst int

	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(h *handlers.Handlers, opts Options) *Server {
	internal := middleware.RequireInternalAuth(opts.InternalSecret)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("POST /measurements", h.CreateMeasurement)
	mux.HandleFunc("GET /measurements", h.ListMeasurements)
	mux.HandleFunc("GET /measurements/meta", h.MeasurementMeta)
	mux.HandleFunc("GET /measurements/{id}", h.GetMeasurement)
	mux.HandleFunc("PUT /measurements/{id}", h.UpdateMeasurement)
	mux.HandleFunc("DELETE /measurements/{id}", h.DeleteMeasurement)

	mux.HandleFunc("POST /analyses", h.CreateAnalysis)
	mux.HandleFunc("GET /analyses", h.ListAnalyses)
	mux.HandleFunc("GET /analyses/meta", h.AnalysisMeta)
	mux.HandleFunc("GET /analyses/{id}", h.GetAnalysis)
	mux.HandleFunc("PUT /analyses/{id}", h.UpdateAnalysis)
	mux.HandleFunc("DELETE /analyses/{id}", h.DeleteAnalysis)

	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.DeleteJob)

	// Callbacks of the analysis executable, which only knows the URLs
	// written to its dispatch document.
	mux.HandleFunc("POST /jobs/{id}/output", h.IngestOutputs)
	mux.HandleFunc("POST /jobs/{id}/report", h.IngestReport)

	// Internal endpoints
	// These are called by the Worker Agent and operators.
	mux.Handle("POST /jobs/{id}/log", internal(http.HandlerFunc(h.IngestLog)))
	mux.Handle("GET /dispatch/dlq", internal(http.HandlerFunc(h.ListDLQ)))
	mux.Handle("POST /dispatch/dlq/{job_id}/retry", internal(http.HandlerFunc(h.RetryDLQ)))

	mux.Handle("GET /files/", http.StripPrefix("/files", h.Files()))

	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst)
	handler := logger.Middleware(limiter.Middleware()(mux))

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// Uploads and artifact downloads may be large.
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
