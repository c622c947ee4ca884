// Package api exposes the pipeline over HTTP. The surface is stateless:
// validation, pagination bounds, auth, and rate limiting live here; all
// business logic stays in the services the handlers delegate to.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chronicle-dev/chronicle/internal/cleaner"
	"github.com/chronicle-dev/chronicle/internal/index"
	"github.com/chronicle-dev/chronicle/internal/ingest/calendar"
	"github.com/chronicle-dev/chronicle/internal/ingest/notes"
	"github.com/chronicle-dev/chronicle/internal/jobs"
	"github.com/chronicle-dev/chronicle/internal/logging"
	"github.com/chronicle-dev/chronicle/internal/processor"
	"github.com/chronicle-dev/chronicle/internal/storage"
)

// Config tunes the HTTP server.
type Config struct {
	Addr      string
	Prefix    string // mount point, default /api/v1
	AuthToken string
	DevBypass bool // development environment disables auth

	CORSOrigins     []string
	CORSCredentials bool
	CORSMethods     []string
	CORSHeaders     []string

	RateLimits   RateLimits
	HistoryLimit int // GET /process/history default page
}

// Services are the collaborators the handlers delegate to. Store and
// Tracker are required; nil ingestors disable their import endpoints.
type Services struct {
	Store       storage.Store
	Tracker     *jobs.Tracker
	Processor   *processor.Processor
	Cleaner     *cleaner.Cleaner
	Calendar    *calendar.Ingestor
	CalendarIDs []string
	Notes       *notes.Ingestor
	Indexer     *index.Indexer
	Imports     *ImportRegistry
}

// Server is the HTTP front of the pipeline.
type Server struct {
	cfg  Config
	svc  Services
	http *http.Server
	log  *slog.Logger
}

// New builds a Server. The listener is not opened until Start.
func New(cfg Config, svc Services) *Server {
	if cfg.Prefix == "" {
		cfg.Prefix = "/api/v1"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if svc.Imports == nil {
		svc.Imports = NewImportRegistry()
	}

	s := &Server{
		cfg: cfg,
		svc: svc,
		log: logging.Component("api"),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the full middleware chain and route table. Exposed so
// tests can drive the handlers through httptest without a listener.
func (s *Server) Router() http.Handler {
	limiter := newRateLimiter(s.cfg.RateLimits)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowCredentials: s.cfg.CORSCredentials,
		AllowedMethods:   s.corsMethods(),
		AllowedHeaders:   s.corsHeaders(),
	}))

	// Unversioned, unauthenticated probes.
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)

	r.Route(s.cfg.Prefix, func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.AuthToken, s.cfg.DevBypass))

		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware(classDefault))

			r.Get("/activities/raw", s.handleListRawActivities)
			r.Get("/activities/processed", s.handleListProcessedActivities)

			r.Get("/tags", s.handleListTags)
			r.Post("/tags", s.handleCreateTag)
			r.Get("/tags/{id}", s.handleGetTag)
			r.Put("/tags/{id}", s.handleUpdateTag)
			r.Delete("/tags/{id}", s.handleDeleteTag)

			r.Get("/insights/overview", s.handleOverview)
			r.Get("/insights/time-distribution", s.handleTimeDistribution)

			r.Get("/system/health", s.handleSystemHealth)
			r.Get("/system/stats", s.handleSystemStats)

			r.Get("/process/status/{job_id}", s.handleProcessStatus)
			r.Get("/process/history", s.handleProcessHistory)
			r.Get("/import/status", s.handleImportStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware(classProcessing))

			r.Post("/process/daily", s.handleProcessDaily)
			r.Post("/tags/cleanup", s.handleTagCleanup)
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware(classImport))

			r.Post("/import/calendar", s.handleImportCalendar)
			r.Post("/import/notion", s.handleImportNotes)
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.cfg.Addr, "prefix", s.cfg.Prefix)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) corsMethods() []string {
	if len(s.cfg.CORSMethods) == 0 {
		return []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	return s.cfg.CORSMethods
}

func (s *Server) corsHeaders() []string {
	if len(s.cfg.CORSHeaders) == 0 {
		return []string{"Authorization", "Content-Type"}
	}
	return s.cfg.CORSHeaders
}
