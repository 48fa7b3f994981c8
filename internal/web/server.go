// Package web serves the JSON API used by the topnote web client and
// widgets.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/clock"
	"github.com/conorfennell/topnote/internal/engine"
	"github.com/conorfennell/topnote/internal/importer"
	"github.com/conorfennell/topnote/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Catalog lists and removes card sources and lists folders.
type Catalog interface {
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	DeleteSource(ctx context.Context, id int64) error
	ListFolders(ctx context.Context) ([]card.Folder, error)
}

// Config holds the server's tunables.
type Config struct {
	CORSOrigins []string
	// MaxResults is the timeline size when a request does not set one.
	MaxResults int
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	engine     *engine.Engine
	importer   *importer.Importer
	catalog    Catalog
	widget     *Widget
	clock      clock.Clock
	maxResults int
	router     chi.Router
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(eng *engine.Engine, imp *importer.Importer, catalog Catalog, widget *Widget, clk clock.Clock, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		engine:     eng,
		importer:   imp,
		catalog:    catalog,
		widget:     widget,
		clock:      clk,
		maxResults: cfg.MaxResults,
		router:     chi.NewRouter(),
		logger:     logger.With("component", "web"),
	}
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.handler = c.Handler(s.router)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/timeline", s.handleTimeline)
		r.Get("/widget", s.handleWidget)
		r.Get("/stats", s.handleStats)
		r.Get("/resolve", s.handleResolve)
		r.Get("/folders", s.handleGetFolders)

		r.Post("/cards", s.handleCreateCard)
		r.Route("/cards/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCard)
			r.Post("/skip", s.transition(skip))
			r.Post("/complete", s.transition(complete))
			r.Post("/rate", s.transition(rate))
			r.Post("/archive", s.transition(archive))
			r.Post("/enqueue", s.transition(enqueue))
			r.Post("/reveal", s.transition(reveal))
		})

		r.Get("/sources", s.handleGetSources)
		r.Post("/sources", s.handlePostSource)
		r.Delete("/sources/{id}", s.handleDeleteSource)
		r.Post("/sync", s.handlePostSync)
	})
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
