// Package server exposes the scheduler bridge over a JSON REST API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/firebridge/internal/config"
	"github.com/me/firebridge/internal/scheduler"
	"github.com/me/firebridge/internal/store"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SchedulerFunc returns the scheduler that reaches the computer registered
// for hostID.
type SchedulerFunc func(hostID string) (scheduler.Scheduler, error)

// Server is the firebridge REST API server.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	config     config.ServerConfig
	startTime  time.Time
	store      store.JobStore
	schedulers SchedulerFunc
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.JobStore, schedulers SchedulerFunc, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With("component", "server"),
		config:     cfg,
		startTime:  time.Now(),
		store:      st,
		schedulers: schedulers,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleSubmitJob)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/kill", s.handleKillJob)
			})
		})
	})
}
