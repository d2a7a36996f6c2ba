// Package api exposes the HTTP surface: Google push webhooks, manual sync,
// task review feedback, and the suppression admin endpoints.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/carebridge/inbox-triage/internal/config"
	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/suppression"
)

// SyncService is the scheduler surface the API calls into.
type SyncService interface {
	SyncSource(ctx context.Context, sourceID, callerID string, reason domain.SyncReason) (domain.SyncResult, error)
	NotifyMailPush(ctx context.Context, accountEmail string)
	NotifyChannelPush(ctx context.Context, channelID string)
	VerifyChannelToken(sourceID, token string) bool
}

// TaskStore is the task persistence surface the API reads and updates.
type TaskStore interface {
	Ignore(ctx context.Context, id string) (*domain.Task, error)
	ListByCaregiver(ctx context.Context, caregiverID string, reviewState domain.ReviewState, limit int) ([]*domain.Task, error)
}

// SourceStore is the source persistence surface the API reads.
type SourceStore interface {
	Get(ctx context.Context, id string) (*domain.Source, error)
	ListByCaregiver(ctx context.Context, caregiverID string) ([]*domain.Source, error)
	FindByChannelID(ctx context.Context, channelID string) (*domain.Source, error)
}

// PushTokenValidator verifies the bearer JWT on a pub/sub push request.
// Production wires Google's idtoken validation; tests inject a fake.
type PushTokenValidator func(ctx context.Context, token, audience string) error

// Server is the HTTP server for the triage core.
type Server struct {
	cfg       config.ServerConfig
	google    config.GoogleConfig
	router    *chi.Mux
	server    *http.Server
	syncer    SyncService
	tasks     TaskStore
	sources   SourceStore
	learner   *suppression.Learner
	db        *sql.DB
	validator PushTokenValidator
}

// NewServer wires the routes. db may be nil (health check degrades to
// process-only), validator may be nil (pub/sub JWT verification disabled,
// calendar channel tokens still verified).
func NewServer(cfg config.ServerConfig, google config.GoogleConfig, syncer SyncService, tasks TaskStore, sources SourceStore, learner *suppression.Learner, db *sql.DB, validator PushTokenValidator) *Server {
	s := &Server{
		cfg:       cfg,
		google:    google,
		syncer:    syncer,
		tasks:     tasks,
		sources:   sources,
		learner:   learner,
		db:        db,
		validator: validator,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	// Provider push endpoint. GET answers verification probes.
	r.Get("/webhooks/google/push", s.handlePushProbe)
	r.Post("/webhooks/google/push", s.handlePush)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sources/{id}/sync", s.handleManualSync)
		r.Get("/sources", s.handleListSources)
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks/{id}/ignore", s.handleIgnoreTask)
		r.Get("/suppressions", s.handleListSuppressions)
		r.Post("/suppressions", s.handleSuppress)
		r.Delete("/suppressions", s.handleUnsuppress)
	})

	return r
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.GetHost(), s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Printf("[API] Listening on %s", addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
