// Package api exposes the HTTP surface: session creation, joins, reads, and
// pipeline triggers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coinjam/service_layer/internal/coin"
	"github.com/coinjam/service_layer/internal/eligibility"
	"github.com/coinjam/service_layer/internal/metrics"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/pkg/logger"
)

// PipelineRunner triggers the generation and deployment pipeline for a
// session. Implemented by the coin orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context, sessionID string) (*session.Session, error)
	RunGeneration(ctx context.Context, sessionID string) (*session.Session, error)
	RunDeployment(ctx context.Context, sessionID string) (*session.Session, error)
}

// Server wires the HTTP handlers to the session repository and the pipeline.
type Server struct {
	router   *mux.Router
	repo     *session.Repository
	checker  *eligibility.Checker
	pipeline PipelineRunner
	metrics  *metrics.Metrics
	log      *logger.Logger

	// autoRun launches the full pipeline in the background the moment a join
	// fills a session.
	autoRun bool
}

// ServerConfig wires the server's collaborators. Metrics is optional.
type ServerConfig struct {
	Repository  *session.Repository
	Eligibility *eligibility.Checker
	Pipeline    PipelineRunner
	Metrics     *metrics.Metrics
	AutoRun     bool
}

// NewServer constructs the API server and registers its routes.
func NewServer(cfg ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("api")
	}
	s := &Server{
		router:   mux.NewRouter(),
		repo:     cfg.Repository,
		checker:  cfg.Eligibility,
		pipeline: cfg.Pipeline,
		metrics:  cfg.Metrics,
		log:      log,
		autoRun:  cfg.AutoRun,
	}
	s.registerRoutes()
	return s
}

// Router returns the underlying router so callers can attach middleware.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/join", s.handleJoinSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/generate", s.handleGenerate).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/deploy", s.handleDeploy).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// maybeAutoRun schedules the pipeline when the session just filled.
func (s *Server) maybeAutoRun(sess *session.Session) {
	if !s.autoRun || sess.Status != session.StatusGenerating {
		return
	}
	id := sess.ID
	go func() {
		_, err := s.pipeline.Run(context.Background(), id)
		switch {
		case err == nil:
		case errors.Is(err, coin.ErrSessionNotReady):
			// A manual trigger claimed the session first.
			s.log.WithField("session_id", id).Info("background pipeline run superseded")
		default:
			s.log.WithError(err).WithField("session_id", id).Error("background pipeline run failed")
		}
	}()
}

var _ PipelineRunner = (*coin.Orchestrator)(nil)
