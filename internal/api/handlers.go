package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coinjam/service_layer/internal/coin"
	"github.com/coinjam/service_layer/internal/httputil"
	"github.com/coinjam/service_layer/internal/middleware"
	"github.com/coinjam/service_layer/internal/session"
)

type createSessionRequest struct {
	MaxParticipants     int    `json:"max_participants"`
	JoinPolicy          string `json:"join_policy,omitempty"`
	MinReputationScore  int    `json:"min_reputation_score,omitempty"`
	StylePreference     string `json:"style_preference,omitempty"`
	IncludeAvatarsInArt bool   `json:"include_avatars_in_art,omitempty"`
	Prompt              string `json:"prompt"`
}

type joinSessionRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{Error: "authentication required"})
		return
	}

	var req createSessionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	sess, err := s.repo.Create(r.Context(), caller.ID, session.CreateConfig{
		MaxParticipants:     req.MaxParticipants,
		JoinPolicy:          session.JoinPolicy(req.JoinPolicy),
		MinReputationScore:  req.MinReputationScore,
		StylePreference:     req.StylePreference,
		IncludeAvatarsInArt: req.IncludeAvatarsInArt,
		CreatorPrompt:       req.Prompt,
		CreatorDisplayName:  caller.DisplayName,
		CreatorWallet:       caller.Wallet,
		CreatorAvatarURI:    caller.AvatarURI,
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	s.maybeAutoRun(sess)
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{Error: "authentication required"})
		return
	}

	var req joinSessionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	sess, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	decision := s.checker.CanJoin(r.Context(), caller.ID, sess)
	if !decision.Allowed {
		s.recordJoin("denied")
		httputil.Forbidden(w, "not eligible to join", decision.Reason)
		return
	}

	sess, err = s.repo.AddParticipant(r.Context(), id, session.Participant{
		ID:            caller.ID,
		DisplayName:   caller.DisplayName,
		WalletAddress: caller.Wallet,
		AvatarURI:     caller.AvatarURI,
		PromptText:    req.Prompt,
	})
	if err != nil {
		s.recordJoin("rejected")
		s.writeSessionError(w, err)
		return
	}

	s.recordJoin("accepted")
	s.maybeAutoRun(sess)
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.repo.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.repo.ListActive(r.Context())
	if err != nil {
		s.log.WithError(err).Error("list sessions failed")
		httputil.InternalError(w, "could not list sessions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pipeline.RunGeneration(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pipeline.RunDeployment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) recordJoin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordJoin(outcome)
	}
}

// writeSessionError maps repository errors to HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		httputil.NotFound(w, "session not found")
	case errors.Is(err, session.ErrSessionFull), errors.Is(err, session.ErrAlreadyJoined):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, session.ErrPromptRequired),
		errors.Is(err, session.ErrPromptTooLong),
		errors.Is(err, session.ErrInvalidCapacity),
		errors.Is(err, session.ErrInvalidPolicy):
		httputil.BadRequest(w, err.Error())
	default:
		s.log.WithError(err).Error("session operation failed")
		httputil.InternalError(w, "internal error")
	}
}

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		httputil.NotFound(w, "session not found")
	case errors.Is(err, coin.ErrSessionNotReady):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, coin.ErrPipelineFailed), errors.Is(err, coin.ErrDeploymentFailed):
		httputil.WriteJSON(w, http.StatusBadGateway, httputil.ErrorBody{Error: err.Error()})
	default:
		s.log.WithError(err).Error("pipeline trigger failed")
		httputil.InternalError(w, "internal error")
	}
}
