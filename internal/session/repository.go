package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coinjam/service_layer/internal/store"
	"github.com/coinjam/service_layer/pkg/logger"
)

const (
	sessionKeyPrefix = "session:"
	activeSetKey     = "sessions:active"

	// DefaultMaxPromptLength bounds participant prompt text.
	DefaultMaxPromptLength = 280
	// DefaultMaxParticipantsCap bounds the capacity a creator may request.
	DefaultMaxParticipantsCap = 16
)

// Repository owns session CRUD semantics on top of the key-value store. All
// mutating operations are serialized per session id.
type Repository struct {
	store store.Store
	locks keyedMutex
	log   *logger.Logger

	maxPromptLength    int
	maxParticipantsCap int
}

// RepositoryConfig configures repository bounds.
type RepositoryConfig struct {
	MaxPromptLength    int
	MaxParticipantsCap int
}

// NewRepository constructs a repository over the given store.
func NewRepository(s store.Store, cfg RepositoryConfig, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.NewDefault("session")
	}
	if cfg.MaxPromptLength <= 0 {
		cfg.MaxPromptLength = DefaultMaxPromptLength
	}
	if cfg.MaxParticipantsCap <= 0 {
		cfg.MaxParticipantsCap = DefaultMaxParticipantsCap
	}
	return &Repository{
		store:              s,
		log:                log,
		maxPromptLength:    cfg.MaxPromptLength,
		maxParticipantsCap: cfg.MaxParticipantsCap,
	}
}

// CreateConfig holds creator-supplied session configuration.
type CreateConfig struct {
	MaxParticipants     int
	JoinPolicy          JoinPolicy
	MinReputationScore  int
	StylePreference     string
	IncludeAvatarsInArt bool

	// Creator participant fields. When CreatorPrompt is non-empty the creator
	// joins immediately as the first participant.
	CreatorPrompt      string
	CreatorDisplayName string
	CreatorWallet      string
	CreatorAvatarURI   string
}

// Create allocates a new pending session. If the creator supplied an initial
// prompt they are added as the first participant, which re-runs the capacity
// completion check (a capacity-1 session goes straight to generating).
func (r *Repository) Create(ctx context.Context, creatorID string, cfg CreateConfig) (*Session, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("creator id is required")
	}
	if cfg.MaxParticipants < 1 || cfg.MaxParticipants > r.maxParticipantsCap {
		return nil, fmt.Errorf("%w: %d (allowed 1-%d)", ErrInvalidCapacity, cfg.MaxParticipants, r.maxParticipantsCap)
	}
	if cfg.JoinPolicy == "" {
		cfg.JoinPolicy = PolicyOpen
	}
	if !cfg.JoinPolicy.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, cfg.JoinPolicy)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:                  uuid.NewString(),
		CreatorID:           creatorID,
		CreatedAt:           now,
		UpdatedAt:           now,
		MaxParticipants:     cfg.MaxParticipants,
		Participants:        make(map[string]Participant),
		Status:              StatusPending,
		JoinPolicy:          cfg.JoinPolicy,
		MinReputationScore:  cfg.MinReputationScore,
		StylePreference:     cfg.StylePreference,
		IncludeAvatarsInArt: cfg.IncludeAvatarsInArt,
	}

	if strings.TrimSpace(cfg.CreatorPrompt) != "" {
		creator := Participant{
			ID:            creatorID,
			DisplayName:   cfg.CreatorDisplayName,
			WalletAddress: cfg.CreatorWallet,
			AvatarURI:     cfg.CreatorAvatarURI,
			PromptText:    cfg.CreatorPrompt,
		}
		if err := r.validatePrompt(creator.PromptText); err != nil {
			return nil, err
		}
		r.insert(sess, creator, now)
	}

	if err := r.persist(ctx, sess); err != nil {
		return nil, err
	}
	if err := r.store.SetAdd(ctx, activeSetKey, sess.ID); err != nil {
		return nil, fmt.Errorf("index session %s: %w", sess.ID, err)
	}

	r.log.WithField("session_id", sess.ID).
		WithField("creator_id", creatorID).
		WithField("max_participants", sess.MaxParticipants).
		WithField("status", sess.Status).
		Info("session created")
	return sess, nil
}

// AddParticipant inserts a participant, transitioning the session to
// generating exactly when the insertion fills the last slot. The check-then-act
// runs under the per-session lock so two joins racing for the last slot cannot
// both succeed.
func (r *Repository) AddParticipant(ctx context.Context, sessionID string, p Participant) (*Session, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	if err := r.validatePrompt(p.PromptText); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(sessionID)
	defer unlock()

	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusPending {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionFull, sess.Status)
	}
	if sess.HasParticipant(p.ID) {
		return nil, ErrAlreadyJoined
	}
	if sess.IsFull() {
		return nil, ErrSessionFull
	}

	r.insert(sess, p, time.Now().UTC())

	if err := r.persist(ctx, sess); err != nil {
		return nil, err
	}

	r.log.WithField("session_id", sessionID).
		WithField("participant_id", p.ID).
		WithField("count", sess.ParticipantCount()).
		WithField("status", sess.Status).
		Info("participant joined")
	return sess, nil
}

// SetStatus overwrites the session status. Terminal statuses remove the
// session from the active index so it no longer appears open for joining.
func (r *Repository) SetStatus(ctx context.Context, sessionID string, status Status) (*Session, error) {
	switch status {
	case StatusPending, StatusGenerating, StatusComplete, StatusFailed:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	unlock := r.locks.Lock(sessionID)
	defer unlock()

	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Status = status
	if err := r.persist(ctx, sess); err != nil {
		return nil, err
	}

	if status == StatusComplete || status == StatusFailed {
		if err := r.store.SetRemove(ctx, activeSetKey, sessionID); err != nil {
			r.log.WithError(err).WithField("session_id", sessionID).Warn("failed to deindex session")
		}
	}

	r.log.WithField("session_id", sessionID).WithField("status", status).Info("session status set")
	return sess, nil
}

// AttachMetadata merges non-empty metadata fields into the session record
// without changing its status.
func (r *Repository) AttachMetadata(ctx context.Context, sessionID string, meta GeneratedMetadata) (*Session, error) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Metadata == nil {
		sess.Metadata = &GeneratedMetadata{}
	}
	mergeMetadata(sess.Metadata, meta)

	if err := r.persist(ctx, sess); err != nil {
		return nil, err
	}

	r.log.WithField("session_id", sessionID).
		WithField("name", sess.Metadata.Name).
		WithField("symbol", sess.Metadata.Symbol).
		Info("session metadata attached")
	return sess, nil
}

// Get retrieves a session by id.
func (r *Repository) Get(ctx context.Context, sessionID string) (*Session, error) {
	return r.load(ctx, sessionID)
}

// ListActive returns all sessions still present in the active index. Index
// members whose record has vanished are skipped and deindexed.
func (r *Repository) ListActive(ctx context.Context) ([]*Session, error) {
	ids, err := r.store.SetMembers(ctx, activeSetKey)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.load(ctx, id)
		if err == ErrSessionNotFound {
			r.log.WithField("session_id", id).Warn("active index references missing session")
			if remErr := r.store.SetRemove(ctx, activeSetKey, id); remErr != nil {
				r.log.WithError(remErr).WithField("session_id", id).Warn("failed to deindex missing session")
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// insert adds p to the session and runs the completion check: the transition
// to generating happens the instant the count reaches capacity, exactly once.
func (r *Repository) insert(sess *Session, p Participant, now time.Time) {
	p.PromptText = strings.TrimSpace(p.PromptText)
	p.JoinIndex = sess.ParticipantCount()
	p.JoinedAt = now
	sess.Participants[p.ID] = p

	if sess.Status == StatusPending && sess.IsFull() {
		sess.Status = StatusGenerating
	}
}

func (r *Repository) validatePrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return ErrPromptRequired
	}
	if len(trimmed) > r.maxPromptLength {
		return fmt.Errorf("%w: %d > %d", ErrPromptTooLong, len(trimmed), r.maxPromptLength)
	}
	return nil
}

func (r *Repository) load(ctx context.Context, sessionID string) (*Session, error) {
	data, ok, err := r.store.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if sess.Participants == nil {
		sess.Participants = make(map[string]Participant)
	}
	return &sess, nil
}

func (r *Repository) persist(ctx context.Context, sess *Session) error {
	sess.Version++
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := r.store.Set(ctx, sessionKeyPrefix+sess.ID, data); err != nil {
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	return nil
}

func mergeMetadata(dst *GeneratedMetadata, src GeneratedMetadata) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Symbol != "" {
		dst.Symbol = src.Symbol
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.ImageContentURI != "" {
		dst.ImageContentURI = src.ImageContentURI
	}
	if src.MetadataContentURI != "" {
		dst.MetadataContentURI = src.MetadataContentURI
	}
	if src.DeployedAssetAddress != "" {
		dst.DeployedAssetAddress = src.DeployedAssetAddress
	}
	if src.DeploymentTxHash != "" {
		dst.DeploymentTxHash = src.DeploymentTxHash
	}
	if src.DeploymentReceipt != "" {
		dst.DeploymentReceipt = src.DeploymentReceipt
	}
}
