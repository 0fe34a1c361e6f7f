// Package sweep fails sessions stuck in the generating state past a deadline
// so they do not hold the active index forever.
package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Sweeper periodically scans active sessions and fails the stuck ones.
type Sweeper struct {
	repo     *session.Repository
	deadline time.Duration
	schedule string
	log      *logger.Logger

	cron *cron.Cron
}

// Config configures the sweeper.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// GeneratingDeadline is how long a session may stay generating before it
	// is considered stuck.
	GeneratingDeadline time.Duration
}

// New constructs a sweeper.
func New(repo *session.Repository, cfg Config, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("sweep")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/5 * * * *"
	}
	if cfg.GeneratingDeadline <= 0 {
		cfg.GeneratingDeadline = 15 * time.Minute
	}
	return &Sweeper{
		repo:     repo,
		deadline: cfg.GeneratingDeadline,
		schedule: cfg.Schedule,
		log:      log,
	}
}

// Start schedules the sweep and returns. Stop halts it.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.WithError(err).Error("sweep run failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("sweeper started")
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one pass and returns how many sessions were failed. Sessions
// whose generation simply has not finished yet are left alone; only those past
// the deadline are touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.deadline)
	swept := 0
	for _, sess := range active {
		if sess.Status != session.StatusGenerating || sess.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := s.repo.SetStatus(ctx, sess.ID, session.StatusFailed); err != nil {
			s.log.WithError(err).WithField("session_id", sess.ID).Warn("could not fail stuck session")
			continue
		}
		s.log.WithField("session_id", sess.ID).
			WithField("stuck_for", time.Since(sess.UpdatedAt).String()).
			Warn("stuck session failed")
		swept++
	}
	return swept, nil
}
