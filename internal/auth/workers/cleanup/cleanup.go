package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionStore exposes housekeeping for stored session records.
type SessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionSweeper expires in-memory sessions whose token lapsed without a request.
type SessionSweeper interface {
	Sweep(ctx context.Context, now time.Time) int
}

// CleanupResult summarizes a cleanup run.
type CleanupResult struct {
	DeletedRecords  int
	ExpiredSessions int
}

// CleanupService periodically removes lapsed sessions from the store and
// from the controller.
type CleanupService struct {
	store    SessionStore
	sweeper  SessionSweeper
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// CleanupOption configures CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupInterval overrides the cleanup interval when greater than zero.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(s *CleanupService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCleanupLogger overrides the logger used for cleanup errors.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(s *CleanupService) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a CleanupService with required dependencies and options applied.
func New(store SessionStore, sweeper SessionSweeper, opts ...CleanupOption) (*CleanupService, error) {
	if store == nil || sweeper == nil {
		return nil, fmt.Errorf("store and sweeper are required")
	}
	svc := &CleanupService{
		store:    store,
		sweeper:  sweeper,
		interval: time.Minute,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs cleanup periodically until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "session cleanup failed", "error", err)
				continue
			}
			if res.DeletedRecords > 0 || res.ExpiredSessions > 0 {
				s.logger.InfoContext(ctx, "session cleanup",
					"deleted_records", res.DeletedRecords,
					"expired_sessions", res.ExpiredSessions,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce sweeps the controller first so expiry is observed and audited
// before the backing record disappears.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	now := s.now()
	var res CleanupResult
	var errs []error

	res.ExpiredSessions = s.sweeper.Sweep(ctx, now)

	deleted, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired sessions: %w", err))
	} else {
		res.DeletedRecords = deleted
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
