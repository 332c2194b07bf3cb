package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
)

type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// TokenPurger deletes single-use tokens that are used or past expiry.
type TokenPurger interface {
	DeleteSpent(ctx context.Context, now time.Time) (int64, error)
}

type AttemptPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupTargets are the stores swept by CleanupManager. Nil targets are skipped.
type CleanupTargets struct {
	Sessions      SessionExpirer
	ResetTokens   TokenPurger
	Verifications TokenPurger
	Attempts      AttemptPurger
}

// CleanupManager periodically expires stale sessions and purges spent
// tokens and old login attempts.
type CleanupManager struct {
	targets   CleanupTargets
	retention time.Duration
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager. Login attempts older than
// retention are deleted; a zero retention keeps them forever.
func NewCleanupManager(targets CleanupTargets, retention time.Duration, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		targets:   targets,
		retention: retention,
		logger:    logger,
		interval:  interval,
		timeout:   30 * time.Second,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval until Stop is
// called or ctx ends. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. A failing step is logged and does not
// stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	now := cm.now()
	t := cm.targets

	if t.Sessions != nil {
		cm.step(ctx, "sessions", func() (int64, error) { return t.Sessions.ExpireStale(ctx) })
	}
	if t.ResetTokens != nil {
		cm.step(ctx, "reset_tokens", func() (int64, error) { return t.ResetTokens.DeleteSpent(ctx, now) })
	}
	if t.Verifications != nil {
		cm.step(ctx, "verification_tokens", func() (int64, error) { return t.Verifications.DeleteSpent(ctx, now) })
	}
	if t.Attempts != nil && cm.retention > 0 {
		cutoff := now.Add(-cm.retention)
		cm.step(ctx, "login_attempts", func() (int64, error) { return t.Attempts.DeleteOlderThan(ctx, cutoff) })
	}
}

func (cm *CleanupManager) step(ctx context.Context, kind string, fn func() (int64, error)) {
	n, err := fn()
	if err != nil {
		cm.logger.ErrorContext(ctx, "cleanup step failed",
			slog.String("kind", kind),
			slog.Any("error", err))
		return
	}
	if n > 0 {
		metrics.CleanupRemovedTotal.WithLabelValues(kind).Add(float64(n))
		cm.logger.InfoContext(ctx, "cleanup completed",
			slog.String("kind", kind),
			slog.Int64("rows", n))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
