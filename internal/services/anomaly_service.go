package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/models"
)

type LoginHistory interface {
	ListByAccountSince(ctx context.Context, accountID string, since time.Time) ([]*models.LoginAttempt, error)
}

// AnomalyFlags are advisory signals attached to audit events. They never
// block authentication.
type AnomalyFlags struct {
	UnusualHour bool
	HighVolume  bool
	DailyCount  int
}

func (f AnomalyFlags) Any() bool { return f.UnusualHour || f.HighVolume }

// Metadata renders the flags for an audit event.
func (f AnomalyFlags) Metadata() models.AuditMetadata {
	return models.AuditMetadata{
		"anomaly_unusual_hour": f.UnusualHour,
		"anomaly_high_volume":  f.HighVolume,
		"daily_attempts":       f.DailyCount,
	}
}

// AnomalyService applies hour-of-day and volume heuristics to the recent
// login history of an account. All hours are UTC.
type AnomalyService struct {
	history         LoginHistory
	window          time.Duration
	volumeThreshold int
	businessStart   int
	businessEnd     int
}

func NewAnomalyService(history LoginHistory, cfg config.AnomalyConfig) *AnomalyService {
	return &AnomalyService{
		history:         history,
		window:          cfg.Window,
		volumeThreshold: cfg.VolumeThreshold,
		businessStart:   cfg.BusinessHoursStart,
		businessEnd:     cfg.BusinessHoursEnd,
	}
}

// Inspect loads the account's history for the window ending at now and
// evaluates both heuristics. The attempt with id currentID is the login
// under inspection: it counts toward volume but is never its own precedent
// for the hour check.
func (s *AnomalyService) Inspect(ctx context.Context, accountID string, now time.Time, currentID string) (AnomalyFlags, error) {
	attempts, err := s.history.ListByAccountSince(ctx, accountID, now.Add(-s.window))
	if err != nil {
		return AnomalyFlags{}, fmt.Errorf("load login history: %w", err)
	}

	previous := attempts
	if currentID != "" {
		previous = slices.DeleteFunc(slices.Clone(attempts), func(a *models.LoginAttempt) bool {
			return a.ID == currentID
		})
	}

	count := s.dailyCount(attempts, now)
	return AnomalyFlags{
		UnusualHour: s.UnusualHour(previous, now),
		HighVolume:  count > s.volumeThreshold,
		DailyCount:  count,
	}, nil
}

// UnusualHour reports whether now's hour is neither within one hour of a
// previous successful login nor inside business hours.
func (s *AnomalyService) UnusualHour(attempts []*models.LoginAttempt, now time.Time) bool {
	hour := now.UTC().Hour()
	if hour >= s.businessStart && hour < s.businessEnd {
		return false
	}

	for _, a := range attempts {
		if !a.Success || !a.AttemptedAt.Before(now) {
			continue
		}
		if hourDistance(a.AttemptedAt.UTC().Hour(), hour) <= 1 {
			return false
		}
	}
	return true
}

// HighVolume reports whether attempts on now's UTC day exceed the threshold.
func (s *AnomalyService) HighVolume(attempts []*models.LoginAttempt, now time.Time) bool {
	return s.dailyCount(attempts, now) > s.volumeThreshold
}

func (s *AnomalyService) dailyCount(attempts []*models.LoginAttempt, now time.Time) int {
	y, m, d := now.UTC().Date()
	n := 0
	for _, a := range attempts {
		ay, am, ad := a.AttemptedAt.UTC().Date()
		if ay == y && am == m && ad == d {
			n++
		}
	}
	return n
}

func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}
