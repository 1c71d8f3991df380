package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebthorne/bastion/internal/models"
)

// AttemptLedger is the read contract the lockout manager derives state from.
// The ledger is the single source of truth: lockout state is always recomputed
// from these aggregates, never trusted from a cache.
type AttemptLedger interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountFailuresByUsername(ctx context.Context, username string, since time.Time) (int, error)
	NewestFailureByIP(ctx context.Context, ipAddress string, since time.Time) (*time.Time, error)
	NewestFailureByUsername(ctx context.Context, username string, since time.Time) (*time.Time, error)
}

// ClearanceStore records administrator lockout overrides.
type ClearanceStore interface {
	Record(ctx context.Context, subjectType, value, clearedBy string) error
	Latest(ctx context.Context, subjectType, value string) (*time.Time, error)
}

// LockoutManager derives lockout state lazily from the attempt ledger.
// There is no background job: expiry is a timestamp comparison at read time.
type LockoutManager struct {
	ledger     AttemptLedger
	clearances ClearanceStore
	settings   *SettingsStore
	events     *EventLog
	logger     *slog.Logger
	now        func() time.Time
}

// NewLockoutManager creates a new LockoutManager
func NewLockoutManager(ledger AttemptLedger, clearances ClearanceStore, settings *SettingsStore, events *EventLog, logger *slog.Logger) *LockoutManager {
	return &LockoutManager{
		ledger:     ledger,
		clearances: clearances,
		settings:   settings,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// countingSince returns the start of the counting window for a subject: the
// reset-window horizon, moved forward past any administrator clearance.
func (m *LockoutManager) countingSince(ctx context.Context, subjectType, value string, now time.Time) (time.Time, error) {
	since := now.Add(-m.settings.Current().ResetTime)

	cleared, err := m.clearances.Latest(ctx, subjectType, value)
	if err != nil {
		return time.Time{}, err
	}
	if cleared != nil && cleared.After(since) {
		since = *cleared
	}

	return since, nil
}

// FailureCount returns the number of failures currently counting against a subject.
func (m *LockoutManager) FailureCount(ctx context.Context, subjectType, value string) (int, error) {
	since, err := m.countingSince(ctx, subjectType, value, m.now())
	if err != nil {
		return 0, err
	}

	switch subjectType {
	case models.SubjectTypeIP:
		return m.ledger.CountFailuresByIP(ctx, value, since)
	case models.SubjectTypeUsername:
		return m.ledger.CountFailuresByUsername(ctx, value, since)
	default:
		return 0, models.ErrBadRequest
	}
}

// Status recomputes the lockout state for one subject key. Returns nil when
// the subject is unlocked, including the lazy transition once unlocksAt has
// passed.
func (m *LockoutManager) Status(ctx context.Context, subjectType, value string) (*models.LockoutState, error) {
	now := m.now()
	settings := m.settings.Current()

	since, err := m.countingSince(ctx, subjectType, value, now)
	if err != nil {
		return nil, err
	}

	var count int
	var newest *time.Time
	switch subjectType {
	case models.SubjectTypeIP:
		if count, err = m.ledger.CountFailuresByIP(ctx, value, since); err != nil {
			return nil, err
		}
		if count >= settings.MaxLoginAttempts {
			newest, err = m.ledger.NewestFailureByIP(ctx, value, since)
		}
	case models.SubjectTypeUsername:
		if count, err = m.ledger.CountFailuresByUsername(ctx, value, since); err != nil {
			return nil, err
		}
		if count >= settings.MaxLoginAttempts {
			newest, err = m.ledger.NewestFailureByUsername(ctx, value, since)
		}
	default:
		return nil, models.ErrBadRequest
	}
	if err != nil {
		return nil, err
	}

	if count < settings.MaxLoginAttempts || newest == nil {
		return nil, nil
	}

	lockedAt := *newest
	unlocksAt := lockedAt.Add(settings.LockoutDuration)
	if !now.Before(unlocksAt) {
		// Lockout has aged out; no state to report.
		return nil, nil
	}

	return &models.LockoutState{
		SubjectType: subjectType,
		Value:       value,
		LockedAt:    lockedAt,
		UnlocksAt:   unlocksAt,
		Reason:      models.LockoutReasonTooManyAttempts,
	}, nil
}

// Clear forces a subject back to unlocked regardless of unlocksAt. The ledger
// rows stay; a clearance marker excludes them from future counts. Recorded as
// a distinct audit event.
func (m *LockoutManager) Clear(ctx context.Context, subjectType, value, clearedBy string) error {
	if subjectType != models.SubjectTypeIP && subjectType != models.SubjectTypeUsername {
		return models.ErrBadRequest
	}

	if err := m.clearances.Record(ctx, subjectType, value, clearedBy); err != nil {
		return err
	}

	return m.events.Append(ctx, models.EventLockoutCleared, value, models.EventDetail{
		"subject_type": subjectType,
		"cleared_by":   clearedBy,
	})
}
