package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/services"
)

func newLockoutManager(t *testing.T, ledger *MockLedger, clearances *MockClearances, store *services.SettingsStore) (*services.LockoutManager, *MockEventStore) {
	t.Helper()
	eventStore := &MockEventStore{}
	events := services.NewEventLog(eventStore, testLogger())
	return services.NewLockoutManager(ledger, clearances, store, events, testLogger()), eventStore
}

func TestStatus_UnderThresholdUnlocked(t *testing.T) {
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 4, nil
		},
		NewestFailureByIPFunc: func(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
			t.Fatal("newest failure queried below the threshold")
			return nil, nil
		},
	}
	m, _ := newLockoutManager(t, ledger, &MockClearances{}, newSettingsStore(t))

	state, err := m.Status(context.Background(), models.SubjectTypeIP, "203.0.113.7")

	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStatus_AtThresholdLocked(t *testing.T) {
	newest := time.Now().Add(-30 * time.Second)
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 5, nil
		},
		NewestFailureByIPFunc: func(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
			return &newest, nil
		},
	}
	m, _ := newLockoutManager(t, ledger, &MockClearances{}, newSettingsStore(t))

	state, err := m.Status(context.Background(), models.SubjectTypeIP, "203.0.113.7")

	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.SubjectTypeIP, state.SubjectType)
	assert.Equal(t, "203.0.113.7", state.Value)
	assert.Equal(t, models.LockoutReasonTooManyAttempts, state.Reason)
	// The lock is anchored at the newest counted failure
	assert.Equal(t, newest, state.LockedAt)
	assert.Equal(t, newest.Add(15*time.Minute), state.UnlocksAt)
}

func TestStatus_LockoutExpiresLazily(t *testing.T) {
	newest := time.Now().Add(-16 * time.Minute)
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 9, nil
		},
		NewestFailureByIPFunc: func(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
			return &newest, nil
		},
	}
	m, _ := newLockoutManager(t, ledger, &MockClearances{}, newSettingsStore(t))

	state, err := m.Status(context.Background(), models.SubjectTypeIP, "203.0.113.7")

	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStatus_ClearanceNarrowsWindow(t *testing.T) {
	cleared := time.Now().Add(-1 * time.Minute)
	var seenSince time.Time
	ledger := &MockLedger{
		CountFailuresByUsernameFunc: func(ctx context.Context, username string, since time.Time) (int, error) {
			seenSince = since
			return 0, nil
		},
	}
	clearances := &MockClearances{
		LatestFunc: func(ctx context.Context, subjectType, value string) (*time.Time, error) {
			return &cleared, nil
		},
	}
	m, _ := newLockoutManager(t, ledger, clearances, newSettingsStore(t))

	state, err := m.Status(context.Background(), models.SubjectTypeUsername, "alice")

	require.NoError(t, err)
	assert.Nil(t, state)
	// Failures before the clearance must not count
	assert.Equal(t, cleared, seenSince)
}

func TestStatus_OldClearanceDoesNotWidenWindow(t *testing.T) {
	cleared := time.Now().Add(-2 * time.Hour)
	var seenSince time.Time
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			seenSince = since
			return 0, nil
		},
	}
	clearances := &MockClearances{
		LatestFunc: func(ctx context.Context, subjectType, value string) (*time.Time, error) {
			return &cleared, nil
		},
	}
	m, _ := newLockoutManager(t, ledger, clearances, newSettingsStore(t))

	_, err := m.Status(context.Background(), models.SubjectTypeIP, "203.0.113.7")

	require.NoError(t, err)
	// A clearance older than the reset window leaves the horizon alone
	assert.WithinDuration(t, time.Now().Add(-15*time.Minute), seenSince, 2*time.Second)
}

func TestStatus_UnknownSubjectType(t *testing.T) {
	m, _ := newLockoutManager(t, &MockLedger{}, &MockClearances{}, newSettingsStore(t))

	_, err := m.Status(context.Background(), "device", "abc")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestClear_RecordsClearanceAndEvent(t *testing.T) {
	clearances := &MockClearances{}
	m, eventStore := newLockoutManager(t, &MockLedger{}, clearances, newSettingsStore(t))

	err := m.Clear(context.Background(), models.SubjectTypeUsername, "alice", "admin")

	require.NoError(t, err)
	assert.Equal(t, []string{"username|alice"}, clearances.RecordedSubjects)
	require.Equal(t, []string{models.EventLockoutCleared}, eventStore.Kinds())
	assert.Equal(t, "alice", eventStore.Created[0].Subject)
	assert.Equal(t, "admin", eventStore.Created[0].Detail["cleared_by"])
}

func TestClear_UnknownSubjectType(t *testing.T) {
	clearances := &MockClearances{}
	m, _ := newLockoutManager(t, &MockLedger{}, clearances, newSettingsStore(t))

	err := m.Clear(context.Background(), "device", "abc", "admin")

	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Empty(t, clearances.RecordedSubjects)
}

func TestClear_AuditFailureSurfaces(t *testing.T) {
	eventStore := &MockEventStore{
		CreateFunc: func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
			return nil, assert.AnError
		},
	}
	events := services.NewEventLog(eventStore, testLogger())
	m := services.NewLockoutManager(&MockLedger{}, &MockClearances{}, newSettingsStore(t), events, testLogger())

	err := m.Clear(context.Background(), models.SubjectTypeIP, "203.0.113.7", "admin")

	assert.Error(t, err)
}

func TestFailureCount_ByUsername(t *testing.T) {
	ledger := &MockLedger{
		CountFailuresByUsernameFunc: func(ctx context.Context, username string, since time.Time) (int, error) {
			return 2, nil
		},
	}
	m, _ := newLockoutManager(t, ledger, &MockClearances{}, newSettingsStore(t))

	count, err := m.FailureCount(context.Background(), models.SubjectTypeUsername, "alice")

	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
