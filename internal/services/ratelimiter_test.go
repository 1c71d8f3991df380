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

func newRateLimiter(t *testing.T, lists *MockLists, ledger *MockLedger, clearances *MockClearances, store *services.SettingsStore) (*services.RateLimiter, *MockEventStore) {
	t.Helper()
	eventStore := &MockEventStore{}
	events := services.NewEventLog(eventStore, testLogger())
	lockouts := services.NewLockoutManager(ledger, clearances, store, events, testLogger())
	return services.NewRateLimiter(lists, lockouts, store, events, testLogger()), eventStore
}

func TestEvaluate_CleanSubjectAllowed(t *testing.T) {
	rl, eventStore := newRateLimiter(t, &MockLists{}, &MockLedger{}, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAllow, decision.Outcome)
	assert.True(t, decision.Allowed())
	assert.Empty(t, eventStore.Created)
}

func TestEvaluate_DenylistedIPBlocked(t *testing.T) {
	reason := "scanner"
	lists := &MockLists{
		FindActiveFunc: func(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error) {
			if listType == models.ListTypeDenylist && subjectType == models.SubjectTypeIP && value == "203.0.113.7" {
				return &models.AccessListEntry{ListType: listType, SubjectType: subjectType, Value: value, Reason: &reason}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	rl, eventStore := newRateLimiter(t, lists, &MockLedger{}, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeBlock, decision.Outcome)
	assert.Equal(t, models.LockoutReasonDenylisted, decision.Reason)
	assert.False(t, decision.Allowed())
	// The block must be audited before the decision is returned
	require.Equal(t, []string{models.EventDenylistBlock}, eventStore.Kinds())
	assert.Equal(t, "203.0.113.7", eventStore.Created[0].Subject)
}

func TestEvaluate_DenylistBeatsSafelist(t *testing.T) {
	// Same IP on both lists: the denylist entry must win regardless of
	// which list was updated more recently.
	lists := &MockLists{
		FindActiveFunc: func(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error) {
			if subjectType == models.SubjectTypeIP && value == "203.0.113.7" {
				return &models.AccessListEntry{ListType: listType, SubjectType: subjectType, Value: value}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	rl, _ := newRateLimiter(t, lists, &MockLedger{}, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeBlock, decision.Outcome)
}

func TestEvaluate_SafelistedIPBypassesLockout(t *testing.T) {
	lists := &MockLists{
		FindActiveFunc: func(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error) {
			if listType == models.ListTypeSafelist && subjectType == models.SubjectTypeIP {
				return &models.AccessListEntry{ListType: listType, SubjectType: subjectType, Value: value}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	// Failure counts far over the threshold; they must never be consulted.
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			t.Fatal("lockout state computed for a safelisted subject")
			return 0, nil
		},
	}
	rl, eventStore := newRateLimiter(t, lists, ledger, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "198.51.100.4", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAllowBypass, decision.Outcome)
	assert.True(t, decision.Allowed())
	assert.Empty(t, eventStore.Created)
}

func TestEvaluate_LockedIPBlocked(t *testing.T) {
	newest := time.Now().Add(-1 * time.Minute)
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 5, nil
		},
		NewestFailureByIPFunc: func(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
			return &newest, nil
		},
	}
	rl, eventStore := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeBlockLocked, decision.Outcome)
	assert.Equal(t, models.LockoutReasonTooManyAttempts, decision.Reason)
	// 15m lockout anchored at the newest failure, one minute ago
	assert.InDelta(t, 14*60, decision.WaitSeconds, 2)
	require.Equal(t, []string{models.EventLockout}, eventStore.Kinds())
}

func TestEvaluate_LockedUsernameBlocksFromAnyIP(t *testing.T) {
	newest := time.Now().Add(-2 * time.Minute)
	ledger := &MockLedger{
		CountFailuresByUsernameFunc: func(ctx context.Context, username string, since time.Time) (int, error) {
			if username == "alice" {
				return 7, nil
			}
			return 0, nil
		},
		NewestFailureByUsernameFunc: func(ctx context.Context, username string, since time.Time) (*time.Time, error) {
			return &newest, nil
		},
	}
	rl, _ := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "198.51.100.99", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeBlockLocked, decision.Outcome)
}

func TestEvaluate_BothKeysLockedReportsLongerWait(t *testing.T) {
	ipNewest := time.Now().Add(-10 * time.Minute)
	userNewest := time.Now().Add(-1 * time.Minute)
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 5, nil
		},
		CountFailuresByUsernameFunc: func(ctx context.Context, username string, since time.Time) (int, error) {
			return 5, nil
		},
		NewestFailureByIPFunc: func(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
			return &ipNewest, nil
		},
		NewestFailureByUsernameFunc: func(ctx context.Context, username string, since time.Time) (*time.Time, error) {
			return &userNewest, nil
		},
	}
	rl, _ := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeBlockLocked, decision.Outcome)
	// Username lock has 14m left, IP lock only 5m; report the username wait
	assert.InDelta(t, 14*60, decision.WaitSeconds, 2)
}

func TestEvaluate_ExpiredLockoutAllowsAgain(t *testing.T) {
	// Newest failure is older than the lockout duration; the lock has aged
	// out and no sweeper is needed for the subject to get back in.
	newest := time.Now().Add(-20 * time.Minute)
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 6, nil
		},
		NewestFailureByIPFunc: func(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
			return &newest, nil
		},
	}
	store := newSettingsStore(t, intRow(models.SettingCaptchaAfter, 0))
	rl, _ := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, store)

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAllow, decision.Outcome)
}

func TestEvaluate_ChallengeAfterRepeatedFailures(t *testing.T) {
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 3, nil
		},
	}
	rl, _ := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, newSettingsStore(t))

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAllowChallenge, decision.Outcome)
	assert.True(t, decision.Allowed())
}

func TestEvaluate_ChallengeDisabled(t *testing.T) {
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 4, nil
		},
	}
	store := newSettingsStore(t, intRow(models.SettingCaptchaAfter, 0))
	rl, _ := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, store)

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAllow, decision.Outcome)
}

func TestEvaluate_DisabledDenylistIgnored(t *testing.T) {
	lists := &MockLists{
		FindActiveFunc: func(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error) {
			if listType == models.ListTypeDenylist {
				return &models.AccessListEntry{ListType: listType, SubjectType: subjectType, Value: value}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	store := newSettingsStore(t,
		boolRow(models.SettingEnableIPDenylist, false),
		boolRow(models.SettingEnableUsernameDenylist, false),
	)
	rl, _ := newRateLimiter(t, lists, &MockLedger{}, &MockClearances{}, store)

	decision, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	require.NoError(t, err)
	assert.Equal(t, services.OutcomeAllow, decision.Outcome)
}

func TestEvaluate_StoreErrorPropagates(t *testing.T) {
	ledger := &MockLedger{
		CountFailuresByIPFunc: func(ctx context.Context, ip string, since time.Time) (int, error) {
			return 0, assert.AnError
		},
	}
	rl, _ := newRateLimiter(t, &MockLists{}, ledger, &MockClearances{}, newSettingsStore(t))

	_, err := rl.Evaluate(context.Background(), "203.0.113.7", "alice")

	assert.Error(t, err)
}

func TestPolicyOrder(t *testing.T) {
	assert.Equal(t, []string{
		services.PolicyDenylistIP,
		services.PolicyDenylistUsername,
		services.PolicySafelistIP,
		services.PolicySafelistUsername,
		services.PolicyRateLimit,
	}, services.PolicyOrder)
}
