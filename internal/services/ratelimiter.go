package services

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/calebthorne/bastion/internal/models"
)

// Decision outcomes
type Outcome string

const (
	OutcomeAllow          Outcome = "allow"
	OutcomeAllowBypass    Outcome = "allow_bypass"
	OutcomeAllowChallenge Outcome = "allow_challenge"
	OutcomeBlock          Outcome = "block"
	OutcomeBlockLocked    Outcome = "block_locked"
)

// Decision is the result of evaluating an incoming login attempt.
type Decision struct {
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	WaitSeconds int     `json:"wait_seconds,omitempty"`
}

// Allowed reports whether the attempt may proceed to credential verification.
func (d Decision) Allowed() bool {
	switch d.Outcome {
	case OutcomeAllow, OutcomeAllowBypass, OutcomeAllowChallenge:
		return true
	}
	return false
}

// Policy names, in evaluation order. The order is the precedence contract:
// a denylist hit must win over a stale safelist entry, and a safelist hit
// must short-circuit before any lockout state is computed.
const (
	PolicyDenylistIP       = "denylist-ip"
	PolicyDenylistUsername = "denylist-username"
	PolicySafelistIP       = "safelist-ip"
	PolicySafelistUsername = "safelist-username"
	PolicyRateLimit        = "rate-limit"
)

// PolicyOrder is the ordered list the resolver walks. Exported so tests can
// assert the precedence rather than infer it from code order.
var PolicyOrder = []string{
	PolicyDenylistIP,
	PolicyDenylistUsername,
	PolicySafelistIP,
	PolicySafelistUsername,
	PolicyRateLimit,
}

// AccessListChecker is the list membership contract the limiter consults.
type AccessListChecker interface {
	FindActive(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error)
}

// RateLimiter is the decision function for incoming login attempts. It owns
// no state of its own; everything is derived from lists, ledger, and settings
// at evaluation time.
type RateLimiter struct {
	lists    AccessListChecker
	lockouts *LockoutManager
	settings *SettingsStore
	events   *EventLog
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(lists AccessListChecker, lockouts *LockoutManager, settings *SettingsStore, events *EventLog, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		lists:    lists,
		lockouts: lockouts,
		settings: settings,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate decides whether a login attempt for (ip, username) may proceed.
// Policies run in PolicyOrder; the first policy that produces a decision
// wins. Denial decisions are recorded as security events before returning,
// so a store failure on that path fails the evaluation.
func (rl *RateLimiter) Evaluate(ctx context.Context, ip, username string) (Decision, error) {
	for _, policy := range PolicyOrder {
		decision, err := rl.apply(ctx, policy, ip, username)
		if err != nil {
			return Decision{}, err
		}
		if decision != nil {
			return *decision, nil
		}
	}

	return Decision{Outcome: OutcomeAllow}, nil
}

func (rl *RateLimiter) apply(ctx context.Context, policy, ip, username string) (*Decision, error) {
	settings := rl.settings.Current()

	switch policy {
	case PolicyDenylistIP:
		if !settings.EnableIPDenylist {
			return nil, nil
		}
		return rl.checkDenylist(ctx, models.SubjectTypeIP, ip)

	case PolicyDenylistUsername:
		if !settings.EnableUsernameDenylist || username == "" {
			return nil, nil
		}
		return rl.checkDenylist(ctx, models.SubjectTypeUsername, username)

	case PolicySafelistIP:
		if !settings.EnableIPSafelist {
			return nil, nil
		}
		return rl.checkSafelist(ctx, models.SubjectTypeIP, ip)

	case PolicySafelistUsername:
		if !settings.EnableUsernameSafelist || username == "" {
			return nil, nil
		}
		return rl.checkSafelist(ctx, models.SubjectTypeUsername, username)

	case PolicyRateLimit:
		return rl.checkRateLimit(ctx, ip, username)
	}

	return nil, nil
}

func (rl *RateLimiter) checkDenylist(ctx context.Context, subjectType, value string) (*Decision, error) {
	entry, err := rl.lists.FindActive(ctx, models.ListTypeDenylist, subjectType, value)
	if err == models.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	detail := models.EventDetail{"subject_type": subjectType}
	if entry.Reason != nil {
		detail["list_reason"] = *entry.Reason
	}
	if err := rl.events.Append(ctx, models.EventDenylistBlock, value, detail); err != nil {
		return nil, err
	}

	return &Decision{Outcome: OutcomeBlock, Reason: models.LockoutReasonDenylisted}, nil
}

func (rl *RateLimiter) checkSafelist(ctx context.Context, subjectType, value string) (*Decision, error) {
	_, err := rl.lists.FindActive(ctx, models.ListTypeSafelist, subjectType, value)
	if err == models.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Safelisted subjects skip rate limiting entirely; lockout state for
	// this key is never even computed.
	return &Decision{Outcome: OutcomeAllowBypass}, nil
}

// checkRateLimit consults lockout state for the IP and the username keys
// independently. Either key locked blocks the attempt (OR-combination); when
// both are locked the longer remaining wait is reported.
func (rl *RateLimiter) checkRateLimit(ctx context.Context, ip, username string) (*Decision, error) {
	now := rl.now()

	ipState, err := rl.lockouts.Status(ctx, models.SubjectTypeIP, ip)
	if err != nil {
		return nil, err
	}

	var userState *models.LockoutState
	if username != "" {
		userState, err = rl.lockouts.Status(ctx, models.SubjectTypeUsername, username)
		if err != nil {
			return nil, err
		}
	}

	if ipState != nil || userState != nil {
		wait := ipState.Remaining(now)
		if w := userState.Remaining(now); w > wait {
			wait = w
		}

		if err := rl.events.Append(ctx, models.EventLockout, ip, models.EventDetail{
			"username":     username,
			"wait_seconds": int(math.Ceil(wait.Seconds())),
		}); err != nil {
			return nil, err
		}

		return &Decision{
			Outcome:     OutcomeBlockLocked,
			Reason:      models.LockoutReasonTooManyAttempts,
			WaitSeconds: int(math.Ceil(wait.Seconds())),
		}, nil
	}

	// Below the lockout threshold a challenge can still be required once
	// either key accumulates enough failures.
	challengeAfter := rl.settings.Current().CaptchaAfter
	if challengeAfter > 0 {
		ipCount, err := rl.lockouts.FailureCount(ctx, models.SubjectTypeIP, ip)
		if err != nil {
			return nil, err
		}
		userCount := 0
		if username != "" {
			if userCount, err = rl.lockouts.FailureCount(ctx, models.SubjectTypeUsername, username); err != nil {
				return nil, err
			}
		}

		if ipCount >= challengeAfter || userCount >= challengeAfter {
			return &Decision{Outcome: OutcomeAllowChallenge}, nil
		}
	}

	return nil, nil
}
