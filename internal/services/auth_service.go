package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calebthorne/bastion/internal/models"
	pkgauth "github.com/calebthorne/bastion/pkg/auth"
	pkglogger "github.com/calebthorne/bastion/pkg/logger"
)

// UserFetcher is the identity lookup the login flow needs.
type UserFetcher interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// Delayer equalizes response timing across failure modes.
type Delayer interface {
	WaitFrom(startTime time.Time, success bool)
}

// LoginResult is what the login flow hands back to the transport layer.
// User is non-nil only when credentials verified and the account is active.
type LoginResult struct {
	Decision Decision
	User     *models.User
	// RemainingAttempts is -1 unless notify_remaining_attempts is enabled;
	// user-visible messages must not aid enumeration by default.
	RemainingAttempts int
}

// AuthService orchestrates the login flow: evaluate, verify credentials,
// record the attempt, emit events. Session establishment stays with the
// transport layer, which owns the response writer.
type AuthService struct {
	users    UserFetcher
	limiter  *RateLimiter
	ledger   AttemptLedger
	lockouts *LockoutManager
	settings *SettingsStore
	events   *EventLog
	delay    Delayer
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(users UserFetcher, limiter *RateLimiter, ledger AttemptLedger, lockouts *LockoutManager, settings *SettingsStore, events *EventLog, delay Delayer, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		limiter:  limiter,
		ledger:   ledger,
		lockouts: lockouts,
		settings: settings,
		events:   events,
		delay:    delay,
		logger:   logger,
		now:      time.Now,
	}
}

// Login evaluates and, if allowed, verifies a credential submission.
// A non-nil error means the store failed; the caller must answer with a
// generic failure. Everything else is expressed through the LoginResult.
func (s *AuthService) Login(ctx context.Context, username, password, ipAddress string) (*LoginResult, error) {
	start := s.now()

	decision, err := s.limiter.Evaluate(ctx, ipAddress, username)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{Decision: decision, RemainingAttempts: -1}
	if !decision.Allowed() {
		return result, nil
	}

	user, verifyErr := s.verifyCredentials(ctx, username, password)
	success := verifyErr == nil

	// The ledger write is one atomic insert. Bypassed subjects are still
	// recorded; the safelist only exempts them from being counted against.
	attempt := &models.LoginAttempt{
		IPAddress:  ipAddress,
		Username:   &username,
		Success:    success,
		OccurredAt: s.now(),
		ExpiresAt:  s.now().Add(2 * s.settings.Current().ResetTime),
	}
	if err := s.ledger.Record(ctx, attempt); err != nil {
		return nil, err
	}

	if success {
		result.User = user
		if err := s.events.Append(ctx, models.EventLoginSuccess, username, models.EventDetail{
			"ip": ipAddress,
		}); err != nil {
			s.logger.Warn("login succeeded without audit row", slog.Any("error", err))
		}
		s.delay.WaitFrom(start, true)
		return result, nil
	}

	if err := s.events.Append(ctx, models.EventLoginFailure, username, models.EventDetail{
		"ip":     ipAddress,
		"reason": verifyErr.Error(),
	}); err != nil {
		return nil, err
	}

	if err := s.noteLockoutTransition(ctx, ipAddress, username, decision.Outcome); err != nil {
		return nil, err
	}

	if s.settings.Current().NotifyRemainingAttempts {
		if n, err := s.remainingAttempts(ctx, ipAddress, username); err == nil {
			result.RemainingAttempts = n
		}
	}

	s.delay.WaitFrom(start, false)
	return result, nil
}

// verifyCredentials never reveals which check failed; unknown user, wrong
// password, and disabled account all collapse to ErrUnauthorized for the
// caller-facing path (the audit detail keeps the distinction).
func (s *AuthService) verifyCredentials(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn a hash compare anyway so the miss costs the same.
			_ = pkgauth.ComparePassword(pkgauth.DummyHash, password)
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, models.ErrUnauthorized
	}

	if !user.Active {
		return nil, models.ErrAccountDisabled
	}

	return user, nil
}

// noteLockoutTransition emits a lockout event when this failure crossed the
// threshold for either key. A subject already bypassed never gets here with
// lockout state, so the event marks the actual transition.
func (s *AuthService) noteLockoutTransition(ctx context.Context, ipAddress, username string, outcome Outcome) error {
	if outcome == OutcomeAllowBypass {
		return nil
	}

	for _, key := range []struct{ subjectType, value string }{
		{models.SubjectTypeIP, ipAddress},
		{models.SubjectTypeUsername, username},
	} {
		state, err := s.lockouts.Status(ctx, key.subjectType, key.value)
		if err != nil {
			return err
		}
		if state == nil {
			continue
		}

		if err := s.events.Append(ctx, models.EventLockout, key.value, models.EventDetail{
			"subject_type": key.subjectType,
			"unlocks_at":   state.UnlocksAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}

		s.logger.Warn("subject locked out",
			slog.String("subject_type", key.subjectType),
			slog.String("subject", pkglogger.SanitizedSubject(key.subjectType, key.value)),
		)
	}

	return nil
}

func (s *AuthService) remainingAttempts(ctx context.Context, ipAddress, username string) (int, error) {
	max := s.settings.Current().MaxLoginAttempts

	ipCount, err := s.lockouts.FailureCount(ctx, models.SubjectTypeIP, ipAddress)
	if err != nil {
		return 0, err
	}
	userCount, err := s.lockouts.FailureCount(ctx, models.SubjectTypeUsername, username)
	if err != nil {
		return 0, err
	}

	used := ipCount
	if userCount > used {
		used = userCount
	}
	if used >= max {
		return 0, nil
	}
	return max - used, nil
}
