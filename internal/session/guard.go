package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebthorne/bastion/internal/models"
)

// EventSink is where the guard reports hijack attempts and timeouts.
type EventSink interface {
	Append(ctx context.Context, kind, subject string, detail models.EventDetail) error
}

// Guard owns the session lifecycle. It is the only component that reads or
// writes full session records; the CSRF guard goes through it for the one
// field it needs.
type Guard struct {
	store       Store
	events      EventSink
	cookies     CookieConfig
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewGuard creates a new Guard
func NewGuard(store Store, events EventSink, cookies CookieConfig, idleTimeout time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		store:       store,
		events:      events,
		cookies:     cookies,
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// newSessionID returns 32 bytes of entropy, hex encoded.
func newSessionID() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// Establish creates a fresh session for a just-authenticated user and binds
// it to the client fingerprint. Any session id the browser presented is
// discarded first: the identifier always regenerates across the privilege
// transition, which defeats fixation.
func (g *Guard) Establish(ctx context.Context, w http.ResponseWriter, r *http.Request, user *models.User, ipAddress, userAgent string) (*models.SessionRecord, error) {
	if oldID, err := GetSessionCookie(r); err == nil && oldID != "" {
		if err := g.store.Delete(ctx, oldID); err != nil {
			g.logger.Warn("failed to discard pre-login session", slog.Any("error", err))
		}
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	now := g.now()
	record := &models.SessionRecord{
		ID:             id,
		UserID:         user.ID.String(),
		Username:       user.Username,
		Role:           user.Role,
		Fingerprint:    Fingerprint(ipAddress, userAgent),
		IssuedAt:       now,
		LastActivityAt: now,
		Values:         make(map[string]string),
	}

	if err := g.store.Put(ctx, record); err != nil {
		return nil, err
	}

	SetSessionCookie(w, id, g.cookies)
	return record, nil
}

// Validate authenticates a request against its session. On idle timeout or
// fingerprint mismatch the session is destroyed and the event is recorded
// before the error returns, so the terminal response never races the audit
// write. The surviving record is touched and swept.
func (g *Guard) Validate(ctx context.Context, r *http.Request, ipAddress, userAgent string) (*models.SessionRecord, error) {
	id, err := GetSessionCookie(r)
	if err != nil || id == "" {
		return nil, models.ErrNoSession
	}

	record, err := g.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNoSession) {
			return nil, models.ErrNoSession
		}
		return nil, err
	}

	now := g.now()

	if now.Sub(record.LastActivityAt) > g.idleTimeout {
		if delErr := g.store.Delete(ctx, id); delErr != nil {
			g.logger.Warn("failed to delete expired session", slog.Any("error", delErr))
		}
		if err := g.events.Append(ctx, models.EventSessionTimeout, record.Username, models.EventDetail{
			"idle_for": now.Sub(record.LastActivityAt).String(),
		}); err != nil {
			return nil, err
		}
		return nil, models.ErrSessionExpired
	}

	if Fingerprint(ipAddress, userAgent) != record.Fingerprint {
		if delErr := g.store.Delete(ctx, id); delErr != nil {
			g.logger.Warn("failed to delete hijacked session", slog.Any("error", delErr))
		}
		if err := g.events.Append(ctx, models.EventSessionHijackAttempt, record.Username, models.EventDetail{
			"ip": ipAddress,
		}); err != nil {
			return nil, err
		}
		return nil, models.ErrSessionIntegrity
	}

	record.LastActivityAt = now
	record.Sweep()
	if err := g.store.Put(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// Save persists changes a caller made to a validated record (the CSRF guard
// uses this for token issuance).
func (g *Guard) Save(ctx context.Context, record *models.SessionRecord) error {
	return g.store.Put(ctx, record)
}

// Destroy terminates a session and clears the transport cookie.
func (g *Guard) Destroy(ctx context.Context, w http.ResponseWriter, sessionID string) error {
	if err := g.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	ClearSessionCookie(w, g.cookies)
	return nil
}
