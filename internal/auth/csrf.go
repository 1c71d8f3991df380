package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/session"
)

// CSRF token transport
const (
	CSRFFieldName  = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
)

// CsrfGuard issues and validates per-session CSRF tokens. It reads and
// writes only the CSRFToken field of the session record; everything else
// belongs to the session guard.
type CsrfGuard struct {
	sessions *session.Guard
}

// NewCsrfGuard creates a new CsrfGuard
func NewCsrfGuard(sessions *session.Guard) *CsrfGuard {
	return &CsrfGuard{sessions: sessions}
}

// IssueToken returns the session's CSRF token, generating one only if none
// exists yet. Issuance is idempotent on purpose: several forms rendered in
// one session must all stay valid at once.
func (c *CsrfGuard) IssueToken(ctx context.Context, record *models.SessionRecord) (string, error) {
	if record.CSRFToken != "" {
		return record.CSRFToken, nil
	}

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}

	record.CSRFToken = hex.EncodeToString(randomBytes)
	if err := c.sessions.Save(ctx, record); err != nil {
		return "", err
	}

	return record.CSRFToken, nil
}

// Validate compares a submitted token against the session-bound token in
// constant time. An empty token on either side never validates.
func (c *CsrfGuard) Validate(record *models.SessionRecord, submitted string) bool {
	if record == nil || record.CSRFToken == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(record.CSRFToken), []byte(submitted)) == 1
}
