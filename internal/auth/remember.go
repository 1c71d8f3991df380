package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/calebthorne/bastion/internal/session"
)

const rememberCookieName = "bastion_remember"

// RememberManager issues and verifies the opt-in persistent login cookie.
// The cookie value is `username|token|HMAC-SHA256(username|token, secret)`;
// verification recomputes the MAC and never consults the rate-limited login
// path. The secret comes from process configuration only.
type RememberManager struct {
	secret  []byte
	cookies session.CookieConfig
	ttl     time.Duration
}

// NewRememberManager creates a new RememberManager
func NewRememberManager(secret string, cookies session.CookieConfig, ttl time.Duration) *RememberManager {
	return &RememberManager{
		secret:  []byte(secret),
		cookies: cookies,
		ttl:     ttl,
	}
}

func (m *RememberManager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue sets the remember cookie for a user.
func (m *RememberManager) Issue(w http.ResponseWriter, username string) error {
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("failed to generate remember token: %w", err)
	}

	payload := username + "|" + hex.EncodeToString(randomBytes)
	value := payload + "|" + m.sign(payload)

	http.SetCookie(w, &http.Cookie{
		Name:     rememberCookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.cookies.Domain,
		Expires:  time.Now().Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Verify checks a presented remember cookie. Returns the username and true
// only when the MAC validates in constant time.
func (m *RememberManager) Verify(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(rememberCookieName)
	if err != nil {
		return "", false
	}

	parts := strings.Split(cookie.Value, "|")
	if len(parts) != 3 {
		return "", false
	}

	payload := parts[0] + "|" + parts[1]
	expected := m.sign(payload)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return "", false
	}

	return parts[0], true
}

// Clear removes the remember cookie.
func (m *RememberManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     rememberCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
