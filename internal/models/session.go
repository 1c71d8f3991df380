package models

import "time"

// SessionKeyWhitelist names the session values that survive the cleanup sweep
// on every authenticated request. Anything a handler stashes under another key
// is purged, bounding session growth.
var SessionKeyWhitelist = map[string]bool{
	"return_to":   true,
	"flash":       true,
	"remember_me": true,
}

// SessionRecord is the server-side state for one browser session. Owned by
// the session guard; the CSRF guard reads and writes only CSRFToken.
type SessionRecord struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Username       string            `json:"username"`
	Role           string            `json:"role"`
	Fingerprint    string            `json:"fingerprint"`
	IssuedAt       time.Time         `json:"issued_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	CSRFToken      string            `json:"csrf_token"`
	Values         map[string]string `json:"values,omitempty"`
}

// Sweep drops every session value not on the whitelist.
func (s *SessionRecord) Sweep() {
	for key := range s.Values {
		if !SessionKeyWhitelist[key] {
			delete(s.Values, key)
		}
	}
}
