package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Security event kinds
const (
	EventLoginSuccess         = "login_success"
	EventLoginFailure         = "login_failure"
	EventLockout              = "lockout"
	EventLockoutCleared       = "lockout_cleared"
	EventCSRFFailure          = "csrf_failure"
	EventSessionHijackAttempt = "session_hijack_attempt"
	EventSessionTimeout       = "session_timeout"
	EventDenylistBlock        = "denylist_block"
	EventListUpdated          = "list_updated"
)

// SecurityEvent is an append-only audit row. The guard never mutates or
// deletes events once written.
type SecurityEvent struct {
	ID         uuid.UUID   `db:"id"`
	Kind       string      `db:"kind"`
	Subject    string      `db:"subject"`
	Detail     EventDetail `db:"detail"`
	OccurredAt time.Time   `db:"occurred_at"`
}

// EventDetail holds additional context for security events.
type EventDetail map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetail) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetail)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = EventDetail(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetail) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}
