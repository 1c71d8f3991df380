package models

import (
	"time"

	"github.com/google/uuid"
)

// LoginAttempt is a single login attempt as recorded in the ledger.
// Rows are append-only: written once on every login submission, never updated.
type LoginAttempt struct {
	ID         uuid.UUID `db:"id"`
	IPAddress  string    `db:"ip_address"`
	Username   *string   `db:"username"`
	Success    bool      `db:"success"`
	OccurredAt time.Time `db:"occurred_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// AttemptBucket aggregates attempts per hour for the stats endpoint.
type AttemptBucket struct {
	Hour      time.Time `json:"hour"`
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
}
