package models

import "time"

// Lockout reasons
const (
	LockoutReasonTooManyAttempts = "too_many_attempts"
	LockoutReasonDenylisted      = "denylisted"
)

// LockoutState is a read-side projection over the attempt ledger. It is
// recomputed on demand and never more authoritative than the ledger it
// derives from.
type LockoutState struct {
	SubjectType string    `json:"subject_type"`
	Value       string    `json:"value"`
	LockedAt    time.Time `json:"locked_at"`
	UnlocksAt   time.Time `json:"unlocks_at"`
	Reason      string    `json:"reason"`
}

// Remaining returns how long the lockout still holds at the given instant.
func (l *LockoutState) Remaining(now time.Time) time.Duration {
	if l == nil || !now.Before(l.UnlocksAt) {
		return 0
	}
	return l.UnlocksAt.Sub(now)
}
