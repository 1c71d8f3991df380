package models

import (
	"time"

	"github.com/google/uuid"
)

// List types
const (
	ListTypeSafelist = "safelist"
	ListTypeDenylist = "denylist"
)

// Subject types
const (
	SubjectTypeIP       = "ip"
	SubjectTypeUsername = "username"
)

// AccessListEntry is a safelist or denylist membership row.
// Uniqueness of (list_type, subject_type, value) among active rows is not
// enforced; lookups take the oldest active match so duplicates are harmless.
type AccessListEntry struct {
	ID          uuid.UUID `db:"id"`
	ListType    string    `db:"list_type"`
	SubjectType string    `db:"subject_type"`
	Value       string    `db:"value"`
	Reason      *string   `db:"reason"`
	AddedBy     string    `db:"added_by"`
	AddedAt     time.Time `db:"added_at"`
	Active      bool      `db:"active"`
}
