// Package session owns the server-side session lifecycle: transport cookie
// configuration, fingerprint binding, identifier regeneration, and idle
// timeout eviction. Request handlers never touch the backing store directly.
package session

import (
	"context"

	"github.com/calebthorne/bastion/internal/models"
)

// Store abstracts session persistence so sessions can live in Redis in
// production and in memory under test. Implementations must be safe for
// concurrent use; each HTTP request runs on its own goroutine with no other
// shared state.
type Store interface {
	// Get retrieves a session by id. Returns models.ErrNoSession when the
	// id is unknown or the backend has already expired the record.
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
	// Put creates or replaces a session record.
	Put(ctx context.Context, record *models.SessionRecord) error
	// Delete removes a session by id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
