package repositories

import (
	"context"
	"fmt"

	"github.com/calebthorne/bastion/internal/database"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccessListRepository handles safelist/denylist data access
type AccessListRepository struct {
	db *database.DB
}

// NewAccessListRepository creates a new AccessListRepository
func NewAccessListRepository(db *database.DB) *AccessListRepository {
	return &AccessListRepository{db: db}
}

func scanAccessListRow(row pgx.Row) (*models.AccessListEntry, error) {
	var e models.AccessListEntry

	err := row.Scan(
		&e.ID, &e.ListType, &e.SubjectType, &e.Value,
		&e.Reason, &e.AddedBy, &e.AddedAt, &e.Active,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

// Add inserts a new list entry. Duplicate active entries for the same value
// are allowed; lookups resolve them by taking the oldest.
func (r *AccessListRepository) Add(ctx context.Context, entry *models.AccessListEntry) (*models.AccessListEntry, error) {
	query := `
		INSERT INTO access_list_entries (list_type, subject_type, value, reason, added_by, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id, list_type, subject_type, value, reason, added_by, added_at, active
	`

	result, err := scanAccessListRow(r.db.Pool.QueryRow(
		ctx, query,
		entry.ListType, entry.SubjectType, entry.Value, entry.Reason, entry.AddedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to add access list entry: %w", err)
	}

	return result, nil
}

// Deactivate marks an entry inactive. Entries are never deleted so the audit
// trail of who listed what remains intact.
func (r *AccessListRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE access_list_entries SET active = FALSE WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// FindActive returns the oldest active entry matching (listType, subjectType, value),
// or ErrNotFound. First match wins when duplicates exist.
func (r *AccessListRepository) FindActive(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error) {
	query := `
		SELECT id, list_type, subject_type, value, reason, added_by, added_at, active
		FROM access_list_entries
		WHERE list_type = $1 AND subject_type = $2 AND value = $3 AND active = TRUE
		ORDER BY added_at
		LIMIT 1
	`

	return scanAccessListRow(r.db.Pool.QueryRow(ctx, query, listType, subjectType, value))
}

// List returns entries filtered by list and subject type, newest first.
func (r *AccessListRepository) List(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error) {
	query := `
		SELECT id, list_type, subject_type, value, reason, added_by, added_at, active
		FROM access_list_entries
		WHERE ($1 = '' OR list_type = $1) AND ($2 = '' OR subject_type = $2)
		ORDER BY added_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool.Query(ctx, query, listType, subjectType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query access list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AccessListEntry, 0)
	for rows.Next() {
		entry, err := scanAccessListRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access list entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
