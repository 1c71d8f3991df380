package repositories

import (
	"context"
	"fmt"

	"github.com/calebthorne/bastion/internal/database"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

// EventRepository handles security event data access. Events are append-only;
// there is no update or delete path.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

func scanEventRow(row pgx.Row) (*models.SecurityEvent, error) {
	var e models.SecurityEvent

	err := row.Scan(&e.ID, &e.Kind, &e.Subject, &e.Detail, &e.OccurredAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

// Create appends a security event
func (r *EventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	query := `
		INSERT INTO security_events (kind, subject, detail)
		VALUES ($1, $2, $3)
		RETURNING id, kind, subject, detail, occurred_at
	`

	result, err := scanEventRow(r.db.Pool.QueryRow(ctx, query, event.Kind, event.Subject, event.Detail))
	if err != nil {
		return nil, fmt.Errorf("failed to create security event: %w", err)
	}

	return result, nil
}

// ListRecent returns events newest first, optionally filtered by kind.
func (r *EventRepository) ListRecent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, kind, subject, detail, occurred_at
		FROM security_events
		WHERE ($1 = '' OR kind = $1)
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
