package repositories

import (
	"context"
	"time"

	"github.com/calebthorne/bastion/internal/database"
	"github.com/jackc/pgx/v5"
)

// ClearanceRepository stores administrator lockout clearances. A clearance is
// a marker in time: failures older than the newest clearance for a subject no
// longer count toward its lockout threshold. The ledger itself is untouched.
type ClearanceRepository struct {
	db *database.DB
}

// NewClearanceRepository creates a new ClearanceRepository
func NewClearanceRepository(db *database.DB) *ClearanceRepository {
	return &ClearanceRepository{db: db}
}

// Record inserts a clearance marker for a subject.
func (r *ClearanceRepository) Record(ctx context.Context, subjectType, value, clearedBy string) error {
	query := `
		INSERT INTO lockout_clearances (subject_type, value, cleared_by, cleared_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
	`

	_, err := r.db.Pool.Exec(ctx, query, subjectType, value, clearedBy)
	return err
}

// Latest returns the newest clearance time for a subject, or nil if none exists.
func (r *ClearanceRepository) Latest(ctx context.Context, subjectType, value string) (*time.Time, error) {
	query := `
		SELECT cleared_at FROM lockout_clearances
		WHERE subject_type = $1 AND value = $2
		ORDER BY cleared_at DESC
		LIMIT 1
	`

	var clearedAt time.Time
	err := r.db.Pool.QueryRow(ctx, query, subjectType, value).Scan(&clearedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &clearedAt, nil
}
