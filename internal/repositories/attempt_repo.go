package repositories

import (
	"context"
	"time"

	"github.com/calebthorne/bastion/internal/database"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

// AttemptRepository is the persistence layer for the attempt ledger.
// Every write is a single atomic INSERT and every count is an aggregation
// query over the raw rows; the ledger is never read-modify-written, so two
// concurrent failed logins cannot under-count each other.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record appends a login attempt to the ledger.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (ip_address, username, success, occurred_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.IPAddress,
		attempt.Username,
		attempt.Success,
		attempt.OccurredAt,
		attempt.ExpiresAt,
	)

	return err
}

// CountFailuresByIP returns the number of failed attempts from an IP since the given time
func (r *AttemptRepository) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND occurred_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// CountFailuresByUsername returns the number of failed attempts against a username since the given time
func (r *AttemptRepository) CountFailuresByUsername(ctx context.Context, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE username = $1 AND success = false AND occurred_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, username, since).Scan(&count)
	return count, err
}

// NewestFailureByIP returns the most recent failure timestamp for an IP within the window
func (r *AttemptRepository) NewestFailureByIP(ctx context.Context, ipAddress string, since time.Time) (*time.Time, error) {
	query := `
		SELECT occurred_at FROM login_attempts
		WHERE ip_address = $1 AND success = false AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`

	return r.newestFailure(ctx, query, ipAddress, since)
}

// NewestFailureByUsername returns the most recent failure timestamp for a username within the window
func (r *AttemptRepository) NewestFailureByUsername(ctx context.Context, username string, since time.Time) (*time.Time, error) {
	query := `
		SELECT occurred_at FROM login_attempts
		WHERE username = $1 AND success = false AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`

	return r.newestFailure(ctx, query, username, since)
}

func (r *AttemptRepository) newestFailure(ctx context.Context, query, value string, since time.Time) (*time.Time, error) {
	var failureTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, value, since).Scan(&failureTime)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &failureTime, nil
}

// PruneExpired removes attempts past their retention horizon. Retention is a
// housekeeping concern, not a correctness one; counting already excludes rows
// outside the reset window.
func (r *AttemptRepository) PruneExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// CountsByHour buckets attempts per hour since the given time, for the stats endpoint
func (r *AttemptRepository) CountsByHour(ctx context.Context, since time.Time) ([]models.AttemptBucket, error) {
	query := `
		SELECT date_trunc('hour', occurred_at) AS hour,
		       COUNT(*) FILTER (WHERE success = false) AS failures,
		       COUNT(*) FILTER (WHERE success = true) AS successes
		FROM login_attempts
		WHERE occurred_at >= $1
		GROUP BY hour
		ORDER BY hour
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]models.AttemptBucket, 0)
	for rows.Next() {
		var b models.AttemptBucket
		if err := rows.Scan(&b.Hour, &b.Failures, &b.Successes); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}
