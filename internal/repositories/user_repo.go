package repositories

import (
	"context"

	"github.com/calebthorne/bastion/internal/database"
	"github.com/calebthorne/bastion/internal/models"
)

// UserRepository provides the identity lookup the guard needs. User management
// as a CRUD surface belongs to the surrounding CMS, not here.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByUsername fetches a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`

	var u models.User
	err := r.db.Pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &u, nil
}

// Create inserts a user. Used only by the startup admin bootstrap.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, password_hash, role, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, password_hash, role, active, created_at
	`

	var u models.User
	err := r.db.Pool.QueryRow(ctx, query,
		user.Username, user.PasswordHash, user.Role, user.Active,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &u, nil
}
