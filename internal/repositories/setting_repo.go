package repositories

import (
	"context"
	"fmt"

	"github.com/calebthorne/bastion/internal/database"
	"github.com/calebthorne/bastion/internal/models"
)

// SettingRepository handles security_settings rows
type SettingRepository struct {
	db *database.DB
}

// NewSettingRepository creates a new SettingRepository
func NewSettingRepository(db *database.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetAll returns every stored setting row.
func (r *SettingRepository) GetAll(ctx context.Context) ([]models.SecuritySetting, error) {
	query := `SELECT name, value, type FROM security_settings`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query security settings: %w", err)
	}
	defer rows.Close()

	settings := make([]models.SecuritySetting, 0)
	for rows.Next() {
		var s models.SecuritySetting
		if err := rows.Scan(&s.Name, &s.Value, &s.Type); err != nil {
			return nil, fmt.Errorf("failed to scan security setting: %w", err)
		}
		settings = append(settings, s)
	}

	return settings, rows.Err()
}

// Upsert writes a setting row, replacing any existing value for the key.
func (r *SettingRepository) Upsert(ctx context.Context, setting models.SecuritySetting) error {
	query := `
		INSERT INTO security_settings (name, value, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type
	`

	_, err := r.db.Pool.Exec(ctx, query, setting.Name, setting.Value, setting.Type)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}
