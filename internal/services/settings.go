package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/calebthorne/bastion/internal/models"
)

// GuardSettings is the typed view over the security_settings table. Absent or
// unparseable rows fall back to the defaults below; a request is never failed
// for a missing setting.
type GuardSettings struct {
	MaxLoginAttempts        int
	LockoutDuration         time.Duration
	ResetTime               time.Duration
	CaptchaAfter            int
	EnableIPDenylist        bool
	EnableUsernameDenylist  bool
	EnableIPSafelist        bool
	EnableUsernameSafelist  bool
	NotifyRemainingAttempts bool
}

// DefaultGuardSettings returns the documented defaults.
func DefaultGuardSettings() GuardSettings {
	return GuardSettings{
		MaxLoginAttempts:        5,
		LockoutDuration:         15 * time.Minute,
		ResetTime:               15 * time.Minute,
		CaptchaAfter:            3,
		EnableIPDenylist:        true,
		EnableUsernameDenylist:  true,
		EnableIPSafelist:        true,
		EnableUsernameSafelist:  true,
		NotifyRemainingAttempts: false,
	}
}

// SettingRows is the persistence contract the store loads from.
type SettingRows interface {
	GetAll(ctx context.Context) ([]models.SecuritySetting, error)
}

// SettingsStore resolves guard settings once at load time and serves them to
// every request without further database reads. Reload after an admin change.
type SettingsStore struct {
	repo   SettingRows
	logger *slog.Logger

	mu      sync.RWMutex
	current GuardSettings
}

// NewSettingsStore creates a SettingsStore primed with defaults.
func NewSettingsStore(repo SettingRows, logger *slog.Logger) *SettingsStore {
	return &SettingsStore{
		repo:    repo,
		logger:  logger,
		current: DefaultGuardSettings(),
	}
}

// Current returns the resolved settings.
func (s *SettingsStore) Current() GuardSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads stored overrides and applies them over the defaults. A load
// failure keeps the previously resolved values; settings reads never fail a
// request.
func (s *SettingsStore) Load(ctx context.Context) error {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to load security settings, keeping current values", slog.Any("error", err))
		return err
	}

	resolved := DefaultGuardSettings()
	for _, row := range rows {
		applySetting(&resolved, row, s.logger)
	}

	s.mu.Lock()
	s.current = resolved
	s.mu.Unlock()

	return nil
}

// applySetting coerces one row onto the typed struct. Unknown names and
// malformed values are skipped with a warning.
func applySetting(gs *GuardSettings, row models.SecuritySetting, logger *slog.Logger) {
	switch row.Name {
	case models.SettingMaxLoginAttempts:
		if v, ok := parseIntSetting(row); ok && v > 0 {
			gs.MaxLoginAttempts = v
		}
	case models.SettingLockoutDuration:
		if v, ok := parseIntSetting(row); ok && v > 0 {
			gs.LockoutDuration = time.Duration(v) * time.Second
		}
	case models.SettingResetTime:
		if v, ok := parseIntSetting(row); ok && v > 0 {
			gs.ResetTime = time.Duration(v) * time.Second
		}
	case models.SettingCaptchaAfter:
		if v, ok := parseIntSetting(row); ok && v >= 0 {
			gs.CaptchaAfter = v
		}
	case models.SettingEnableIPDenylist:
		if v, ok := parseBoolSetting(row); ok {
			gs.EnableIPDenylist = v
		}
	case models.SettingEnableUsernameDenylist:
		if v, ok := parseBoolSetting(row); ok {
			gs.EnableUsernameDenylist = v
		}
	case models.SettingEnableIPSafelist:
		if v, ok := parseBoolSetting(row); ok {
			gs.EnableIPSafelist = v
		}
	case models.SettingEnableUsernameSafelist:
		if v, ok := parseBoolSetting(row); ok {
			gs.EnableUsernameSafelist = v
		}
	case models.SettingNotifyRemainingAttempts:
		if v, ok := parseBoolSetting(row); ok {
			gs.NotifyRemainingAttempts = v
		}
	default:
		logger.Warn("unknown security setting ignored", slog.String("name", row.Name))
	}
}

func parseIntSetting(row models.SecuritySetting) (int, bool) {
	v, err := strconv.Atoi(row.Value)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseBoolSetting(row models.SecuritySetting) (bool, bool) {
	v, err := strconv.ParseBool(row.Value)
	if err != nil {
		return false, false
	}
	return v, true
}
