package services_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intRow(name string, value int) models.SecuritySetting {
	return models.SecuritySetting{Name: name, Value: strconv.Itoa(value), Type: "int"}
}

func boolRow(name string, value bool) models.SecuritySetting {
	return models.SecuritySetting{Name: name, Value: strconv.FormatBool(value), Type: "bool"}
}

// newSettingsStore builds a loaded store: given rows are applied over the defaults.
func newSettingsStore(t *testing.T, rows ...models.SecuritySetting) *services.SettingsStore {
	t.Helper()
	store := services.NewSettingsStore(&MockSettingRows{Rows: rows}, testLogger())
	require.NoError(t, store.Load(context.Background()))
	return store
}

// MockSettingRows implements SettingRows for testing
type MockSettingRows struct {
	Rows []models.SecuritySetting
	Err  error
}

func (m *MockSettingRows) GetAll(ctx context.Context) ([]models.SecuritySetting, error) {
	return m.Rows, m.Err
}

// MockLedger implements AttemptLedger for testing
type MockLedger struct {
	RecordFunc                  func(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresByIPFunc       func(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountFailuresByUsernameFunc func(ctx context.Context, username string, since time.Time) (int, error)
	NewestFailureByIPFunc       func(ctx context.Context, ipAddress string, since time.Time) (*time.Time, error)
	NewestFailureByUsernameFunc func(ctx context.Context, username string, since time.Time) (*time.Time, error)

	Recorded []*models.LoginAttempt
}

func (m *MockLedger) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	m.Recorded = append(m.Recorded, attempt)
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLedger) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.CountFailuresByIPFunc != nil {
		return m.CountFailuresByIPFunc(ctx, ipAddress, since)
	}
	return 0, nil
}

func (m *MockLedger) CountFailuresByUsername(ctx context.Context, username string, since time.Time) (int, error) {
	if m.CountFailuresByUsernameFunc != nil {
		return m.CountFailuresByUsernameFunc(ctx, username, since)
	}
	return 0, nil
}

func (m *MockLedger) NewestFailureByIP(ctx context.Context, ipAddress string, since time.Time) (*time.Time, error) {
	if m.NewestFailureByIPFunc != nil {
		return m.NewestFailureByIPFunc(ctx, ipAddress, since)
	}
	return nil, nil
}

func (m *MockLedger) NewestFailureByUsername(ctx context.Context, username string, since time.Time) (*time.Time, error) {
	if m.NewestFailureByUsernameFunc != nil {
		return m.NewestFailureByUsernameFunc(ctx, username, since)
	}
	return nil, nil
}

// MockClearances implements ClearanceStore for testing
type MockClearances struct {
	RecordFunc func(ctx context.Context, subjectType, value, clearedBy string) error
	LatestFunc func(ctx context.Context, subjectType, value string) (*time.Time, error)

	RecordedSubjects []string
}

func (m *MockClearances) Record(ctx context.Context, subjectType, value, clearedBy string) error {
	m.RecordedSubjects = append(m.RecordedSubjects, subjectType+"|"+value)
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, subjectType, value, clearedBy)
	}
	return nil
}

func (m *MockClearances) Latest(ctx context.Context, subjectType, value string) (*time.Time, error) {
	if m.LatestFunc != nil {
		return m.LatestFunc(ctx, subjectType, value)
	}
	return nil, nil
}

// MockLists implements AccessListChecker and AccessListRepo for testing
type MockLists struct {
	FindActiveFunc func(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error)
	AddFunc        func(ctx context.Context, entry *models.AccessListEntry) (*models.AccessListEntry, error)
	DeactivateFunc func(ctx context.Context, id uuid.UUID) error
	ListFunc       func(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error)
}

func (m *MockLists) FindActive(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error) {
	if m.FindActiveFunc != nil {
		return m.FindActiveFunc(ctx, listType, subjectType, value)
	}
	return nil, models.ErrNotFound
}

func (m *MockLists) Add(ctx context.Context, entry *models.AccessListEntry) (*models.AccessListEntry, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, entry)
	}
	entry.ID = uuid.New()
	entry.Active = true
	return entry, nil
}

func (m *MockLists) Deactivate(ctx context.Context, id uuid.UUID) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, id)
	}
	return nil
}

func (m *MockLists) List(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, listType, subjectType, limit, offset)
	}
	return nil, nil
}

// MockEventStore implements EventStore for testing
type MockEventStore struct {
	CreateFunc func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)

	Created []*models.SecurityEvent
}

func (m *MockEventStore) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	m.Created = append(m.Created, event)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return event, nil
}

func (m *MockEventStore) ListRecent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	return m.Created, nil
}

// Kinds returns the kinds of all recorded events, in order.
func (m *MockEventStore) Kinds() []string {
	kinds := make([]string, 0, len(m.Created))
	for _, e := range m.Created {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// MockUsers implements UserFetcher for testing
type MockUsers struct {
	GetByUsernameFunc func(ctx context.Context, username string) (*models.User, error)
	Calls             int
}

func (m *MockUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.Calls++
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

// MockDelay implements Delayer for testing
type MockDelay struct {
	Calls     int
	Successes []bool
}

func (m *MockDelay) WaitFrom(startTime time.Time, success bool) {
	m.Calls++
	m.Successes = append(m.Successes, success)
}
