package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebthorne/bastion/internal/auth"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/services"
	"github.com/calebthorne/bastion/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext attaches a validated admin session to the request
func WithSessionContext(req *http.Request, username string) *http.Request {
	record := &models.SessionRecord{
		ID:       "sess-1",
		Username: username,
		Role:     models.RoleAdmin,
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, record)
	return req.WithContext(ctx)
}

// WithSessionContextID attaches a session with a specific id, for handlers
// that act on the session itself (logout)
func WithSessionContextID(req *http.Request, username, id string) *http.Request {
	record := &models.SessionRecord{
		ID:       id,
		Username: username,
		Role:     models.RoleAdmin,
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, record)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

type nopSink struct{}

func (nopSink) Append(ctx context.Context, kind, subject string, detail models.EventDetail) error {
	return nil
}

func newSessionGuard() (*session.Guard, *session.MemoryStore) {
	store := session.NewMemoryStore()
	return session.NewGuard(store, nopSink{}, session.CookieConfig{}, 2*time.Hour, testLogger()), store
}

// MockLoginFlow implements LoginFlow for testing
type MockLoginFlow struct {
	LoginFunc func(ctx context.Context, username, password, ipAddress string) (*services.LoginResult, error)

	LastUsername string
	LastIP       string
}

func (m *MockLoginFlow) Login(ctx context.Context, username, password, ipAddress string) (*services.LoginResult, error) {
	m.LastUsername = username
	m.LastIP = ipAddress
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, username, password, ipAddress)
	}
	return &services.LoginResult{Decision: services.Decision{Outcome: services.OutcomeAllow}, RemainingAttempts: -1}, nil
}

func allowResult(user *models.User) *services.LoginResult {
	return &services.LoginResult{
		Decision:          services.Decision{Outcome: services.OutcomeAllow},
		User:              user,
		RemainingAttempts: -1,
	}
}

func activeAdmin() *models.User {
	return &models.User{ID: uuid.New(), Username: "alice", Role: models.RoleAdmin, Active: true}
}

// MockAccessLists implements AccessListManager for testing
type MockAccessLists struct {
	AddFunc        func(ctx context.Context, listType, subjectType, value string, reason *string, addedBy string) (*models.AccessListEntry, error)
	DeactivateFunc func(ctx context.Context, id uuid.UUID, actor string) error
	ListFunc       func(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error)
}

func (m *MockAccessLists) Add(ctx context.Context, listType, subjectType, value string, reason *string, addedBy string) (*models.AccessListEntry, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, listType, subjectType, value, reason, addedBy)
	}
	return &models.AccessListEntry{ID: uuid.New(), ListType: listType, SubjectType: subjectType, Value: value, AddedBy: addedBy, Active: true}, nil
}

func (m *MockAccessLists) Deactivate(ctx context.Context, id uuid.UUID, actor string) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, id, actor)
	}
	return nil
}

func (m *MockAccessLists) List(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, listType, subjectType, limit, offset)
	}
	return []*models.AccessListEntry{}, nil
}

// MockLockoutAdmin implements LockoutAdmin for testing
type MockLockoutAdmin struct {
	StatusFunc       func(ctx context.Context, subjectType, value string) (*models.LockoutState, error)
	FailureCountFunc func(ctx context.Context, subjectType, value string) (int, error)
	ClearFunc        func(ctx context.Context, subjectType, value, clearedBy string) error

	Cleared []string
}

func (m *MockLockoutAdmin) Status(ctx context.Context, subjectType, value string) (*models.LockoutState, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, subjectType, value)
	}
	return nil, nil
}

func (m *MockLockoutAdmin) FailureCount(ctx context.Context, subjectType, value string) (int, error) {
	if m.FailureCountFunc != nil {
		return m.FailureCountFunc(ctx, subjectType, value)
	}
	return 0, nil
}

func (m *MockLockoutAdmin) Clear(ctx context.Context, subjectType, value, clearedBy string) error {
	m.Cleared = append(m.Cleared, subjectType+"|"+value+"|"+clearedBy)
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, subjectType, value, clearedBy)
	}
	return nil
}

// MockAttemptStats implements AttemptStats for testing
type MockAttemptStats struct {
	CountsByHourFunc func(ctx context.Context, since time.Time) ([]models.AttemptBucket, error)
	PruneFunc        func(ctx context.Context) (int64, error)
}

func (m *MockAttemptStats) CountsByHour(ctx context.Context, since time.Time) ([]models.AttemptBucket, error) {
	if m.CountsByHourFunc != nil {
		return m.CountsByHourFunc(ctx, since)
	}
	return []models.AttemptBucket{}, nil
}

func (m *MockAttemptStats) PruneExpired(ctx context.Context) (int64, error) {
	if m.PruneFunc != nil {
		return m.PruneFunc(ctx)
	}
	return 0, nil
}

// MockEventReader implements EventReader for testing
type MockEventReader struct {
	RecentFunc func(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
}

func (m *MockEventReader) Recent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, kind, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

// MockTokenMinter implements TokenMinter for testing
type MockTokenMinter struct {
	MintFunc func(clientID string) (string, error)
}

func (m *MockTokenMinter) Mint(clientID string) (string, error) {
	if m.MintFunc != nil {
		return m.MintFunc(clientID)
	}
	return "token-for-" + clientID, nil
}

// MockSettingsAdmin implements SettingsAdmin for testing
type MockSettingsAdmin struct {
	UpsertFunc func(ctx context.Context, setting models.SecuritySetting) error

	Upserted []models.SecuritySetting
}

func (m *MockSettingsAdmin) Upsert(ctx context.Context, setting models.SecuritySetting) error {
	m.Upserted = append(m.Upserted, setting)
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, setting)
	}
	return nil
}

// MockSettingRows implements services.SettingRows for testing
type MockSettingRows struct {
	Rows []models.SecuritySetting
}

func (m *MockSettingRows) GetAll(ctx context.Context) ([]models.SecuritySetting, error) {
	return m.Rows, nil
}

func loadedSettingsStore(t *testing.T) *services.SettingsStore {
	t.Helper()
	store := services.NewSettingsStore(&MockSettingRows{}, testLogger())
	require.NoError(t, store.Load(context.Background()))
	return store
}
