package auth_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebthorne/bastion/internal/auth"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/session"
)

type nopSink struct{}

func (nopSink) Append(ctx context.Context, kind, subject string, detail models.EventDetail) error {
	return nil
}

func newCsrfGuard(t *testing.T) (*auth.CsrfGuard, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewGuard(store, nopSink{}, session.CookieConfig{}, 2*time.Hour, logger)
	return auth.NewCsrfGuard(sessions), store
}

func sessionRecord() *models.SessionRecord {
	return &models.SessionRecord{ID: "sess-1", Username: "alice", Values: map[string]string{}}
}

func TestIssueToken_GeneratesAndPersists(t *testing.T) {
	guard, store := newCsrfGuard(t)
	record := sessionRecord()

	token, err := guard.IssueToken(context.Background(), record)

	require.NoError(t, err)
	assert.Len(t, token, 64)

	stored, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, token, stored.CSRFToken)
}

func TestIssueToken_Idempotent(t *testing.T) {
	guard, _ := newCsrfGuard(t)
	record := sessionRecord()

	first, err := guard.IssueToken(context.Background(), record)
	require.NoError(t, err)
	second, err := guard.IssueToken(context.Background(), record)
	require.NoError(t, err)

	// A second form rendered in the same session must not invalidate the first
	assert.Equal(t, first, second)
}

func TestValidate(t *testing.T) {
	guard, _ := newCsrfGuard(t)
	record := sessionRecord()
	token, err := guard.IssueToken(context.Background(), record)
	require.NoError(t, err)

	tests := []struct {
		name      string
		record    *models.SessionRecord
		submitted string
		want      bool
	}{
		{"matching token", record, token, true},
		{"empty submission", record, "", false},
		{"single character off", record, token[:63] + flipHex(token[63]), false},
		{"truncated token", record, token[:63], false},
		{"nil record", nil, token, false},
		{"record without token", sessionRecord(), token, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guard.Validate(tt.record, tt.submitted))
		})
	}
}

func flipHex(c byte) string {
	if c == 'a' {
		return "b"
	}
	return "a"
}
