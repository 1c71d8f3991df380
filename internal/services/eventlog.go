package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calebthorne/bastion/internal/models"
)

// EventStore is the persistence contract for security events.
type EventStore interface {
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
	ListRecent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
}

// EventLog records security events with a dual-write pattern: an immediate
// slog line plus a database row. Append returns the persistence error so that
// denial paths can refuse to respond until the event is durably recorded.
type EventLog struct {
	store  EventStore
	logger *slog.Logger
}

// NewEventLog creates a new EventLog
func NewEventLog(store EventStore, logger *slog.Logger) *EventLog {
	return &EventLog{
		store:  store,
		logger: logger,
	}
}

// Append writes one security event. Callers on denial paths must treat a
// returned error as fatal for the request; success paths may log and continue.
func (l *EventLog) Append(ctx context.Context, kind, subject string, detail models.EventDetail) error {
	level := slog.LevelInfo
	switch kind {
	case models.EventLoginFailure, models.EventLockout, models.EventCSRFFailure,
		models.EventSessionHijackAttempt, models.EventDenylistBlock:
		level = slog.LevelWarn
	}

	l.logger.Log(ctx, level, "security event",
		slog.String("kind", kind),
		slog.String("subject", subject),
		slog.Any("detail", detail),
	)

	event := &models.SecurityEvent{
		Kind:    kind,
		Subject: subject,
		Detail:  detail,
	}

	if _, err := l.store.Create(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("kind", kind),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to persist security event: %w", err)
	}

	return nil
}

// Recent returns the latest events, optionally filtered by kind.
func (l *EventLog) Recent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	return l.store.ListRecent(ctx, kind, limit, offset)
}
