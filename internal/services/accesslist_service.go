package services

import (
	"context"
	"log/slog"
	"net"
	"regexp"

	"github.com/calebthorne/bastion/internal/models"
	"github.com/google/uuid"
)

// usernamePattern matches the account names the surrounding CMS issues.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.@-]{0,63}$`)

// AccessListRepo is the persistence contract for list management.
type AccessListRepo interface {
	Add(ctx context.Context, entry *models.AccessListEntry) (*models.AccessListEntry, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	FindActive(ctx context.Context, listType, subjectType, value string) (*models.AccessListEntry, error)
	List(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error)
}

// AccessListService manages safelist/denylist membership. Input is validated
// before touching any list; malformed subjects never reach the database.
type AccessListService struct {
	repo   AccessListRepo
	events *EventLog
	logger *slog.Logger
}

// NewAccessListService creates a new AccessListService
func NewAccessListService(repo AccessListRepo, events *EventLog, logger *slog.Logger) *AccessListService {
	return &AccessListService{
		repo:   repo,
		events: events,
		logger: logger,
	}
}

// ValidateSubject rejects malformed IP addresses and usernames.
func ValidateSubject(subjectType, value string) error {
	switch subjectType {
	case models.SubjectTypeIP:
		if net.ParseIP(value) == nil {
			return models.ErrBadRequest
		}
	case models.SubjectTypeUsername:
		if !usernamePattern.MatchString(value) {
			return models.ErrBadRequest
		}
	default:
		return models.ErrBadRequest
	}
	return nil
}

// Add creates a new active entry and records a list_updated event.
func (s *AccessListService) Add(ctx context.Context, listType, subjectType, value string, reason *string, addedBy string) (*models.AccessListEntry, error) {
	if listType != models.ListTypeSafelist && listType != models.ListTypeDenylist {
		return nil, models.ErrBadRequest
	}
	if err := ValidateSubject(subjectType, value); err != nil {
		return nil, err
	}

	entry, err := s.repo.Add(ctx, &models.AccessListEntry{
		ListType:    listType,
		SubjectType: subjectType,
		Value:       value,
		Reason:      reason,
		AddedBy:     addedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := s.events.Append(ctx, models.EventListUpdated, value, models.EventDetail{
		"action":       "add",
		"list_type":    listType,
		"subject_type": subjectType,
		"added_by":     addedBy,
	}); err != nil {
		s.logger.Warn("list change recorded without audit row", slog.Any("error", err))
	}

	return entry, nil
}

// Deactivate retires an entry and records a list_updated event.
func (s *AccessListService) Deactivate(ctx context.Context, id uuid.UUID, actor string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}

	if err := s.events.Append(ctx, models.EventListUpdated, id.String(), models.EventDetail{
		"action": "deactivate",
		"actor":  actor,
	}); err != nil {
		s.logger.Warn("list change recorded without audit row", slog.Any("error", err))
	}

	return nil
}

// List returns entries filtered by list and subject type.
func (s *AccessListService) List(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, listType, subjectType, limit, offset)
}
