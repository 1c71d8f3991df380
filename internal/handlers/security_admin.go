package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/calebthorne/bastion/internal/auth"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/services"
	pkghttp "github.com/calebthorne/bastion/pkg/httpx"
)

// AccessListManager defines the interface for safelist/denylist administration
type AccessListManager interface {
	Add(ctx context.Context, listType, subjectType, value string, reason *string, addedBy string) (*models.AccessListEntry, error)
	Deactivate(ctx context.Context, id uuid.UUID, actor string) error
	List(ctx context.Context, listType, subjectType string, limit, offset int) ([]*models.AccessListEntry, error)
}

// LockoutAdmin defines the interface for lockout inspection and clearing
type LockoutAdmin interface {
	Status(ctx context.Context, subjectType, value string) (*models.LockoutState, error)
	FailureCount(ctx context.Context, subjectType, value string) (int, error)
	Clear(ctx context.Context, subjectType, value, clearedBy string) error
}

// AttemptStats defines the interface for attempt ledger maintenance
type AttemptStats interface {
	CountsByHour(ctx context.Context, since time.Time) ([]models.AttemptBucket, error)
	PruneExpired(ctx context.Context) (int64, error)
}

// EventReader defines the interface for reading the audit trail
type EventReader interface {
	Recent(ctx context.Context, kind string, limit, offset int) ([]*models.SecurityEvent, error)
}

// TokenMinter defines the interface for issuing service tokens
type TokenMinter interface {
	Mint(clientID string) (string, error)
}

// SettingsAdmin defines the interface for runtime setting updates
type SettingsAdmin interface {
	Upsert(ctx context.Context, setting models.SecuritySetting) error
}

// SecurityAdminHandler handles the admin security endpoints
type SecurityAdminHandler struct {
	lists    AccessListManager
	lockouts LockoutAdmin
	attempts AttemptStats
	events   EventReader
	tokens   TokenMinter
	settings SettingsAdmin
	store    *services.SettingsStore
}

// NewSecurityAdminHandler creates a new SecurityAdminHandler
func NewSecurityAdminHandler(lists AccessListManager, lockouts LockoutAdmin, attempts AttemptStats, events EventReader, tokens TokenMinter, settings SettingsAdmin, store *services.SettingsStore) *SecurityAdminHandler {
	return &SecurityAdminHandler{
		lists:    lists,
		lockouts: lockouts,
		attempts: attempts,
		events:   events,
		tokens:   tokens,
		settings: settings,
		store:    store,
	}
}

// Request DTOs

// AddListEntryRequest represents the request body for adding a list entry
type AddListEntryRequest struct {
	ListType    string  `json:"list_type" validate:"required,oneof=safelist denylist"`
	SubjectType string  `json:"subject_type" validate:"required,oneof=ip username"`
	Value       string  `json:"value" validate:"required,max=255"`
	Reason      *string `json:"reason" validate:"omitempty,max=500"`
}

// DeactivateListEntryRequest represents the request body for deactivating an entry
type DeactivateListEntryRequest struct {
	ID string `json:"id" validate:"required,uuid"`
}

// ClearLockoutRequest represents the request body for clearing a lockout
type ClearLockoutRequest struct {
	SubjectType string `json:"subject_type" validate:"required,oneof=ip username"`
	Value       string `json:"value" validate:"required,max=255"`
}

// MintTokenRequest represents the request body for minting a service token
type MintTokenRequest struct {
	ClientID string `json:"client_id" validate:"required,min=1,max=64"`
}

// UpdateSettingRequest represents the request body for a setting change
type UpdateSettingRequest struct {
	Name  string `json:"name" validate:"required,max=64"`
	Value string `json:"value" validate:"required,max=64"`
	Type  string `json:"type" validate:"required,oneof=int bool string"`
}

// LockoutStatusResponse represents the lockout state of one subject
type LockoutStatusResponse struct {
	Success      bool                 `json:"success"`
	Locked       bool                 `json:"locked"`
	FailureCount int                  `json:"failure_count"`
	Lockout      *models.LockoutState `json:"lockout,omitempty"`
	WaitSeconds  int                  `json:"wait_seconds,omitempty"`
}

// AddListEntry handles POST /admin/security/lists
func (h *SecurityAdminHandler) AddListEntry(w http.ResponseWriter, r *http.Request) {
	var req AddListEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	entry, err := h.lists.Add(r.Context(), req.ListType, req.SubjectType, req.Value, req.Reason, actorUsername(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid subject value")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteError(w, http.StatusConflict, "Entry already exists")
		default:
			pkghttp.WriteInternalError(w, "Failed to add entry")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// DeactivateListEntry handles POST /admin/security/lists/deactivate
func (h *SecurityAdminHandler) DeactivateListEntry(w http.ResponseWriter, r *http.Request) {
	var req DeactivateListEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid entry id")
		return
	}

	if err := h.lists.Deactivate(r.Context(), id, actorUsername(r)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Entry not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to deactivate entry")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListEntries handles GET /admin/security/lists
func (h *SecurityAdminHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	listType := r.URL.Query().Get("list_type")
	subjectType := r.URL.Query().Get("subject_type")
	limit, offset := parsePagination(r, 50)

	entries, err := h.lists.List(r.Context(), listType, subjectType, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list entries")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

// LockoutStatus handles GET /admin/security/lockouts
func (h *SecurityAdminHandler) LockoutStatus(w http.ResponseWriter, r *http.Request) {
	subjectType := r.URL.Query().Get("subject_type")
	value := r.URL.Query().Get("value")
	if subjectType != models.SubjectTypeIP && subjectType != models.SubjectTypeUsername {
		pkghttp.WriteBadRequest(w, "subject_type must be ip or username")
		return
	}
	if value == "" {
		pkghttp.WriteBadRequest(w, "value is required")
		return
	}

	state, err := h.lockouts.Status(r.Context(), subjectType, value)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to read lockout state")
		return
	}
	count, err := h.lockouts.FailureCount(r.Context(), subjectType, value)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to read lockout state")
		return
	}

	resp := LockoutStatusResponse{
		Success:      true,
		Locked:       state != nil,
		FailureCount: count,
		Lockout:      state,
	}
	if state != nil {
		resp.WaitSeconds = int(state.Remaining(time.Now()).Seconds())
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ClearLockout handles POST /admin/security/lockouts/clear
func (h *SecurityAdminHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	var req ClearLockoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.lockouts.Clear(r.Context(), req.SubjectType, req.Value, actorUsername(r)); err != nil {
		pkghttp.WriteInternalError(w, "Failed to clear lockout")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Stats handles GET /admin/security/stats
func (h *SecurityAdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 720 {
			pkghttp.WriteBadRequest(w, "hours must be between 1 and 720")
			return
		}
		hours = parsed
	}

	buckets, err := h.attempts.CountsByHour(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to compute stats")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"hours":   hours,
		"buckets": buckets,
	})
}

// PruneAttempts handles POST /admin/security/attempts/prune
func (h *SecurityAdminHandler) PruneAttempts(w http.ResponseWriter, r *http.Request) {
	pruned, err := h.attempts.PruneExpired(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to prune attempts")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pruned":  pruned,
	})
}

// RecentEvents handles GET /admin/security/events
func (h *SecurityAdminHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	limit, offset := parsePagination(r, 100)

	events, err := h.events.Recent(r.Context(), kind, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  events,
	})
}

// MintServiceToken handles POST /admin/security/tokens
func (h *SecurityAdminHandler) MintServiceToken(w http.ResponseWriter, r *http.Request) {
	var req MintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	token, err := h.tokens.Mint(req.ClientID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to mint token")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

// UpdateSetting handles POST /admin/security/settings. The store is reloaded
// afterwards so the change takes effect without a restart.
func (h *SecurityAdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.settings.Upsert(r.Context(), models.SecuritySetting{
		Name:  req.Name,
		Value: req.Value,
		Type:  req.Type,
	}); err != nil {
		pkghttp.WriteInternalError(w, "Failed to update setting")
		return
	}

	if err := h.store.Load(r.Context()); err != nil {
		pkghttp.WriteInternalError(w, "Setting saved but reload failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"settings": h.store.Current(),
	})
}

func actorUsername(r *http.Request) string {
	if record := auth.SessionFromContext(r); record != nil {
		return record.Username
	}
	return "system"
}

func parsePagination(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
