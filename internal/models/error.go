package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Guard decision errors
	ErrLocked     = errors.New("subject is temporarily locked")
	ErrDenylisted = errors.New("subject is denylisted")
	ErrCSRF       = errors.New("csrf token missing or invalid")

	// Session errors
	ErrNoSession        = errors.New("no session")
	ErrSessionExpired   = errors.New("session idle timeout exceeded")
	ErrSessionIntegrity = errors.New("session fingerprint mismatch")

	// Account state errors
	ErrAccountDisabled = errors.New("account is disabled")
)
