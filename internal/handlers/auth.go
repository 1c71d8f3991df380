package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/calebthorne/bastion/internal/auth"
	"github.com/calebthorne/bastion/internal/services"
	"github.com/calebthorne/bastion/internal/session"
	pkghttp "github.com/calebthorne/bastion/pkg/httpx"
)

// LoginFlow defines the interface for the login decision pipeline
type LoginFlow interface {
	Login(ctx context.Context, username, password, ipAddress string) (*services.LoginResult, error)
}

// AuthHandler handles login, logout and CSRF token requests
type AuthHandler struct {
	flow     LoginFlow
	sessions *session.Guard
	csrf     *auth.CsrfGuard
	remember *auth.RememberManager
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(flow LoginFlow, sessions *session.Guard, csrf *auth.CsrfGuard, remember *auth.RememberManager, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		flow:     flow,
		sessions: sessions,
		csrf:     csrf,
		remember: remember,
		ipConfig: ipConfig,
	}
}

// LoginRequest represents a credential submission. The login form posts it
// url-encoded; API clients may send JSON.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
	ReturnTo string `json:"return_to"`
}

// LoginResponse represents the response body for login
type LoginResponse struct {
	Success           bool   `json:"success"`
	Redirect          string `json:"redirect,omitempty"`
	CSRFToken         string `json:"csrf_token,omitempty"`
	ChallengeRequired bool   `json:"challenge_required,omitempty"`
	WaitSeconds       int    `json:"wait_seconds,omitempty"`
	RemainingAttempts int    `json:"remaining_attempts,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Login handles a credential submission
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := parseLoginRequest(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.flow.Login(r.Context(), req.Username, req.Password, ipAddress)
	if err != nil {
		pkghttp.WriteInternalError(w, "Login failed")
		return
	}

	switch result.Decision.Outcome {
	case services.OutcomeBlock:
		pkghttp.WriteForbidden(w, "Access denied")
		return
	case services.OutcomeBlockLocked:
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, LoginResponse{
			Error:       lockedMessage(result.Decision.WaitSeconds),
			WaitSeconds: result.Decision.WaitSeconds,
		})
		return
	}

	if result.User == nil {
		resp := LoginResponse{
			Error:             "Invalid username or password",
			ChallengeRequired: result.Decision.Outcome == services.OutcomeAllowChallenge,
		}
		if result.RemainingAttempts >= 0 {
			resp.RemainingAttempts = result.RemainingAttempts
			resp.Error = fmt.Sprintf("Invalid username or password. %d attempts remaining.", result.RemainingAttempts)
		}
		pkghttp.WriteJSON(w, http.StatusUnauthorized, resp)
		return
	}

	record, err := h.sessions.Establish(r.Context(), w, r, result.User, ipAddress, userAgent)
	if err != nil {
		pkghttp.WriteInternalError(w, "Login failed")
		return
	}

	token, err := h.csrf.IssueToken(r.Context(), record)
	if err != nil {
		pkghttp.WriteInternalError(w, "Login failed")
		return
	}

	if req.Remember {
		if err := h.remember.Issue(w, result.User.Username); err != nil {
			pkghttp.WriteInternalError(w, "Login failed")
			return
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Redirect:  safeReturnPath(req.ReturnTo),
		CSRFToken: token,
	})
}

// Logout destroys the current session and drops the remember-me cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	record := auth.SessionFromContext(r)
	if record != nil {
		if err := h.sessions.Destroy(r.Context(), w, record.ID); err != nil {
			pkghttp.WriteInternalError(w, "Logout failed")
			return
		}
	}
	h.remember.Clear(w)

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:  true,
		Redirect: auth.LoginPath,
	})
}

// CsrfToken returns the token bound to the current session so in-page
// scripts can populate the hidden form field after a soft navigation.
func (h *AuthHandler) CsrfToken(w http.ResponseWriter, r *http.Request) {
	record := auth.SessionFromContext(r)
	if record == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	token, err := h.csrf.IssueToken(r.Context(), record)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to issue token")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"csrf_token": token,
	})
}

func parseLoginRequest(r *http.Request) (LoginRequest, error) {
	var req LoginRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Username = r.PostFormValue("username")
	req.Password = r.PostFormValue("password")
	req.Remember = r.PostFormValue("remember") == "1" || r.PostFormValue("remember") == "on"
	req.ReturnTo = r.PostFormValue("return_to")
	return req, nil
}

// safeReturnPath only honors local paths; anything else falls back to the
// panel root so the login form cannot be used as an open redirect.
func safeReturnPath(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return "/admin"
	}
	return returnTo
}

func lockedMessage(waitSeconds int) string {
	minutes := (waitSeconds + 59) / 60
	if minutes <= 1 {
		return "Too many failed attempts. Try again in 1 minute."
	}
	return fmt.Sprintf("Too many failed attempts. Try again in %d minutes.", minutes)
}
