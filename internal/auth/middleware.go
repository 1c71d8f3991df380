package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/session"
	pkghttp "github.com/calebthorne/bastion/pkg/httpx"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the session record in context
	SessionContextKey contextKey = "session"
)

// Routing surfaces
const (
	LoginPath     = "/auth/login"
	ForbiddenPath = "/errors/403"
	// APIPathPrefix marks the machine-to-machine surface. It authenticates
	// with bearer service tokens and is CSRF-exempt by this path convention,
	// never by accidental omission.
	APIPathPrefix = "/api/"
)

// UserLookup fetches the user a remember-me cookie names.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// Middleware bundles the per-request guard chain: session validation, role
// checks, and CSRF enforcement. It is the only entry point the surrounding
// CMS calls directly.
type Middleware struct {
	sessions *session.Guard
	csrf     *CsrfGuard
	remember *RememberManager // optional
	users    UserLookup
	events   session.EventSink
	ipConfig *pkghttp.IPConfig
	cookies  session.CookieConfig
	logger   *slog.Logger
}

// NewMiddleware creates a new Middleware
func NewMiddleware(sessions *session.Guard, csrf *CsrfGuard, remember *RememberManager, users UserLookup, events session.EventSink, ipConfig *pkghttp.IPConfig, cookies session.CookieConfig, logger *slog.Logger) *Middleware {
	return &Middleware{
		sessions: sessions,
		csrf:     csrf,
		remember: remember,
		users:    users,
		events:   events,
		ipConfig: ipConfig,
		cookies:  cookies,
		logger:   logger,
	}
}

// RequireSession validates the session on every admin request and injects the
// record into context. Unauthenticated requests are redirected to the login
// surface with the original path preserved as a return target.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipAddress := pkghttp.ExtractClientIP(r, m.ipConfig)
		userAgent := r.Header.Get("User-Agent")

		record, err := m.sessions.Validate(r.Context(), r, ipAddress, userAgent)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrNoSession):
				if rec := m.tryRemembered(w, r, ipAddress, userAgent); rec != nil {
					record = rec
					break
				}
				m.redirectToLogin(w, r)
				return
			case errors.Is(err, models.ErrSessionExpired), errors.Is(err, models.ErrSessionIntegrity):
				// Session already destroyed and the event recorded; force
				// re-authentication.
				session.ClearSessionCookie(w, m.cookies)
				m.redirectToLogin(w, r)
				return
			default:
				m.logger.Error("session validation failed", slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Something went wrong")
				return
			}
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, record)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tryRemembered logs a user in from a valid remember-me cookie. The primary
// authentication path (rate limiter, credential check) is never consulted.
func (m *Middleware) tryRemembered(w http.ResponseWriter, r *http.Request, ipAddress, userAgent string) *models.SessionRecord {
	if m.remember == nil || m.users == nil {
		return nil
	}

	username, ok := m.remember.Verify(r)
	if !ok {
		return nil
	}

	user, err := m.users.GetByUsername(r.Context(), username)
	if err != nil || !user.Active {
		return nil
	}

	record, err := m.sessions.Establish(r.Context(), w, r, user, ipAddress, userAgent)
	if err != nil {
		m.logger.Error("failed to establish remembered session", slog.Any("error", err))
		return nil
	}

	return record
}

func (m *Middleware) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := LoginPath + "?return_to=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// RequireRole enforces role-based access after RequireSession. Denials
// redirect browser requests to the 403 surface; JSON callers get a JSON 403.
func (m *Middleware) RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			record := SessionFromContext(r)
			if record == nil {
				m.redirectToLogin(w, r)
				return
			}

			if record.Role != role {
				if wantsJSON(r) {
					pkghttp.WriteForbidden(w, "Insufficient permissions")
					return
				}
				http.Redirect(w, r, ForbiddenPath, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CSRFProtect validates the session-bound token on every state-changing
// request outside the machine-to-machine surface. Failure terminates the
// request with a generic message; the event row is written first.
func (m *Middleware) CSRFProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isStateChangingMethod(r.Method) || strings.HasPrefix(r.URL.Path, APIPathPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		record := SessionFromContext(r)

		submitted := r.Header.Get(CSRFHeaderName)
		if submitted == "" {
			submitted = r.PostFormValue(CSRFFieldName)
		}

		if !m.csrf.Validate(record, submitted) {
			subject := "anonymous"
			if record != nil {
				subject = record.Username
			}
			if err := m.events.Append(r.Context(), models.EventCSRFFailure, subject, models.EventDetail{
				"method": r.Method,
				"path":   r.URL.Path,
			}); err != nil {
				m.logger.Error("failed to record csrf failure", slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Something went wrong")
				return
			}

			pkghttp.WriteForbidden(w, "Request could not be verified")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SessionFromContext extracts the session record from request context
func SessionFromContext(r *http.Request) *models.SessionRecord {
	record, ok := r.Context().Value(SessionContextKey).(*models.SessionRecord)
	if !ok {
		return nil
	}
	return record
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
