package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	pkghttp "github.com/calebthorne/bastion/pkg/httpx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	serviceTokenIssuer   = "bastion"
	serviceTokenAudience = "bastion-api"
)

// ServiceClaims are the claims carried by machine-to-machine tokens.
type ServiceClaims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

// ServiceTokenManager mints and validates the bearer tokens automation
// clients use on the /api surface. These clients never hold a session, so
// CSRF does not apply to them; the path-prefix exemption in the middleware
// pairs with this scheme.
type ServiceTokenManager struct {
	secret string
	expiry time.Duration
}

// NewServiceTokenManager creates a new ServiceTokenManager
func NewServiceTokenManager(secret string, expiry time.Duration) *ServiceTokenManager {
	return &ServiceTokenManager{
		secret: secret,
		expiry: expiry,
	}
}

// Mint creates a short-lived service token for a client.
func (m *ServiceTokenManager) Mint(clientID string) (string, error) {
	claims := &ServiceClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    serviceTokenIssuer,
			Audience:  jwt.ClaimStrings{serviceTokenAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(m.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	return tokenString, nil
}

// Validate parses and verifies a service token.
func (m *ServiceTokenManager) Validate(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.secret), nil
	},
		jwt.WithIssuer(serviceTokenIssuer),
		jwt.WithAudience(serviceTokenAudience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid service token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid service token")
	}

	return claims, nil
}

// RequireServiceToken gates the /api surface on a valid bearer token.
func RequireServiceToken(m *ServiceTokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "Invalid authorization header format")
				return
			}

			if _, err := m.Validate(parts[1]); err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
