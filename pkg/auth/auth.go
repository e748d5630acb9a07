// Package auth authenticates callers of the admin API. It accepts HMAC
// bearer JWTs or static API keys and attaches the resulting identity to the
// request context.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity describes an authenticated caller.
type Identity struct {
	// Subject is the caller's stable identifier.
	Subject string

	// Name is a display name, when the credential carries one.
	Name string

	// Method is how the caller authenticated: "jwt" or "api_key".
	Method string
}

// Config configures an Authenticator.
type Config struct {
	// Issuer is the expected issuer claim in bearer JWTs. Required when
	// SigningKey is set.
	Issuer string

	// SigningKey is the HMAC key used to verify JWT signatures. Empty
	// disables JWT auth.
	SigningKey []byte

	// APIKeys maps static keys to caller names. Empty disables key auth.
	APIKeys map[string]string
}

// Authenticator validates admin API credentials.
type Authenticator struct {
	cfg Config
}

// New creates an Authenticator.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.SigningKey) > 0 && cfg.Issuer == "" {
		return nil, fmt.Errorf("auth: issuer is required with a signing key")
	}
	if len(cfg.SigningKey) == 0 && len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("auth: no credentials configured")
	}
	return &Authenticator{cfg: cfg}, nil
}

// Authenticate validates a bearer token or API key.
func (a *Authenticator) Authenticate(bearer, apiKey string) (*Identity, error) {
	if bearer != "" && len(a.cfg.SigningKey) > 0 {
		return a.authenticateJWT(bearer)
	}
	if apiKey != "" && len(a.cfg.APIKeys) > 0 {
		if name, ok := a.cfg.APIKeys[apiKey]; ok {
			return &Identity{Subject: name, Name: name, Method: "api_key"}, nil
		}
		return nil, fmt.Errorf("auth: unknown API key")
	}
	return nil, fmt.Errorf("auth: no credentials presented")
}

// authenticateJWT parses and validates the JWT.
func (a *Authenticator) authenticateJWT(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		// Validate the algorithm is HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("auth: invalid claims type")
	}

	iss, ok := claims["iss"].(string)
	if !ok || iss != a.cfg.Issuer {
		return nil, fmt.Errorf("auth: invalid issuer: got %q, want %q", iss, a.cfg.Issuer)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("auth: missing sub claim")
	}
	name, _ := claims["name"].(string)

	return &Identity{Subject: sub, Name: name, Method: "jwt"}, nil
}

// contextKey is the private type for context values set by this package.
type contextKey struct{}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}

// Middleware rejects unauthenticated requests with 401 and injects the
// caller identity into the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(extractBearer(r), r.Header.Get("X-API-Key"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearer gets the bearer token from the Authorization header.
func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}
