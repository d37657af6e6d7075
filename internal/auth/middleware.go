package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Roles.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier TokenVerifier
}

// NewMiddleware creates auth middleware backed by verifier.
func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := m.extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			log.Printf("[DEBUG] auth %s %s: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope creates middleware that requires specific scopes.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
				return
			}
			if !hasAll(claims.Scopes, requiredScopes) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			next(w, r)
		}
	}
}

// extractBearerToken extracts the bearer token from the Authorization header.
func (m *Middleware) extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func hasAll(have, want []string) bool {
	for _, required := range want {
		found := false
		for _, s := range have {
			if s == required {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetClaimsFromRequest extracts claims from the request context.
func GetClaimsFromRequest(r *http.Request) *Claims {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// CanControl checks if the claims allow receive and transmit control.
func CanControl(claims *Claims) bool {
	return claims != nil && hasAll(claims.Scopes, []string{ScopeControl})
}

// writeError writes an error response in the API envelope format.
func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": fmt.Sprintf("%x", time.Now().UnixNano()),
	}
	if details != nil {
		response["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}
