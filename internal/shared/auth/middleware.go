package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/token"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// User is the authenticated caller, built from verified access token claims.
// For reporters ID is the report ID and ClientID is empty.
type User struct {
	ID        types.ID  `json:"id"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	ClientID  types.ID  `json:"client_id,omitempty"`
	SessionID string    `json:"session_id"`
}

// Identity converts the user into the form the token service issues to.
func (u *User) Identity() token.Identity {
	return token.Identity{UserID: u.ID, Email: u.Email, Role: u.Role, ClientID: u.ClientID}
}

// Verifier checks access tokens.
type Verifier interface {
	VerifyAccess(tokenString string) *token.Claims
}

// Middleware rejects requests without a valid bearer access token.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := v.VerifyAccess(strings.TrimSpace(tokenString))
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			user := &User{
				ID:        claims.UserID,
				Email:     claims.Email,
				Role:      claims.Role,
				ClientID:  claims.ClientID,
				SessionID: claims.SessionID,
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser stores the user in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// RequireRoles creates middleware that requires one of the roles
func RequireRoles(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !slices.Contains(roles, user.Role) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission creates middleware that requires the action on any scope
// of the resource.
func RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !rbac.HasPermissionOnAny(user.Role, resource, action) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
