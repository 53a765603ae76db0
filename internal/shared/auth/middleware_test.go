package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/config"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/token"
)

func newTokens(t *testing.T) *token.Service {
	t.Helper()
	svc, err := token.NewService(config.AuthConfig{
		JWTSecret:  "secret",
		Issuer:     "test",
		AccessTTL:  time.Hour,
		RefreshTTL: time.Hour,
	}, token.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestMiddleware(t *testing.T) {
	tokens := newTokens(t)
	userID := types.NewID()
	pair, err := tokens.IssuePair(context.Background(), token.Identity{
		UserID: userID, Email: "a@b.example", Role: rbac.CompanyAdmin, ClientID: types.NewID(),
	})
	require.NoError(t, err)

	var seen *User
	h := Middleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + pair.AccessToken, http.StatusOK},
		{"lowercase scheme", "bearer " + pair.AccessToken, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"refresh token is not an access token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, userID, seen.ID)
				assert.Equal(t, rbac.CompanyAdmin, seen.Role)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestRequireRolesAndPermission(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name    string
		user    *User
		handler http.Handler
		want    int
	}{
		{"no user", nil, RequireRoles(rbac.SuperAdmin)(next), http.StatusUnauthorized},
		{"role allowed", &User{Role: rbac.ExternalAdmin}, RequireRoles(rbac.SuperAdmin, rbac.ExternalAdmin)(next), http.StatusOK},
		{"role refused", &User{Role: rbac.Reporter}, RequireRoles(rbac.SuperAdmin, rbac.ExternalAdmin)(next), http.StatusForbidden},
		{"relay permission", &User{Role: rbac.ExternalAdmin}, RequirePermission("messages", "relay")(next), http.StatusOK},
		{"no relay permission", &User{Role: rbac.InternalAdmin}, RequirePermission("messages", "relay")(next), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				r = r.WithContext(WithUser(r.Context(), tt.user))
			}
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
