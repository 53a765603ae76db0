package staff_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistleline/platform/internal/credential"
	"github.com/whistleline/platform/internal/memory"
	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/config"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/staff"
	"github.com/whistleline/platform/internal/token"
)

type env struct {
	svc    *staff.Service
	store  *memory.Store
	tokens *token.Service
	hasher *credential.Hasher
	client *staff.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	tokens, err := token.NewService(config.AuthConfig{
		JWTSecret:  "secret",
		Issuer:     "test",
		AccessTTL:  time.Hour,
		RefreshTTL: time.Hour,
	}, token.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, err)

	hasher := credential.NewHasher(5)
	client := &staff.Client{ID: types.NewID(), Name: "Acme", Active: true}
	require.NoError(t, store.Staff().SaveClient(context.Background(), client))

	return &env{
		svc:    staff.NewService(store.Staff(), tokens, hasher, nil, zerolog.Nop()),
		store:  store,
		tokens: tokens,
		hasher: hasher,
		client: client,
	}
}

func (e *env) addUser(t *testing.T, email, password string, role rbac.Role, active bool) *staff.User {
	t.Helper()
	hash, err := e.hasher.HashSecret(password)
	require.NoError(t, err)
	u := &staff.User{
		ID:           types.NewID(),
		Email:        email,
		Name:         "Test",
		PasswordHash: hash,
		Role:         role,
		ClientID:     e.client.ID,
		Active:       active,
	}
	require.NoError(t, e.store.Staff().SaveUser(context.Background(), u))
	return u
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.addUser(t, "admin@acme.example", "correct horse", rbac.CompanyAdmin, true)

	res, err := e.svc.Login(ctx, staff.LoginRequest{Email: "ADMIN@acme.example", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	require.NotNil(t, res.User.LastLoginAt)

	claims := e.tokens.VerifyAccess(res.Tokens.AccessToken)
	require.NotNil(t, claims)
	assert.Equal(t, rbac.CompanyAdmin, claims.Role)
	assert.Equal(t, e.client.ID, claims.ClientID)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addUser(t, "admin@acme.example", "correct horse", rbac.CompanyAdmin, true)

	_, unknown := e.svc.Login(ctx, staff.LoginRequest{Email: "nobody@acme.example", Password: "x"})
	_, wrong := e.svc.Login(ctx, staff.LoginRequest{Email: "admin@acme.example", Password: "x"})

	assert.Same(t, staff.ErrInvalidCredentials, unknown)
	assert.Same(t, staff.ErrInvalidCredentials, wrong)

	_, err := e.svc.Login(ctx, staff.LoginRequest{Email: " ", Password: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestLoginRefusesDisabledAccounts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addUser(t, "off@acme.example", "pw", rbac.InternalAdmin, false)

	_, err := e.svc.Login(ctx, staff.LoginRequest{Email: "off@acme.example", Password: "pw"})
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	e.addUser(t, "on@acme.example", "pw", rbac.InternalAdmin, true)
	e.client.Active = false
	require.NoError(t, e.store.Staff().SaveClient(ctx, e.client))

	_, err = e.svc.Login(ctx, staff.LoginRequest{Email: "on@acme.example", Password: "pw"})
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	weak, err := credential.NewHasher(4).HashSecret("pw")
	require.NoError(t, err)
	u := &staff.User{ID: types.NewID(), Email: "old@acme.example", PasswordHash: weak, Role: rbac.SuperAdmin, Active: true}
	require.NoError(t, e.store.Staff().SaveUser(ctx, u))

	_, err = e.svc.Login(ctx, staff.LoginRequest{Email: u.Email, Password: "pw"})
	require.NoError(t, err)

	stored, err := e.store.Staff().FindUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.NotEqual(t, weak, stored.PasswordHash)
	assert.False(t, e.hasher.NeedsUpgrade(stored.PasswordHash))
}

func TestRefreshAndLogout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addUser(t, "a@acme.example", "pw", rbac.ExternalAdmin, true)

	res, err := e.svc.Login(ctx, staff.LoginRequest{Email: "a@acme.example", Password: "pw"})
	require.NoError(t, err)

	next, err := e.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = e.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized), "refresh tokens are single use")

	require.NoError(t, e.svc.Logout(ctx, next.RefreshToken))
	_, err = e.svc.Refresh(ctx, next.RefreshToken)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestRefreshRechecksAccount(t *testing.T) {
	tests := []struct {
		name    string
		disable func(t *testing.T, e *env, u *staff.User)
		want    error
	}{
		{
			name: "user disabled",
			disable: func(t *testing.T, e *env, u *staff.User) {
				u.Active = false
				require.NoError(t, e.store.Staff().SaveUser(context.Background(), u))
			},
			want: apperrors.ErrForbidden,
		},
		{
			name: "client disabled",
			disable: func(t *testing.T, e *env, u *staff.User) {
				e.client.Active = false
				require.NoError(t, e.store.Staff().SaveClient(context.Background(), e.client))
			},
			want: apperrors.ErrForbidden,
		},
		{
			name: "role changed",
			disable: func(t *testing.T, e *env, u *staff.User) {
				u.Role = rbac.InternalAdmin
				require.NoError(t, e.store.Staff().SaveUser(context.Background(), u))
			},
			want: apperrors.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			u := e.addUser(t, "a@acme.example", "pw", rbac.CompanyAdmin, true)

			res, err := e.svc.Login(ctx, staff.LoginRequest{Email: "a@acme.example", Password: "pw"})
			require.NoError(t, err)

			tt.disable(t, e, u)
			_, err = e.svc.Refresh(ctx, res.Tokens.RefreshToken)
			assert.True(t, apperrors.Is(err, tt.want), "got %v", err)

			// The refused token is spent.
			_, err = e.svc.Refresh(ctx, res.Tokens.RefreshToken)
			assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
		})
	}
}

func TestRefreshReporterSession(t *testing.T) {
	e := newEnv(t)
	pair, err := e.tokens.IssuePair(context.Background(), token.Identity{UserID: types.NewID(), Role: rbac.Reporter})
	require.NoError(t, err)

	_, err = e.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.NoError(t, err)
}

func TestEnsureSuperAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.svc.EnsureSuperAdmin(ctx, "root@platform.example", "pw", "")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.svc.EnsureSuperAdmin(ctx, "root@platform.example", "other", "")
	require.NoError(t, err)
	assert.False(t, created)

	res, err := e.svc.Login(ctx, staff.LoginRequest{Email: "root@platform.example", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, rbac.SuperAdmin, res.User.Role)
}

func TestLoginHandler(t *testing.T) {
	e := newEnv(t)
	e.addUser(t, "a@acme.example", "pw", rbac.ExternalAdmin, true)
	h := staff.NewHandler(e.svc, zerolog.Nop())

	post := func(body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/auth/admin", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		h.Login(w, r)
		return w
	}

	w := post(`{"email":"a@acme.example","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		User struct {
			Role         string `json:"role"`
			PasswordHash string `json:"password_hash"`
		} `json:"user"`
		Auth token.Pair `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "EXTERNAL_ADMIN", body.User.Role)
	assert.Empty(t, body.User.PasswordHash)
	assert.NotEmpty(t, body.Auth.AccessToken)

	assert.Equal(t, http.StatusUnauthorized, post(`{"email":"a@acme.example","password":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{`).Code)
}
