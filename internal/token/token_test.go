package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistleline/platform/internal/crypto"
	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/config"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:  "test-secret",
		Issuer:     "whistleline-test",
		AccessTTL:  8 * time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(testAuthConfig(), store, zerolog.Nop())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, store, clock
}

func staffIdentity() Identity {
	return Identity{
		UserID:   types.NewID(),
		Email:    "bridge@example.com",
		Role:     rbac.ExternalAdmin,
		ClientID: types.NewID(),
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	cfg := testAuthConfig()
	cfg.JWTSecret = ""

	_, err := NewService(cfg, NewMemoryStore(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestIssueAndVerify(t *testing.T) {
	svc, store, clock := newTestService(t)
	id := staffIdentity()

	pair, err := svc.IssuePair(context.Background(), id)
	require.NoError(t, err)

	assert.Len(t, pair.RefreshToken, RefreshTokenLength)
	assert.Equal(t, clock.Now().Add(8*time.Hour), pair.ExpiresAt)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.Equal(t, 1, store.Len())

	// Only the hash is stored.
	store.mu.Lock()
	_, rawStored := store.sessions[pair.RefreshToken]
	_, hashStored := store.sessions[crypto.HashOneWay(pair.RefreshToken)]
	store.mu.Unlock()
	assert.False(t, rawStored)
	assert.True(t, hashStored)

	claims := svc.VerifyAccess(pair.AccessToken)
	require.NotNil(t, claims)
	assert.Equal(t, id, claims.Identity())
	assert.Equal(t, id.UserID.String(), claims.Subject)
	assert.NotEmpty(t, claims.SessionID)
}

func TestIssueRejectsInvalidRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.IssuePair(context.Background(), Identity{UserID: types.NewID()})
	assert.Error(t, err)
}

func TestVerifyAccessReturnsNilOnFailure(t *testing.T) {
	svc, _, clock := newTestService(t)
	pair, err := svc.IssuePair(context.Background(), staffIdentity())
	require.NoError(t, err)

	other, _, _ := newTestService(t)
	other.secret = []byte("another-secret")
	foreign, err := other.IssuePair(context.Background(), staffIdentity())
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "whistleline-test", ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour))},
		UserID:           types.NewID(),
		Role:             rbac.SuperAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"

	for name, tok := range map[string]string{
		"garbage":      "not.a.token",
		"empty":        "",
		"wrong secret": foreign.AccessToken,
		"alg none":     noneToken,
		"tampered":     tampered,
	} {
		assert.Nil(t, svc.VerifyAccess(tok), name)
	}

	clock.Advance(8*time.Hour + time.Second)
	assert.Nil(t, svc.VerifyAccess(pair.AccessToken), "expired")
}

func TestVerifyAccessRejectsUnknownRole(t *testing.T) {
	svc, _, clock := newTestService(t)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  "whistleline-test",
		"exp":  clock.Now().Add(time.Hour).Unix(),
		"uid":  types.NewID().String(),
		"role": "ROOT",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	assert.Nil(t, svc.VerifyAccess(forged))
}

func TestRotateIsSingleUse(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	id := staffIdentity()

	pair, err := svc.IssuePair(ctx, id)
	require.NoError(t, err)

	rotated, err := svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, 1, store.Len())

	claims := svc.VerifyAccess(rotated.AccessToken)
	require.NotNil(t, claims)
	assert.Equal(t, id, claims.Identity())

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestRotateExpiredRemovesSession(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, staffIdentity())
	require.NoError(t, err)

	clock.Advance(7*24*time.Hour + time.Minute)

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	assert.Equal(t, 0, store.Len())
}

func TestRotateCheckRefuses(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	id := staffIdentity()

	pair, err := svc.IssuePair(ctx, id)
	require.NoError(t, err)

	var seen Identity
	disabled := apperrors.Forbidden("Account is disabled")
	_, err = svc.Rotate(ctx, pair.RefreshToken, func(_ context.Context, got Identity) error {
		seen = got
		return disabled
	})
	assert.Same(t, disabled, err)
	assert.Equal(t, id, seen)
	assert.Equal(t, 0, store.Len(), "a refused session is not reissued")
}

func TestRotateUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Rotate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = svc.Rotate(context.Background(), strings.Repeat("a", RefreshTokenLength))
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestConcurrentRotationExactlyOneWins(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, staffIdentity())
	require.NoError(t, err)

	const callers = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		rejected atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Rotate(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidRefresh):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), rejected.Load())
	assert.Equal(t, 1, store.Len())
}

func TestRevoke(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, staffIdentity())
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))
	assert.Equal(t, 0, store.Len())

	// Idempotent.
	require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, svc.Revoke(ctx, ""))

	_, err = svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	in := &Session{
		TokenHash: crypto.HashOneWay("x"),
		SessionID: "sid",
		UserID:    types.NewID(),
		Email:     "reporter.WLB-2026-ABCDEFGH@anonymous",
		Role:      rbac.Reporter,
		ExpiresAt: time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	data, err := jsonEncode(in)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "client_id")

	out, err := decodeSession(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "session:"+in.TokenHash, redisKey(in.TokenHash))
}
