// Package token issues and verifies access tokens and manages single-use
// refresh sessions.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whistleline/platform/internal/crypto"
	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/config"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/metrics"
	"github.com/whistleline/platform/internal/shared/types"
)

const RefreshTokenLength = 64

var (
	// ErrInvalidRefresh covers unknown, expired and already used refresh
	// tokens alike.
	ErrInvalidRefresh = apperrors.Unauthorized("invalid refresh token")

	ErrMissingSecret = errors.New("token: signing secret is required")
)

// Identity is who a token pair is issued to. Reporters carry the report id as
// UserID and no client.
type Identity struct {
	UserID   types.ID
	Email    string
	Role     rbac.Role
	ClientID types.ID
}

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID    types.ID  `json:"uid"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	ClientID  types.ID  `json:"client_id,omitempty"`
	SessionID string    `json:"sid"`
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: c.Role, ClientID: c.ClientID}
}

// Pair is returned to the client once. The raw refresh token is never stored.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service issues, verifies, rotates and revokes tokens.
type Service struct {
	store      SessionStore
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewService fails when no signing secret is configured.
func NewService(cfg config.AuthConfig, store SessionStore, log zerolog.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if store == nil {
		return nil, errors.New("token: session store is required")
	}
	return &Service{
		store:      store,
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
		log:        log.With().Str("component", "token").Logger(),
	}, nil
}

// IssuePair signs an access token and persists the hash of a fresh refresh
// token.
func (s *Service) IssuePair(ctx context.Context, id Identity) (*Pair, error) {
	if !id.Role.Valid() {
		return nil, fmt.Errorf("token: cannot issue for invalid role %d", uint8(id.Role))
	}

	now := s.now()
	sessionID := uuid.NewString()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		ClientID:  id.ClientID,
		SessionID: sessionID,
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("token: sign access token: %w", err)
	}

	refresh, err := crypto.SecureToken(RefreshTokenLength)
	if err != nil {
		return nil, fmt.Errorf("token: generate refresh token: %w", err)
	}

	session := &Session{
		TokenHash: crypto.HashOneWay(refresh),
		SessionID: sessionID,
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		ClientID:  id.ClientID,
		ExpiresAt: refreshExp,
		CreatedAt: now,
	}
	if err := s.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("token: save session: %w", err)
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess returns the claims of a valid access token and nil for any
// failure. Callers must not distinguish expired from forged.
func (s *Service) VerifyAccess(tokenString string) *Claims {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		s.log.Debug().Err(err).Msg("access token rejected")
		return nil
	}
	if !claims.Role.Valid() || claims.UserID.IsZero() {
		return nil
	}
	return claims
}

// RotateCheck vets the identity of a spent session before a new pair is
// issued for it. An error refuses the rotation.
type RotateCheck func(ctx context.Context, id Identity) error

// Rotate exchanges a refresh token for a new pair. The presented token is
// consumed whether or not it is still valid, so of two concurrent rotations
// with the same token exactly one succeeds.
func (s *Service) Rotate(ctx context.Context, refreshToken string, checks ...RotateCheck) (*Pair, error) {
	if refreshToken == "" {
		metrics.RecordTokenRotation(false)
		return nil, ErrInvalidRefresh
	}

	session, err := s.store.Take(ctx, crypto.HashOneWay(refreshToken))
	if errors.Is(err, ErrSessionNotFound) {
		metrics.RecordTokenRotation(false)
		return nil, ErrInvalidRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("token: take session: %w", err)
	}

	if !s.now().Before(session.ExpiresAt) {
		metrics.RecordTokenRotation(false)
		s.log.Info().Str("session_id", session.SessionID).Msg("expired refresh session removed")
		return nil, ErrInvalidRefresh
	}

	for _, check := range checks {
		if err := check(ctx, session.Identity()); err != nil {
			metrics.RecordTokenRotation(false)
			s.log.Info().Str("session_id", session.SessionID).Err(err).Msg("refresh refused")
			return nil, err
		}
	}

	pair, err := s.IssuePair(ctx, session.Identity())
	if err != nil {
		return nil, err
	}
	metrics.RecordTokenRotation(true)
	return pair, nil
}

// Revoke deletes the session for a refresh token. Unknown tokens are not an
// error.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.store.Delete(ctx, crypto.HashOneWay(refreshToken)); err != nil {
		return fmt.Errorf("token: delete session: %w", err)
	}
	return nil
}
