package staff

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whistleline/platform/internal/credential"
	"github.com/whistleline/platform/internal/rbac"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/events"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/token"
)

// ErrInvalidCredentials is returned for an unknown email and a wrong password
// alike.
var ErrInvalidCredentials = apperrors.Unauthorized("Invalid email or password")

// Tokens issues and rotates staff sessions.
type Tokens interface {
	IssuePair(ctx context.Context, id token.Identity) (*token.Pair, error)
	Rotate(ctx context.Context, refreshToken string, checks ...token.RotateCheck) (*token.Pair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Service authenticates staff.
type Service struct {
	repo   Repository
	tokens Tokens
	hasher *credential.Hasher
	bus    events.EventBus
	log    zerolog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewService(repo Repository, tokens Tokens, hasher *credential.Hasher, bus events.EventBus, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		hasher: hasher,
		bus:    bus,
		log:    log.With().Str("component", "staff").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
}

type LoginResult struct {
	User   *User       `json:"user"`
	Tokens *token.Pair `json:"auth"`
}

// Login checks email and password and issues a token pair carrying the
// user's role and client.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperrors.Validation("Email and password are required", nil)
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		// Spend the same bcrypt work as a real check.
		s.hasher.Verify(req.Password, s.dummy())
		s.loginFailed(ctx, "", req.IPAddress)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		s.loginFailed(ctx, user.ID, req.IPAddress)
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		return nil, apperrors.Forbidden("Account is disabled")
	}
	if !user.Role.IsStaff() {
		return nil, apperrors.Forbidden("Account cannot sign in here")
	}
	if !user.ClientID.IsZero() {
		client, err := s.repo.FindClient(ctx, user.ClientID)
		if err != nil {
			return nil, err
		}
		if !client.Active {
			return nil, apperrors.Forbidden("Client account is disabled")
		}
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, req.Password)
	}

	now := s.now()
	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to record last login")
	} else {
		user.LastLoginAt = &now
	}

	pair, err := s.tokens.IssuePair(ctx, token.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		ClientID: user.ClientID,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	events.Emit(ctx, s.bus, s.log, events.NewEvent(events.StaffLoggedIn, "staff", map[string]any{
		"ip_address": req.IPAddress,
	}).WithActor(user.ID, user.Role.String(), user.ClientID))

	return &LoginResult{User: user, Tokens: pair}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.HashSecret("not-a-real-password")
		if err != nil {
			s.log.Error().Err(err).Msg("failed to prepare dummy hash")
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	s.log.Info().Str("user_id", user.ID.String()).Msg("password hash below configured cost, rehashing")

	hash, err := s.hasher.HashSecret(password)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to rehash password")
		return
	}
	upgraded := *user
	upgraded.PasswordHash = hash
	if err := s.repo.SaveUser(ctx, &upgraded); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to store rehashed password")
		return
	}
	user.PasswordHash = hash
}

func (s *Service) loginFailed(ctx context.Context, userID types.ID, ip string) {
	events.Emit(ctx, s.bus, s.log, events.NewEvent(events.StaffLoginFailed, "staff", map[string]any{
		"ip_address": ip,
	}).WithActor(userID, "", ""))
}

// Refresh exchanges a refresh token for a new pair. The old token is spent.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperrors.Validation("Refresh token is required", nil)
	}
	return s.tokens.Rotate(ctx, refreshToken, s.stillActive)
}

// stillActive refuses to renew a staff session whose account or client was
// disabled, or whose role or client changed, after it was issued. Reporter
// sessions have no account behind them.
func (s *Service) stillActive(ctx context.Context, id token.Identity) error {
	if !id.Role.IsStaff() {
		return nil
	}
	user, err := s.repo.FindUserByID(ctx, id.UserID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return token.ErrInvalidRefresh
	}
	if err != nil {
		return err
	}
	if !user.Active {
		return apperrors.Forbidden("Account is disabled")
	}
	if user.Role != id.Role || user.ClientID != id.ClientID {
		return token.ErrInvalidRefresh
	}
	if user.ClientID.IsZero() {
		return nil
	}
	client, err := s.repo.FindClient(ctx, user.ClientID)
	if err != nil {
		return err
	}
	if !client.Active {
		return apperrors.Forbidden("Client account is disabled")
	}
	return nil
}

// Logout revokes a refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, refreshToken)
}

// EnsureSuperAdmin creates the first super admin when no account with the
// email exists. It is used to bootstrap an empty installation.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return false, apperrors.Validation("Email and password are required", nil)
	}

	_, err := s.repo.FindUserByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return false, err
	}

	hash, err := s.hasher.HashSecret(password)
	if err != nil {
		return false, apperrors.Internal(err)
	}
	if name == "" {
		name = "Administrator"
	}

	u := &User{
		ID:           types.NewID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         rbac.SuperAdmin,
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return false, err
	}
	s.log.Info().Str("user_id", u.ID.String()).Msg("bootstrap super admin created")
	return true, nil
}
