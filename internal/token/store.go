package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/types"
)

var ErrSessionNotFound = errors.New("token: session not found")

// Session is a persisted refresh session keyed by the SHA-256 hash of the
// refresh token.
type Session struct {
	TokenHash string    `json:"token_hash"`
	SessionID string    `json:"session_id"`
	UserID    types.ID  `json:"user_id"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	ClientID  types.ID  `json:"client_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) Identity() Identity {
	return Identity{UserID: s.UserID, Email: s.Email, Role: s.Role, ClientID: s.ClientID}
}

// SessionStore persists refresh sessions.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	// Take atomically removes and returns the session, or ErrSessionNotFound.
	Take(ctx context.Context, tokenHash string) (*Session, error)
	Delete(ctx context.Context, tokenHash string) error
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenHash] = *s
	return nil
}

func (m *MemoryStore) Take(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(m.sessions, tokenHash)
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
