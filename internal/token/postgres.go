package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whistleline/platform/internal/rbac"
)

// PostgresStore keeps sessions in the sessions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (token_hash, session_id, user_id, email, role, client_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.TokenHash, s.SessionID, s.UserID, s.Email, s.Role.String(), s.ClientID, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Take deletes and returns in one statement, so only one caller can win.
func (p *PostgresStore) Take(ctx context.Context, tokenHash string) (*Session, error) {
	s := &Session{}
	var role string
	err := p.pool.QueryRow(ctx, `
		DELETE FROM sessions WHERE token_hash = $1
		RETURNING token_hash, session_id, user_id, email, role, client_id, expires_at, created_at`,
		tokenHash,
	).Scan(&s.TokenHash, &s.SessionID, &s.UserID, &s.Email, &role, &s.ClientID, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take session: %w", err)
	}

	if s.Role, err = rbac.ParseRole(role); err != nil {
		return nil, fmt.Errorf("take session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Delete(ctx context.Context, tokenHash string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired removes sessions past their expiry and returns how many went.
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
