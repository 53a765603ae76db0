package staff

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/database"
	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectUser = `
	SELECT id, email, name, password_hash, role, client_id, is_active, last_login_at, created_at
	FROM users`

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE email = $1`, NormalizeEmail(email)))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", email)
	}
	return u, err
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	return u, err
}

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.ClientID, &u.Active, &u.LastLoginAt, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	if u.Role, err = rbac.ParseRole(role); err != nil {
		return nil, errors.Wrap(err, "failed to read user role")
	}
	return u, nil
}

// SaveUser inserts or updates a user
func (r *PostgresRepository) SaveUser(ctx context.Context, u *User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, client_id, is_active, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			client_id = EXCLUDED.client_id,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`,
		u.ID, NormalizeEmail(u.Email), u.Name, u.PasswordHash, u.Role.String(), u.ClientID, u.Active, u.LastLoginAt, u.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("user with this email already exists")
		}
		if database.IsForeignKeyViolation(err) {
			return errors.NotFound("client", u.ClientID.String())
		}
		return errors.Wrap(err, "failed to save user")
	}
	return nil
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id types.ID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrap(err, "failed to update last login")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", id.String())
	}
	return nil
}

func (r *PostgresRepository) FindClient(ctx context.Context, id types.ID) (*Client, error) {
	c := &Client{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, is_active, created_at FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Active, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("client", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find client")
	}
	return c, nil
}

func (r *PostgresRepository) SaveClient(ctx context.Context, c *Client) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clients (id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active`,
		c.ID, c.Name, c.Active, c.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save client")
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
