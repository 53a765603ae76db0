// Package staff authenticates administrator accounts and manages their
// refresh sessions.
package staff

import (
	"context"
	"strings"
	"time"

	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/types"
)

// User is a staff account. Reporters never have one.
type User struct {
	ID           types.ID   `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         rbac.Role  `json:"role"`
	ClientID     types.ID   `json:"client_id,omitempty"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Client is a tenant organisation.
type Client struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository defines persistence for staff accounts and their clients
type Repository interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id types.ID) (*User, error)
	SaveUser(ctx context.Context, u *User) error
	TouchLastLogin(ctx context.Context, id types.ID, at time.Time) error

	FindClient(ctx context.Context, id types.ID) (*Client, error)
	SaveClient(ctx context.Context, c *Client) error
}

// NormalizeEmail lowercases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
