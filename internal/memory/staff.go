package memory

import (
	"context"
	"time"

	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/staff"
)

type StaffRepository struct {
	s *Store
}

func (r *StaffRepository) FindUserByEmail(_ context.Context, email string) (*staff.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.emails[staff.NormalizeEmail(email)]
	if !ok {
		return nil, errors.NotFound("user", email)
	}
	u := r.s.users[id]
	return &u, nil
}

func (r *StaffRepository) FindUserByID(_ context.Context, id types.ID) (*staff.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return &u, nil
}

func (r *StaffRepository) SaveUser(_ context.Context, u *staff.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email := staff.NormalizeEmail(u.Email)
	if existing, ok := r.s.emails[email]; ok && existing != u.ID {
		return errors.Conflict("user with this email already exists")
	}
	if !u.ClientID.IsZero() {
		if _, ok := r.s.clients[u.ClientID]; !ok {
			return errors.NotFound("client", u.ClientID.String())
		}
	}
	stored := *u
	stored.Email = email
	r.s.users[u.ID] = stored
	r.s.emails[email] = u.ID
	return nil
}

func (r *StaffRepository) TouchLastLogin(_ context.Context, id types.ID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return errors.NotFound("user", id.String())
	}
	u.LastLoginAt = &at
	r.s.users[id] = u
	return nil
}

func (r *StaffRepository) FindClient(_ context.Context, id types.ID) (*staff.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.clients[id]
	if !ok {
		return nil, errors.NotFound("client", id.String())
	}
	return &c, nil
}

func (r *StaffRepository) SaveClient(_ context.Context, c *staff.Client) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.clients[c.ID] = *c
	return nil
}
