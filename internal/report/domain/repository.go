package domain

import (
	"context"
	"time"

	"github.com/whistleline/platform/internal/shared/types"
)

// Repository defines the interface for report persistence
type Repository interface {
	Save(ctx context.Context, r *Report) error
	FindByID(ctx context.Context, id types.ID) (*Report, error)
	FindByTicket(ctx context.Context, ticketID string) (*Report, error)
	List(ctx context.Context, filter ListFilter) ([]*Report, error)
	// UpdateStatus applies from -> to only if the report is still in from.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)
	// Delete removes a report. Used to undo a submission whose rooms could
	// not be created.
	Delete(ctx context.Context, id types.ID) error

	// ClaimPINAttempt counts an attempt before the PIN is checked. Unless the
	// report is locked at now, it increments the counter and sets the lockout
	// when the new count reaches maxAttempts, in one atomic step.
	ClaimPINAttempt(ctx context.Context, id types.ID, now time.Time, maxAttempts int, lockedUntil time.Time) (LockoutState, error)
	// ResetPINAttempts clears the counter and lock, but only while the counter
	// still equals attempts. It reports whether the reset happened.
	ResetPINAttempts(ctx context.Context, id types.ID, attempts int) (bool, error)
	LogPINAttempt(ctx context.Context, a PINAttempt) error
}

// ListFilter narrows a report listing. Empty fields do not filter.
type ListFilter struct {
	ClientID types.ID
	Statuses []Status
	Type     ReportType
	Limit    int
	Offset   int
}
