package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	report "github.com/whistleline/platform/internal/report/domain"
	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

type ReportRepository struct {
	s *Store
}

func cloneReport(r report.Report) *report.Report {
	if r.EncryptedLocation != nil {
		v := *r.EncryptedLocation
		r.EncryptedLocation = &v
	}
	if r.EncryptedDateOfIncident != nil {
		v := *r.EncryptedDateOfIncident
		r.EncryptedDateOfIncident = &v
	}
	if r.PINLockedUntil != nil {
		v := *r.PINLockedUntil
		r.PINLockedUntil = &v
	}
	return &r
}

func (r *ReportRepository) Save(_ context.Context, rep *report.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tickets[rep.TicketID]; ok {
		return errors.Conflict("report with this ticket already exists")
	}
	if _, ok := r.s.reports[rep.ID]; ok {
		return errors.Conflict("report already exists")
	}
	r.s.reports[rep.ID] = *cloneReport(*rep)
	r.s.tickets[rep.TicketID] = rep.ID
	return nil
}

func (r *ReportRepository) FindByID(_ context.Context, id types.ID) (*report.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rep, ok := r.s.reports[id]
	if !ok {
		return nil, errors.NotFound("report", id.String())
	}
	return cloneReport(rep), nil
}

func (r *ReportRepository) FindByTicket(_ context.Context, ticketID string) (*report.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.tickets[ticketID]
	if !ok {
		return nil, errors.NotFound("report", ticketID)
	}
	return cloneReport(r.s.reports[id]), nil
}

func (r *ReportRepository) List(_ context.Context, filter report.ListFilter) ([]*report.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*report.Report
	for _, rep := range r.s.reports {
		if !filter.ClientID.IsZero() && rep.ClientID != filter.ClientID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, rep.Status) {
			continue
		}
		if filter.Type != "" && rep.Type != filter.Type {
			continue
		}
		out = append(out, cloneReport(rep))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *ReportRepository) UpdateStatus(_ context.Context, id types.ID, from, to report.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rep, ok := r.s.reports[id]
	if !ok {
		return false, errors.NotFound("report", id.String())
	}
	if rep.Status != from {
		return false, nil
	}
	rep.Status = to
	rep.UpdatedAt = time.Now().UTC()
	r.s.reports[id] = rep
	return true, nil
}

func (r *ReportRepository) Delete(_ context.Context, id types.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rep, ok := r.s.reports[id]
	if !ok {
		return nil
	}
	delete(r.s.reports, id)
	delete(r.s.tickets, rep.TicketID)
	return nil
}

func (r *ReportRepository) ClaimPINAttempt(_ context.Context, id types.ID, now time.Time, maxAttempts int, lockedUntil time.Time) (report.LockoutState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rep, ok := r.s.reports[id]
	if !ok {
		return report.LockoutState{}, errors.NotFound("report", id.String())
	}
	locked, _ := rep.LockedAt(now)
	if !locked {
		rep.PINAttempts++
		if rep.PINAttempts >= maxAttempts {
			until := lockedUntil
			rep.PINLockedUntil = &until
		}
		rep.UpdatedAt = time.Now().UTC()
		r.s.reports[id] = rep
	}

	state := report.LockoutState{Claimed: !locked, Attempts: rep.PINAttempts}
	if rep.PINLockedUntil != nil {
		until := *rep.PINLockedUntil
		state.LockedUntil = &until
	}
	return state, nil
}

func (r *ReportRepository) ResetPINAttempts(_ context.Context, id types.ID, attempts int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rep, ok := r.s.reports[id]
	if !ok {
		return false, errors.NotFound("report", id.String())
	}
	if rep.PINAttempts != attempts {
		return false, nil
	}
	rep.PINAttempts = 0
	rep.PINLockedUntil = nil
	r.s.reports[id] = rep
	return true, nil
}

func (r *ReportRepository) LogPINAttempt(_ context.Context, a report.PINAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.attempts = append(r.s.attempts, a)
	return nil
}
