package domain

import (
	"fmt"
	"time"

	"github.com/whistleline/platform/internal/shared/types"
)

// ReportType classifies a report
type ReportType string

const (
	ReportTypeHarassment     ReportType = "harassment"
	ReportTypeDiscrimination ReportType = "discrimination"
	ReportTypeSafety         ReportType = "safety"
	ReportTypeEthics         ReportType = "ethics"
	ReportTypeFraud          ReportType = "fraud"
	ReportTypeOther          ReportType = "other"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeHarassment, ReportTypeDiscrimination, ReportTypeSafety,
		ReportTypeEthics, ReportTypeFraud, ReportTypeOther:
		return true
	}
	return false
}

// Status is the case progression. It only moves forward.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusValidated   Status = "validated"
	StatusInProgress  Status = "in_progress"
	StatusResolved    Status = "resolved"
	StatusClosed      Status = "closed"
)

var statusOrder = map[Status]int{
	StatusSubmitted:   0,
	StatusUnderReview: 1,
	StatusValidated:   2,
	StatusInProgress:  3,
	StatusResolved:    4,
	StatusClosed:      5,
}

func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// CanAdvanceTo reports whether to is strictly later than s. Skipping
// intermediate states is allowed.
func (s Status) CanAdvanceTo(to Status) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	next, ok := statusOrder[to]
	return ok && next > from
}

// ValidatedStatuses are visible to the client-internal team.
func ValidatedStatuses() []Status {
	return []Status{StatusValidated, StatusInProgress, StatusResolved}
}

// Report is an anonymous submission. Content, location and date are stored
// encrypted under the report's own key, which is distinct from both room keys.
type Report struct {
	ID                      types.ID   `json:"id"`
	TicketID                string     `json:"ticket_id"`
	PINHash                 string     `json:"-"`
	EncryptedContent        string     `json:"-"`
	EncryptedLocation       *string    `json:"-"`
	EncryptedDateOfIncident *string    `json:"-"`
	EncryptionKey           string     `json:"-"`
	EncryptionIV            string     `json:"-"`
	Type                    ReportType `json:"type"`
	Status                  Status     `json:"status"`
	PINAttempts             int        `json:"-"`
	PINLockedUntil          *time.Time `json:"-"`
	ClientID                types.ID   `json:"client_id"`
	ReporterRoomID          types.ID   `json:"reporter_room_id,omitempty"`
	InternalRoomID          types.ID   `json:"internal_room_id,omitempty"`
	InvolvesPhysicalHarm    bool       `json:"involves_physical_harm"`
	InvolvesLegalViolation  bool       `json:"involves_legal_violation"`
	SubmittedAt             time.Time  `json:"submitted_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// Content is the encrypted JSON body of a report.
type Content struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// LockedAt reports whether PIN login is suspended at now, and for how long.
func (r *Report) LockedAt(now time.Time) (bool, time.Duration) {
	if r.PINLockedUntil == nil || !r.PINLockedUntil.After(now) {
		return false, 0
	}
	return true, r.PINLockedUntil.Sub(now)
}

// Advance moves the report to a later status.
func (r *Report) Advance(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if !r.Status.CanAdvanceTo(to) {
		return fmt.Errorf("cannot move report from %s to %s", r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// PINAttempt is an append-only record of one reporter login attempt.
type PINAttempt struct {
	TicketID    string    `json:"ticket_id"`
	IPAddress   string    `json:"ip_address"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// LockoutState is the attempt counter after a claim. Claimed is false when
// the report was already locked and no attempt was counted.
type LockoutState struct {
	Claimed     bool
	Attempts    int
	LockedUntil *time.Time
}
