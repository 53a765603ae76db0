// Package service implements anonymous report submission, the reporter PIN
// login and staff-side case progression.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whistleline/platform/internal/chat/broker"
	"github.com/whistleline/platform/internal/credential"
	"github.com/whistleline/platform/internal/crypto"
	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/report/domain"
	"github.com/whistleline/platform/internal/shared/config"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/events"
	"github.com/whistleline/platform/internal/shared/metrics"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/staff"
	"github.com/whistleline/platform/internal/token"
)

// ErrInvalidCredentials is the only answer to an unknown ticket or a wrong
// PIN. The two cases are indistinguishable to the caller.
var ErrInvalidCredentials = apperrors.Unauthorized("Invalid Ticket ID or PIN")

const ticketAttempts = 3

// Rooms creates and locks the chat rooms of a case.
type Rooms interface {
	CreateCaseRooms(ctx context.Context, clientID, reportID types.ID) (*broker.CaseRooms, error)
	Lock(ctx context.Context, roomID types.ID) error
}

// Tokens issues session tokens.
type Tokens interface {
	IssuePair(ctx context.Context, id token.Identity) (*token.Pair, error)
}

// Clients resolves the tenant a report is filed against.
type Clients interface {
	FindClient(ctx context.Context, id types.ID) (*staff.Client, error)
}

// Service handles the report lifecycle.
type Service struct {
	reports domain.Repository
	rooms   Rooms
	clients Clients
	tokens  Tokens
	hasher  *credential.Hasher
	cfg     config.ReporterConfig
	bus     events.EventBus
	log     zerolog.Logger
	now     func() time.Time
}

func New(
	reports domain.Repository,
	rooms Rooms,
	clients Clients,
	tokens Tokens,
	hasher *credential.Hasher,
	cfg config.ReporterConfig,
	bus events.EventBus,
	log zerolog.Logger,
) *Service {
	return &Service{
		reports: reports,
		rooms:   rooms,
		clients: clients,
		tokens:  tokens,
		hasher:  hasher,
		cfg:     cfg,
		bus:     bus,
		log:     log.With().Str("component", "reports").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type SubmitRequest struct {
	Type                   domain.ReportType `json:"type"`
	Title                  string            `json:"title"`
	Description            string            `json:"description"`
	Location               string            `json:"location,omitempty"`
	DateOfIncident         string            `json:"date_of_incident,omitempty"`
	InvolvesPhysicalHarm   bool              `json:"involves_physical_harm"`
	InvolvesLegalViolation bool              `json:"involves_legal_violation"`
	ClientID               types.ID          `json:"client_id"`
}

// SubmitResult carries the reporter's credentials. The PIN is never shown
// again.
type SubmitResult struct {
	ReportID       types.ID      `json:"report_id"`
	TicketID       string        `json:"ticket_id"`
	PIN            string        `json:"pin"`
	Status         domain.Status `json:"status"`
	ReporterRoomID types.ID      `json:"reporter_room_id"`
	InternalRoomID types.ID      `json:"internal_room_id"`
	SubmittedAt    time.Time     `json:"submitted_at"`
}

func (r SubmitRequest) validate() error {
	details := make(map[string]string)
	if !r.Type.Valid() {
		details["type"] = "invalid"
	}
	if strings.TrimSpace(r.Title) == "" {
		details["title"] = "required"
	}
	if strings.TrimSpace(r.Description) == "" {
		details["description"] = "required"
	}
	if r.ClientID.IsZero() {
		details["client_id"] = "required"
	}
	if len(details) > 0 {
		return apperrors.Validation("Missing required fields", details)
	}
	return nil
}

// Submit files an anonymous report, encrypts its content under a fresh
// report key and creates both chat rooms. A report without rooms is never
// left behind.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	client, err := s.clients.FindClient(ctx, req.ClientID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Validation("Unknown client", map[string]string{"client_id": "unknown"})
		}
		return nil, err
	}
	if !client.Active {
		return nil, apperrors.Validation("Client is not accepting reports", map[string]string{"client_id": "inactive"})
	}

	pin, err := credential.GeneratePIN()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	pinHash, err := s.hasher.HashPIN(pin)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	rep, err := s.sealReport(req)
	if err != nil {
		return nil, err
	}
	rep.PINHash = pinHash

	if err := s.saveWithTicket(ctx, rep); err != nil {
		return nil, err
	}

	rooms, err := s.rooms.CreateCaseRooms(ctx, rep.ClientID, rep.ID)
	if err != nil {
		if delErr := s.reports.Delete(ctx, rep.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("report_id", rep.ID.String()).Msg("failed to remove report after room creation failed")
		}
		return nil, err
	}

	metrics.RecordReportSubmitted(string(rep.Type))
	events.Emit(ctx, s.bus, s.log, events.NewEvent(events.ReportSubmitted, "reports", map[string]any{
		"report_id": rep.ID,
		"type":      rep.Type,
	}).WithActor("", rbac.Reporter.String(), rep.ClientID))

	s.log.Info().Str("report_id", rep.ID.String()).Str("type", string(rep.Type)).Msg("report submitted")

	return &SubmitResult{
		ReportID:       rep.ID,
		TicketID:       rep.TicketID,
		PIN:            pin,
		Status:         rep.Status,
		ReporterRoomID: rooms.ReporterRoomID,
		InternalRoomID: rooms.InternalRoomID,
		SubmittedAt:    rep.SubmittedAt,
	}, nil
}

func (s *Service) sealReport(req SubmitRequest) (*domain.Report, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, apperrors.Crypto(err)
	}

	content, err := crypto.EncryptJSON(domain.Content{Title: req.Title, Description: req.Description}, key, iv)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	location, err := encryptOptional(req.Location, key, iv)
	if err != nil {
		return nil, err
	}
	date, err := encryptOptional(req.DateOfIncident, key, iv)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &domain.Report{
		ID:                      types.NewID(),
		EncryptedContent:        content,
		EncryptedLocation:       location,
		EncryptedDateOfIncident: date,
		EncryptionKey:           key,
		EncryptionIV:            iv,
		Type:                    req.Type,
		Status:                  domain.StatusSubmitted,
		ClientID:                req.ClientID,
		InvolvesPhysicalHarm:    req.InvolvesPhysicalHarm,
		InvolvesLegalViolation:  req.InvolvesLegalViolation,
		SubmittedAt:             now,
		UpdatedAt:               now,
	}, nil
}

func encryptOptional(plain, key, iv string) (*string, error) {
	if plain == "" {
		return nil, nil
	}
	ct, err := crypto.Encrypt(plain, key, iv)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	return &ct, nil
}

// saveWithTicket assigns a ticket and persists, drawing a new ticket on the
// rare collision.
func (s *Service) saveWithTicket(ctx context.Context, rep *domain.Report) error {
	var err error
	for i := 0; i < ticketAttempts; i++ {
		if rep.TicketID, err = NewTicketID(s.now()); err != nil {
			return apperrors.Internal(err)
		}
		err = s.reports.Save(ctx, rep)
		if !apperrors.Is(err, apperrors.ErrConflict) {
			return err
		}
	}
	return err
}

// NewTicketID returns WLB-<year>-<8 base32 characters>.
func NewTicketID(now time.Time) (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ticket: %w", err)
	}
	return fmt.Sprintf("WLB-%d-%s", now.Year(), base32.StdEncoding.EncodeToString(b)), nil
}

type AuthenticateRequest struct {
	TicketID  string
	PIN       string
	IPAddress string
}

// Summary is the decrypted view of a report shown to its reporter.
type Summary struct {
	ID                     types.ID          `json:"id"`
	TicketID               string            `json:"ticket_id"`
	Type                   domain.ReportType `json:"type"`
	Status                 domain.Status     `json:"status"`
	Title                  string            `json:"title"`
	Description            string            `json:"description"`
	Location               string            `json:"location,omitempty"`
	DateOfIncident         string            `json:"date_of_incident,omitempty"`
	InvolvesPhysicalHarm   bool              `json:"involves_physical_harm"`
	InvolvesLegalViolation bool              `json:"involves_legal_violation"`
	SubmittedAt            time.Time         `json:"submitted_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

type AuthResult struct {
	Report         Summary     `json:"report"`
	ReporterRoomID types.ID    `json:"reporter_room_id"`
	InternalRoomID types.ID    `json:"internal_room_id"`
	Tokens         *token.Pair `json:"auth"`
}

// Authenticate logs a reporter in with ticket and PIN. Every failure counts
// toward the lockout, malformed PINs included.
func (s *Service) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthResult, error) {
	ticket := strings.TrimSpace(req.TicketID)
	if ticket == "" || req.PIN == "" {
		return nil, apperrors.Validation("Ticket ID and PIN are required", nil)
	}

	rep, err := s.reports.FindByTicket(ctx, ticket)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			s.logAttempt(ctx, ticket, req.IPAddress, false)
			metrics.RecordPINAttempt("unknown_ticket")
			s.emitLoginFailed(ctx, "", "")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// The attempt is counted before the PIN is checked, so parallel logins
	// cannot all read an unlocked report and guess past the limit.
	now := s.now()
	state, err := s.reports.ClaimPINAttempt(ctx, rep.ID, now, s.cfg.MaxPINAttempts, now.Add(s.cfg.LockoutDuration))
	if err != nil {
		return nil, err
	}
	if !state.Claimed {
		metrics.RecordPINAttempt("locked")
		var remaining time.Duration
		if state.LockedUntil != nil {
			remaining = state.LockedUntil.Sub(now)
		}
		return nil, apperrors.Locked("Too many failed attempts. Please try again later.", remaining)
	}

	ok, err := s.hasher.VerifyPIN(req.PIN, rep.PINHash)
	if err != nil && !apperrors.Is(err, apperrors.ErrValidation) {
		return nil, err
	}
	if !ok {
		return nil, s.failPIN(ctx, rep, req.IPAddress, state)
	}

	// A later claim means other attempts are in flight; their count stands.
	if _, err := s.reports.ResetPINAttempts(ctx, rep.ID, state.Attempts); err != nil {
		return nil, err
	}
	s.logAttempt(ctx, ticket, req.IPAddress, true)

	summary, err := decryptSummary(rep)
	if err != nil {
		s.log.Error().Err(err).Str("report_id", rep.ID.String()).Msg("report decryption failed")
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, token.Identity{
		UserID: rep.ID,
		Email:  fmt.Sprintf("reporter.%s@anonymous", rep.TicketID),
		Role:   rbac.Reporter,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	metrics.RecordPINAttempt("success")
	events.Emit(ctx, s.bus, s.log, events.NewEvent(events.ReporterLoggedIn, "reports", map[string]any{
		"report_id": rep.ID,
		"method":    "PIN",
	}).WithActor(rep.ID, rbac.Reporter.String(), rep.ClientID))

	return &AuthResult{
		Report:         *summary,
		ReporterRoomID: rep.ReporterRoomID,
		InternalRoomID: rep.InternalRoomID,
		Tokens:         pair,
	}, nil
}

func (s *Service) failPIN(ctx context.Context, rep *domain.Report, ip string, state domain.LockoutState) error {
	s.logAttempt(ctx, rep.TicketID, ip, false)
	metrics.RecordPINAttempt("failure")
	s.emitLoginFailed(ctx, rep.ID, rep.ClientID)

	if state.LockedUntil != nil && state.Attempts >= s.cfg.MaxPINAttempts {
		metrics.RecordLockout()
		s.log.Warn().Str("report_id", rep.ID.String()).Int("attempts", state.Attempts).Msg("reporter locked out")
		events.Emit(ctx, s.bus, s.log, events.NewEvent(events.ReporterLockedOut, "reports", map[string]any{
			"report_id":    rep.ID,
			"locked_until": state.LockedUntil,
		}).WithActor("", "", rep.ClientID))
	}
	return ErrInvalidCredentials
}

func (s *Service) emitLoginFailed(ctx context.Context, reportID, clientID types.ID) {
	events.Emit(ctx, s.bus, s.log, events.NewEvent(events.ReporterLoginFailed, "reports", map[string]any{
		"report_id": reportID,
	}).WithActor("", "", clientID))
}

// logAttempt records the attempt. The log is best effort: a write failure
// does not change the outcome of the login.
func (s *Service) logAttempt(ctx context.Context, ticket, ip string, success bool) {
	err := s.reports.LogPINAttempt(ctx, domain.PINAttempt{
		TicketID:    ticket,
		IPAddress:   ip,
		Success:     success,
		AttemptedAt: s.now(),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to log PIN attempt")
	}
}

func decryptSummary(rep *domain.Report) (*Summary, error) {
	var content domain.Content
	if err := crypto.DecryptJSON(rep.EncryptedContent, rep.EncryptionKey, rep.EncryptionIV, &content); err != nil {
		return nil, apperrors.Crypto(err)
	}

	sum := &Summary{
		ID:                     rep.ID,
		TicketID:               rep.TicketID,
		Type:                   rep.Type,
		Status:                 rep.Status,
		Title:                  content.Title,
		Description:            content.Description,
		InvolvesPhysicalHarm:   rep.InvolvesPhysicalHarm,
		InvolvesLegalViolation: rep.InvolvesLegalViolation,
		SubmittedAt:            rep.SubmittedAt,
		UpdatedAt:              rep.UpdatedAt,
	}

	var err error
	if rep.EncryptedLocation != nil {
		if sum.Location, err = crypto.Decrypt(*rep.EncryptedLocation, rep.EncryptionKey, rep.EncryptionIV); err != nil {
			return nil, apperrors.Crypto(err)
		}
	}
	if rep.EncryptedDateOfIncident != nil {
		if sum.DateOfIncident, err = crypto.Decrypt(*rep.EncryptedDateOfIncident, rep.EncryptionKey, rep.EncryptionIV); err != nil {
			return nil, apperrors.Crypto(err)
		}
	}
	return sum, nil
}

// AdvanceStatus moves a report forward. Closing a report locks both of its
// rooms.
func (s *Service) AdvanceStatus(ctx context.Context, actor token.Identity, reportID types.ID, to domain.Status) (*domain.Report, error) {
	if !to.Valid() {
		return nil, apperrors.Validation("Unknown status", map[string]string{"status": string(to)})
	}
	if !rbac.HasPermissionOnAny(actor.Role, "reports", "update") {
		metrics.RecordAuthorizationDecision("report", "update", false)
		return nil, apperrors.Denied("Role cannot update reports")
	}

	rep, err := s.reports.FindByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanAccessReport(actor.Role, actor.ClientID, rep.ClientID, string(rep.Status)) {
		metrics.RecordAuthorizationDecision("report", "update", false)
		return nil, apperrors.Denied("Report belongs to another client")
	}
	metrics.RecordAuthorizationDecision("report", "update", true)

	from := rep.Status
	if err := rep.Advance(to); err != nil {
		return nil, apperrors.Validation(err.Error(), map[string]string{"status": string(to)})
	}

	changed, err := s.reports.UpdateStatus(ctx, rep.ID, from, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, apperrors.Conflict("report status changed concurrently")
	}

	metrics.RecordReportStatusChange(string(from), string(to))
	events.Emit(ctx, s.bus, s.log, events.NewEvent(events.ReportStatusChanged, "reports", map[string]any{
		"report_id": rep.ID,
		"from":      from,
		"to":        to,
	}).WithActor(actor.UserID, actor.Role.String(), rep.ClientID))

	if to == domain.StatusClosed {
		if err := s.lockRooms(ctx, rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func (s *Service) lockRooms(ctx context.Context, rep *domain.Report) error {
	for _, id := range []types.ID{rep.ReporterRoomID, rep.InternalRoomID} {
		if id.IsZero() {
			continue
		}
		if err := s.rooms.Lock(ctx, id); err != nil && !apperrors.Is(err, apperrors.ErrConflict) {
			return apperrors.Wrap(err, "lock case rooms")
		}
	}
	return nil
}

// ListReports lists the reports actor may see, newest first. Nothing is
// decrypted.
func (s *Service) ListReports(ctx context.Context, actor token.Identity, filter domain.ListFilter) ([]*domain.Report, error) {
	switch actor.Role {
	case rbac.SuperAdmin:
	case rbac.ExternalAdmin:
		filter.ClientID = ""
	case rbac.CompanyAdmin, rbac.InternalAdmin:
		if actor.ClientID.IsZero() {
			return nil, apperrors.Denied("No client association")
		}
		filter.ClientID = actor.ClientID
		if actor.Role == rbac.InternalAdmin {
			filter.Statuses = visibleToInternal(filter.Statuses)
		}
	default:
		metrics.RecordAuthorizationDecision("report", "read", false)
		return nil, apperrors.Denied("Insufficient permissions")
	}
	metrics.RecordAuthorizationDecision("report", "read", true)

	return s.reports.List(ctx, filter)
}

// visibleToInternal narrows requested statuses to the validated set. An
// empty request means the whole set.
func visibleToInternal(requested []domain.Status) []domain.Status {
	allowed := domain.ValidatedStatuses()
	if len(requested) == 0 {
		return allowed
	}
	var out []domain.Status
	for _, st := range requested {
		if rbac.ValidatedStatuses[string(st)] {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		// Nothing requested is visible; keep a filter that matches nothing.
		return []domain.Status{""}
	}
	return out
}
