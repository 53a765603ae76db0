// Package broker owns the two rooms of a case. It enforces the room partition
// on every read and write and is the only path by which a message crosses
// from one room into the other.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	chat "github.com/whistleline/platform/internal/chat/domain"
	"github.com/whistleline/platform/internal/crypto"
	"github.com/whistleline/platform/internal/rbac"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/events"
	"github.com/whistleline/platform/internal/shared/metrics"
	"github.com/whistleline/platform/internal/shared/types"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Denial reasons. They are meant for audit logs and may be withheld from the
// end user.
const (
	ReasonRoomNotFound       = "Room not found"
	ReasonRoomNotActive      = "Room is not active"
	ReasonReporterRoomType   = "Reporters can only access reporter-external admin rooms"
	ReasonInternalRoomType   = "Internal admins can only access external-internal rooms"
	ReasonCompanyRoomType    = "Company admins can only access external-internal rooms"
	ReasonRoleRoomType       = "Role cannot access chat rooms"
	ReasonReportNotValidated = "Report must be validated before internal team can access"
	ReasonNotOwnReport       = "Reporters can only access rooms of their own report"
	ReasonOtherClient        = "Room belongs to another client"
	ReasonDifferentReports   = "Rooms belong to different reports"
)

// Broker coordinates rooms and messages.
type Broker struct {
	repo chat.Repository
	bus  events.EventBus
	log  zerolog.Logger
	now  func() time.Time
}

// New creates a broker. bus may be nil.
func New(repo chat.Repository, bus events.EventBus, log zerolog.Logger) *Broker {
	return &Broker{
		repo: repo,
		bus:  bus,
		log:  log.With().Str("component", "broker").Logger(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CaseRooms identifies the two rooms created for a report.
type CaseRooms struct {
	ReporterRoomID types.ID `json:"reporter_room_id"`
	InternalRoomID types.ID `json:"internal_room_id"`
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Caller is the authenticated party behind a request. For reporters UserID
// is the report ID.
type Caller struct {
	UserID   types.ID
	Role     rbac.Role
	ClientID types.ID
}

// MessageResult is a decrypted message.
type MessageResult struct {
	ID         types.ID  `json:"id"`
	RoomID     types.ID  `json:"room_id"`
	Content    string    `json:"content"`
	SenderRole rbac.Role `json:"sender_role"`
	SenderID   types.ID  `json:"sender_id,omitempty"`
	IsInternal bool      `json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
}

type SendParams struct {
	RoomID     types.ID
	SenderRole rbac.Role
	SenderID   types.ID
	Content    string
}

type RelayParams struct {
	FromRoomID     types.ID
	ToRoomID       types.ID
	MessageID      types.ID
	RelayingUserID types.ID
	Note           string
}

// CreateCaseRooms creates the reporter room and the internal room of a report
// in one atomic unit, each with its own key.
func (b *Broker) CreateCaseRooms(ctx context.Context, clientID, reportID types.ID) (*CaseRooms, error) {
	reporterRoom, err := chat.NewRoom(reportID, clientID, chat.RoomTypeReporterExternal)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	internalRoom, err := chat.NewRoom(reportID, clientID, chat.RoomTypeExternalInternal)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	if reporterRoom.EncryptionKey == internalRoom.EncryptionKey {
		return nil, apperrors.Crypto(fmt.Errorf("room keys collided"))
	}

	if err := b.repo.CreateCaseRooms(ctx, reporterRoom, internalRoom); err != nil {
		return nil, apperrors.Wrap(err, "create case rooms")
	}

	metrics.RecordRoomsCreated(2)
	events.Emit(ctx, b.bus, b.log, events.NewEvent(events.RoomsCreated, "broker", map[string]any{
		"report_id":        reportID,
		"reporter_room_id": reporterRoom.ID,
		"internal_room_id": internalRoom.ID,
	}).WithActor("", "", clientID))

	return &CaseRooms{
		ReporterRoomID: reporterRoom.ID,
		InternalRoomID: internalRoom.ID,
	}, nil
}

// CanAccessRoom checks whether role may use the room. A missing room is a
// denial, not an error.
func (b *Broker) CanAccessRoom(ctx context.Context, roomID types.ID, role rbac.Role) (Decision, error) {
	_, d, err := b.decide(ctx, roomID, role)
	return d, err
}

func (b *Broker) decide(ctx context.Context, roomID types.ID, role rbac.Role) (*chat.Room, Decision, error) {
	room, err := b.repo.FindRoom(ctx, roomID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, b.deny(ctx, roomID, role, ReasonRoomNotFound), nil
		}
		return nil, Decision{}, err
	}
	if !room.IsActive() {
		return room, b.deny(ctx, roomID, role, ReasonRoomNotActive), nil
	}
	if !rbac.CanAccessChatRoom(role, room.Type) {
		return room, b.deny(ctx, roomID, role, roomTypeReason(role)), nil
	}
	if role == rbac.InternalAdmin && room.Type == chat.RoomTypeExternalInternal {
		// A room whose report is gone cannot be shown to be validated.
		status, err := b.repo.ReportStatus(ctx, room.ReportID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return room, b.deny(ctx, roomID, role, ReasonReportNotValidated), nil
		}
		if err != nil {
			return room, Decision{}, err
		}
		if !rbac.ValidatedStatuses[status] {
			return room, b.deny(ctx, roomID, role, ReasonReportNotValidated), nil
		}
	}

	metrics.RecordAuthorizationDecision("chat_room", "read", true)
	return room, Decision{Allowed: true}, nil
}

func roomTypeReason(role rbac.Role) string {
	switch role {
	case rbac.Reporter:
		return ReasonReporterRoomType
	case rbac.InternalAdmin:
		return ReasonInternalRoomType
	case rbac.CompanyAdmin:
		return ReasonCompanyRoomType
	default:
		return ReasonRoleRoomType
	}
}

func (b *Broker) deny(ctx context.Context, roomID types.ID, role rbac.Role, reason string) Decision {
	metrics.RecordAuthorizationDecision("chat_room", "read", false)
	b.log.Warn().
		Str("room_id", roomID.String()).
		Str("role", role.String()).
		Str("reason", reason).
		Msg("room access denied")
	events.Emit(ctx, b.bus, b.log, events.NewEvent(events.RoomAccessDenied, "broker", map[string]any{
		"room_id": roomID,
		"reason":  reason,
	}).WithActor("", role.String(), ""))
	return Decision{Allowed: false, Reason: reason}
}

// Authorize applies CanAccessRoom and then scopes the room to the caller:
// reporters to their own report, client roles to their own client.
func (b *Broker) Authorize(ctx context.Context, roomID types.ID, caller Caller) (*chat.Room, error) {
	room, d, err := b.decide(ctx, roomID, caller.Role)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		if room == nil {
			return nil, apperrors.NotFound("chat room", roomID.String())
		}
		return nil, apperrors.Denied(d.Reason)
	}

	switch caller.Role {
	case rbac.Reporter:
		if caller.UserID != room.ReportID {
			return nil, apperrors.Denied(b.deny(ctx, roomID, caller.Role, ReasonNotOwnReport).Reason)
		}
	case rbac.CompanyAdmin, rbac.InternalAdmin:
		if caller.ClientID.IsZero() || caller.ClientID != room.ClientID {
			return nil, apperrors.Denied(b.deny(ctx, roomID, caller.Role, ReasonOtherClient).Reason)
		}
	}
	return room, nil
}

// Send encrypts content under the room key with a fresh IV and appends it.
func (b *Broker) Send(ctx context.Context, p SendParams) (*MessageResult, error) {
	room, err := b.repo.FindRoom(ctx, p.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive() {
		return nil, chat.ErrRoomNotActive
	}
	if !chat.ValidSender(p.SenderRole) {
		return nil, apperrors.Validation("invalid sender role", map[string]string{"sender_role": p.SenderRole.String()})
	}
	if !rbac.CanAccessChatRoom(p.SenderRole, room.Type) {
		return nil, apperrors.Denied(roomTypeReason(p.SenderRole))
	}
	if err := validateContent(p.Content); err != nil {
		return nil, err
	}

	return b.append(ctx, room, p)
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.Validation("message content is required", map[string]string{"content": "required"})
	}
	if utf8.RuneCountInString(content) > chat.MaxMessageLength {
		return apperrors.Validation("message content is too long",
			map[string]string{"content": fmt.Sprintf("at most %d characters", chat.MaxMessageLength)})
	}
	return nil
}

func (b *Broker) append(ctx context.Context, room *chat.Room, p SendParams) (*MessageResult, error) {
	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	ciphertext, err := crypto.Encrypt(p.Content, room.EncryptionKey, iv)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}

	msg := &chat.Message{
		ID:               types.NewID(),
		RoomID:           room.ID,
		ReportID:         room.ReportID,
		EncryptedContent: ciphertext,
		EncryptionIV:     iv,
		SenderRole:       p.SenderRole,
		SenderID:         p.SenderID,
		IsInternal:       room.Type == chat.RoomTypeExternalInternal,
		IsDelivered:      true,
		CreatedAt:        b.now(),
	}
	if err := b.repo.SaveMessage(ctx, msg); err != nil {
		return nil, apperrors.Wrap(err, "save message")
	}

	metrics.RecordMessageSent(string(room.Type), p.SenderRole.String())
	events.Emit(ctx, b.bus, b.log, events.NewEvent(events.MessageSent, "broker", map[string]any{
		"room_id":    room.ID,
		"room_type":  room.Type,
		"message_id": msg.ID,
	}).WithActor(p.SenderID, p.SenderRole.String(), room.ClientID))

	return &MessageResult{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		Content:    p.Content,
		SenderRole: msg.SenderRole,
		SenderID:   msg.SenderID,
		IsInternal: msg.IsInternal,
		CreatedAt:  msg.CreatedAt,
	}, nil
}

// ListMessages decrypts up to limit messages, oldest first. A single message
// that fails to decrypt fails the whole call.
func (b *Broker) ListMessages(ctx context.Context, roomID types.ID, limit int) ([]MessageResult, error) {
	room, err := b.repo.FindRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	msgs, err := b.repo.ListMessages(ctx, roomID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "list messages")
	}

	out := make([]MessageResult, 0, len(msgs))
	for _, m := range msgs {
		content, err := crypto.Decrypt(m.EncryptedContent, room.EncryptionKey, m.IVFor(room))
		if err != nil {
			b.log.Error().Err(err).Str("room_id", roomID.String()).Str("message_id", m.ID.String()).Msg("message decryption failed")
			return nil, apperrors.Crypto(err)
		}
		out = append(out, MessageResult{
			ID:         m.ID,
			RoomID:     m.RoomID,
			Content:    content,
			SenderRole: m.SenderRole,
			SenderID:   m.SenderID,
			IsInternal: m.IsInternal,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out, nil
}

// Relay copies a message into the other room of the same case under the
// destination key, attributed to the bridge role.
func (b *Broker) Relay(ctx context.Context, p RelayParams) (*MessageResult, error) {
	if p.FromRoomID == p.ToRoomID {
		return nil, apperrors.Validation("source and destination rooms must differ", nil)
	}

	from, err := b.bridgeRoom(ctx, p.FromRoomID)
	if err != nil {
		return nil, err
	}
	to, err := b.bridgeRoom(ctx, p.ToRoomID)
	if err != nil {
		return nil, err
	}
	if from.ReportID != to.ReportID {
		return nil, apperrors.Denied(ReasonDifferentReports)
	}

	msg, err := b.repo.FindMessage(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.RoomID != from.ID {
		return nil, apperrors.NotFound("message", p.MessageID.String())
	}

	original, err := crypto.Decrypt(msg.EncryptedContent, from.EncryptionKey, msg.IVFor(from))
	if err != nil {
		return nil, apperrors.Crypto(err)
	}

	content := composeRelay(from.Type, original, p.Note)
	if err := validateContent(content); err != nil {
		return nil, err
	}

	result, err := b.append(ctx, to, SendParams{
		RoomID:     to.ID,
		SenderRole: rbac.ExternalAdmin,
		SenderID:   p.RelayingUserID,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordMessageRelayed(string(from.Type), string(to.Type))
	events.Emit(ctx, b.bus, b.log, events.NewEvent(events.MessageRelayed, "broker", map[string]any{
		"from_room_id":      from.ID,
		"to_room_id":        to.ID,
		"source_message_id": msg.ID,
		"message_id":        result.ID,
	}).WithActor(p.RelayingUserID, rbac.ExternalAdmin.String(), to.ClientID))

	return result, nil
}

func (b *Broker) bridgeRoom(ctx context.Context, roomID types.ID) (*chat.Room, error) {
	room, d, err := b.decide(ctx, roomID, rbac.ExternalAdmin)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		if room == nil {
			return nil, apperrors.NotFound("chat room", roomID.String())
		}
		return nil, apperrors.Denied(d.Reason)
	}
	return room, nil
}

func composeRelay(from chat.RoomType, content, note string) string {
	var sb strings.Builder
	sb.WriteString("[Relayed from ")
	sb.WriteString(string(from))
	sb.WriteString("]\n")
	sb.WriteString(content)
	if note = strings.TrimSpace(note); note != "" {
		sb.WriteString("\n\n— Note: ")
		sb.WriteString(note)
	}
	return sb.String()
}

// Lock stops all further writes to an ACTIVE room.
func (b *Broker) Lock(ctx context.Context, roomID types.ID) error {
	return b.transition(ctx, roomID, chat.RoomStatusLocked)
}

// Archive retires an ACTIVE room.
func (b *Broker) Archive(ctx context.Context, roomID types.ID) error {
	return b.transition(ctx, roomID, chat.RoomStatusArchived)
}

func (b *Broker) transition(ctx context.Context, roomID types.ID, to chat.RoomStatus) error {
	room, err := b.repo.FindRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := room.Transition(to); err != nil {
		return err
	}

	changed, err := b.repo.UpdateRoomStatus(ctx, roomID, chat.RoomStatusActive, to)
	if err != nil {
		return apperrors.Wrap(err, "update room status")
	}
	if !changed {
		return chat.ErrRoomNotActive
	}

	events.Emit(ctx, b.bus, b.log, events.NewEvent(events.RoomStatusChanged, "broker", map[string]any{
		"room_id": roomID,
		"from":    chat.RoomStatusActive,
		"to":      to,
	}).WithActor("", "", room.ClientID))
	return nil
}
