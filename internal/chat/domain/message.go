package domain

import (
	"time"

	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/types"
)

// MaxMessageLength bounds message content in runes.
const MaxMessageLength = 10000

// Message is an immutable, encrypted entry in a room. EncryptionIV is empty
// only for messages written under the room IV.
type Message struct {
	ID               types.ID  `json:"id"`
	RoomID           types.ID  `json:"room_id"`
	ReportID         types.ID  `json:"report_id"`
	EncryptedContent string    `json:"-"`
	EncryptionIV     string    `json:"-"`
	SenderRole       rbac.Role `json:"sender_role"`
	SenderID         types.ID  `json:"sender_id,omitempty"`
	IsInternal       bool      `json:"is_internal"`
	IsDelivered      bool      `json:"is_delivered"`
	CreatedAt        time.Time `json:"created_at"`
}

// ValidSender reports whether role may author messages.
func ValidSender(role rbac.Role) bool {
	switch role {
	case rbac.Reporter, rbac.ExternalAdmin, rbac.InternalAdmin:
		return true
	}
	return false
}

// IVFor returns the IV a message was encrypted with.
func (m *Message) IVFor(room *Room) string {
	if m.EncryptionIV != "" {
		return m.EncryptionIV
	}
	return room.EncryptionIV
}
