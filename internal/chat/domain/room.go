package domain

import (
	"fmt"
	"time"

	"github.com/whistleline/platform/internal/crypto"
	"github.com/whistleline/platform/internal/rbac"
	apperrors "github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

// RoomType is shared with the permission engine, which owns the partition.
type RoomType = rbac.RoomType

const (
	RoomTypeReporterExternal = rbac.RoomReporterExternal
	RoomTypeExternalInternal = rbac.RoomExternalInternal
)

// RoomStatus only moves away from ACTIVE.
type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "ACTIVE"
	RoomStatusLocked   RoomStatus = "LOCKED"
	RoomStatusArchived RoomStatus = "ARCHIVED"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusActive, RoomStatusLocked, RoomStatusArchived:
		return true
	}
	return false
}

// ErrRoomNotActive is returned for writes and transitions on a locked or
// archived room.
var ErrRoomNotActive = apperrors.Conflict("chat room is not active")

// Room is one of the two isolated channels of a case. Its key never leaves
// the server.
type Room struct {
	ID             types.ID   `json:"id"`
	ReportID       types.ID   `json:"report_id"`
	ClientID       types.ID   `json:"client_id"`
	Type           RoomType   `json:"type"`
	Status         RoomStatus `json:"status"`
	IsReporterRoom bool       `json:"is_reporter_room"`
	IsInternalRoom bool       `json:"is_internal_room"`
	EncryptionKey  string     `json:"-"`
	EncryptionIV   string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewRoom creates an ACTIVE room with its own key and IV. The reporter and
// internal flags are derived from the type.
func NewRoom(reportID, clientID types.ID, roomType RoomType) (*Room, error) {
	if !roomType.Valid() {
		return nil, fmt.Errorf("invalid room type %q", roomType)
	}
	if reportID.IsZero() {
		return nil, fmt.Errorf("report id is required")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, err
	}

	return &Room{
		ID:             types.NewID(),
		ReportID:       reportID,
		ClientID:       clientID,
		Type:           roomType,
		Status:         RoomStatusActive,
		IsReporterRoom: roomType == RoomTypeReporterExternal,
		IsInternalRoom: roomType == RoomTypeExternalInternal,
		EncryptionKey:  key,
		EncryptionIV:   iv,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (r *Room) IsActive() bool {
	return r.Status == RoomStatusActive
}

// Consistent reports whether the type flags agree with the type.
func (r *Room) Consistent() bool {
	return r.IsReporterRoom == (r.Type == RoomTypeReporterExternal) &&
		r.IsInternalRoom == (r.Type == RoomTypeExternalInternal)
}

// Transition moves an ACTIVE room to LOCKED or ARCHIVED.
func (r *Room) Transition(to RoomStatus) error {
	if to != RoomStatusLocked && to != RoomStatusArchived {
		return fmt.Errorf("cannot transition room to %q", to)
	}
	if !r.IsActive() {
		return ErrRoomNotActive
	}
	r.Status = to
	return nil
}
