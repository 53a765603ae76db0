package domain

import (
	"context"

	"github.com/whistleline/platform/internal/shared/types"
)

// Repository defines persistence for rooms and messages
type Repository interface {
	// CreateCaseRooms stores both rooms and links them onto the report in one
	// atomic unit. Nothing is persisted if any step fails.
	CreateCaseRooms(ctx context.Context, reporterRoom, internalRoom *Room) error
	FindRoom(ctx context.Context, id types.ID) (*Room, error)
	// UpdateRoomStatus applies from -> to only if the room is still in from.
	// It reports whether a row changed.
	UpdateRoomStatus(ctx context.Context, id types.ID, from, to RoomStatus) (bool, error)

	// ReportStatus returns the status of the report a room belongs to.
	ReportStatus(ctx context.Context, reportID types.ID) (string, error)

	SaveMessage(ctx context.Context, m *Message) error
	FindMessage(ctx context.Context, id types.ID) (*Message, error)
	// ListMessages returns up to limit messages, oldest first.
	ListMessages(ctx context.Context, roomID types.ID, limit int) ([]*Message, error)
}
