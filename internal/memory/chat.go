package memory

import (
	"context"
	"sort"

	chat "github.com/whistleline/platform/internal/chat/domain"
	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

type ChatRepository struct {
	s *Store
}

// CreateCaseRooms validates everything before the first write, so a failure
// leaves no trace.
func (c *ChatRepository) CreateCaseRooms(_ context.Context, reporterRoom, internalRoom *chat.Room) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if reporterRoom.ReportID != internalRoom.ReportID {
		return errors.BadRequest("rooms must belong to the same report")
	}
	rep, ok := c.s.reports[reporterRoom.ReportID]
	if !ok {
		return errors.NotFound("report", reporterRoom.ReportID.String())
	}
	if !rep.ReporterRoomID.IsZero() || !rep.InternalRoomID.IsZero() {
		return errors.Conflict("report already has chat rooms")
	}
	for _, room := range []*chat.Room{reporterRoom, internalRoom} {
		if _, exists := c.s.rooms[room.ID]; exists {
			return errors.Conflict("chat room already exists")
		}
	}

	c.s.rooms[reporterRoom.ID] = *reporterRoom
	c.s.rooms[internalRoom.ID] = *internalRoom
	rep.ReporterRoomID = reporterRoom.ID
	rep.InternalRoomID = internalRoom.ID
	c.s.reports[rep.ID] = rep
	return nil
}

func (c *ChatRepository) FindRoom(_ context.Context, id types.ID) (*chat.Room, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	room, ok := c.s.rooms[id]
	if !ok {
		return nil, errors.NotFound("chat room", id.String())
	}
	return &room, nil
}

func (c *ChatRepository) UpdateRoomStatus(_ context.Context, id types.ID, from, to chat.RoomStatus) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	room, ok := c.s.rooms[id]
	if !ok {
		return false, errors.NotFound("chat room", id.String())
	}
	if room.Status != from {
		return false, nil
	}
	room.Status = to
	c.s.rooms[id] = room
	return true, nil
}

func (c *ChatRepository) ReportStatus(_ context.Context, reportID types.ID) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	rep, ok := c.s.reports[reportID]
	if !ok {
		return "", errors.NotFound("report", reportID.String())
	}
	return string(rep.Status), nil
}

func (c *ChatRepository) SaveMessage(_ context.Context, m *chat.Message) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.rooms[m.RoomID]; !ok {
		return errors.NotFound("chat room", m.RoomID.String())
	}
	if _, exists := c.s.messages[m.ID]; exists {
		return errors.Conflict("message already exists")
	}
	c.s.messages[m.ID] = *m
	c.s.byRoom[m.RoomID] = append(c.s.byRoom[m.RoomID], m.ID)
	return nil
}

func (c *ChatRepository) FindMessage(_ context.Context, id types.ID) (*chat.Message, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	m, ok := c.s.messages[id]
	if !ok {
		return nil, errors.NotFound("message", id.String())
	}
	return &m, nil
}

func (c *ChatRepository) ListMessages(_ context.Context, roomID types.ID, limit int) ([]*chat.Message, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	ids := c.s.byRoom[roomID]
	out := make([]*chat.Message, 0, len(ids))
	for _, id := range ids {
		m := c.s.messages[id]
		out = append(out, &m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
