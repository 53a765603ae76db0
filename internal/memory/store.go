// Package memory provides in-process implementations of the repositories.
// All of them share one mutex, so multi-row operations are atomic.
package memory

import (
	"sync"

	chat "github.com/whistleline/platform/internal/chat/domain"
	report "github.com/whistleline/platform/internal/report/domain"
	"github.com/whistleline/platform/internal/shared/types"
	"github.com/whistleline/platform/internal/staff"
)

// Store holds every table in memory.
type Store struct {
	mu sync.Mutex

	reports  map[types.ID]report.Report
	tickets  map[string]types.ID
	attempts []report.PINAttempt

	rooms    map[types.ID]chat.Room
	messages map[types.ID]chat.Message
	byRoom   map[types.ID][]types.ID

	users   map[types.ID]staff.User
	emails  map[string]types.ID
	clients map[types.ID]staff.Client
}

func NewStore() *Store {
	return &Store{
		reports:  make(map[types.ID]report.Report),
		tickets:  make(map[string]types.ID),
		rooms:    make(map[types.ID]chat.Room),
		messages: make(map[types.ID]chat.Message),
		byRoom:   make(map[types.ID][]types.ID),
		users:    make(map[types.ID]staff.User),
		emails:   make(map[string]types.ID),
		clients:  make(map[types.ID]staff.Client),
	}
}

// Reports returns the report repository view.
func (s *Store) Reports() *ReportRepository {
	return &ReportRepository{s: s}
}

// Chat returns the room and message repository view.
func (s *Store) Chat() *ChatRepository {
	return &ChatRepository{s: s}
}

// Staff returns the user and client repository view.
func (s *Store) Staff() *StaffRepository {
	return &StaffRepository{s: s}
}

// PINAttempts returns a copy of the attempt log.
func (s *Store) PINAttempts() []report.PINAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]report.PINAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

var (
	_ report.Repository = (*ReportRepository)(nil)
	_ chat.Repository   = (*ChatRepository)(nil)
	_ staff.Repository  = (*StaffRepository)(nil)
)
