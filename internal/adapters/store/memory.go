package store

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/meshroom/internal/domain"
)

// Memory keeps durable rooms for the lifetime of the process.
type Memory struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*domain.DurableRoom
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[domain.RoomID]*domain.DurableRoom)}
}

func (m *Memory) room(id domain.RoomID) *domain.DurableRoom {
	r, ok := m.rooms[id]
	if !ok {
		r = &domain.DurableRoom{
			RoomID:       id,
			Participants: []domain.UserID{},
			History:      []domain.HistoryEntry{},
		}
		m.rooms[id] = r
	}
	return r
}

func (m *Memory) FindOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.DurableRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(id)
	return &domain.DurableRoom{
		RoomID:       r.RoomID,
		Participants: slices.Clone(r.Participants),
		History:      slices.Clone(r.History),
	}, nil
}

func (m *Memory) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(id)
	if !slices.Contains(r.Participants, user) {
		r.Participants = append(r.Participants, user)
	}
	return nil
}

func (m *Memory) AppendHistoryEntry(ctx context.Context, id domain.RoomID, entry domain.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(id)
	r.History = append(r.History, entry)
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }
