package core

import (
	"context"

	"github.com/dkeye/meshroom/internal/domain"
)

// RoomStore is the durable side of a room: participants and chat history.
// Live presence never goes through it.
type RoomStore interface {
	// FindOrCreateRoom returns the durable record, creating an empty one on
	// first use.
	FindOrCreateRoom(ctx context.Context, room domain.RoomID) (*domain.DurableRoom, error)
	// AddParticipant is idempotent.
	AddParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) error
	AppendHistoryEntry(ctx context.Context, room domain.RoomID, entry domain.HistoryEntry) error
	Close(ctx context.Context) error
}
