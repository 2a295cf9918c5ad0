package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnectionClosed
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

var errStoreDown = errors.New("store down")

// recordingStore keeps appended entries and can fail or block appends.
type recordingStore struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	fail    bool
	started chan struct{}
	gate    chan struct{}
}

func (s *recordingStore) FindOrCreateRoom(_ context.Context, id domain.RoomID) (*domain.DurableRoom, error) {
	return &domain.DurableRoom{RoomID: id}, nil
}

func (s *recordingStore) AddParticipant(context.Context, domain.RoomID, domain.UserID) error {
	return nil
}

func (s *recordingStore) AppendHistoryEntry(ctx context.Context, _ domain.RoomID, e domain.HistoryEntry) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail {
		return errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingStore) Close(context.Context) error { return nil }

func (s *recordingStore) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Message)
	}
	return out
}
