package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meshroom/internal/adapters/store"
	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/stretchr/testify/require"
)

var testClock = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

// events decodes every frame of the given type.
func (f *fakeConn) events(t *testing.T, typ string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, fr := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// decodeLast decodes the last frame of type typ into v.
func (f *fakeConn) decodeLast(t *testing.T, typ string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f.frames[i], &env))
		if env.Type == typ {
			require.NoError(t, json.Unmarshal(f.frames[i], v))
			return
		}
	}
	t.Fatalf("no %q event", typ)
}

var errStoreDown = errors.New("store down")

// failingStore wraps a store and fails the selected operations.
type failingStore struct {
	core.RoomStore
	failFind   bool
	failAppend bool
}

func (s *failingStore) FindOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.DurableRoom, error) {
	if s.failFind {
		return nil, errStoreDown
	}
	return s.RoomStore.FindOrCreateRoom(ctx, id)
}

func (s *failingStore) AppendHistoryEntry(ctx context.Context, id domain.RoomID, e domain.HistoryEntry) error {
	if s.failAppend {
		return errStoreDown
	}
	return s.RoomStore.AppendHistoryEntry(ctx, id, e)
}

type harness struct {
	o       *Orchestrator
	store   core.RoomStore
	persist *app.Persister
	conns   map[domain.ConnectionID]*fakeConn
}

func newHarness(t *testing.T, st core.RoomStore) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	p := app.NewPersister(st, 1024, time.Second)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	o := New(app.NewRegistry(), app.NewRoomTable(), st, p, nil)
	o.Now = func() time.Time { return testClock }
	return &harness{o: o, store: st, persist: p, conns: make(map[domain.ConnectionID]*fakeConn)}
}

func (h *harness) connect(id domain.ConnectionID) *fakeConn {
	c := &fakeConn{}
	h.o.Registry.Bind(id, c, nil)
	h.conns[id] = c
	return c
}

func (h *harness) join(t *testing.T, id domain.ConnectionID, room domain.RoomID) []domain.ConnectionID {
	t.Helper()
	prior, ok := h.o.Join(context.Background(), id, room, domain.Identity{Name: string(id)})
	require.True(t, ok)
	return prior
}

// flush waits for the history queue to drain.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.persist.Pending() == 0 }, 2*time.Second, 2*time.Millisecond)
}
