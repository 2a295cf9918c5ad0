package app

import (
	"slices"
	"sync"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// liveRoom is the presence set of one room, in join order.
// closed is set once the room emptied and left the table; a join that
// raced with that must retry on a fresh room.
type liveRoom struct {
	mu      sync.Mutex
	members []domain.ConnectionID
	closed  bool
}

// RoomTable maps room ids to the connections currently inside.
// Lock order is room.mu then table.mu; table.mu is never held while
// acquiring a room lock.
type RoomTable struct {
	mu     sync.Mutex
	rooms  map[domain.RoomID]*liveRoom
	byConn map[domain.ConnectionID]map[domain.RoomID]struct{}
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms:  make(map[domain.RoomID]*liveRoom),
		byConn: make(map[domain.ConnectionID]map[domain.RoomID]struct{}),
	}
}

func (t *RoomTable) getOrCreate(id domain.RoomID) *liveRoom {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[id]
	if !ok {
		r = &liveRoom{}
		t.rooms[id] = r
		log.Debug().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	}
	return r
}

func (t *RoomTable) get(id domain.RoomID) (*liveRoom, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[id]
	return r, ok
}

// Join adds conn to room and returns the members present before it.
// fn, if not nil, runs under the room lock with that same snapshot, after
// conn has been added. Joining a room twice leaves membership unchanged.
func (t *RoomTable) Join(id domain.RoomID, conn domain.ConnectionID, fn func(prior []domain.ConnectionID)) []domain.ConnectionID {
	for {
		r := t.getOrCreate(id)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		prior := make([]domain.ConnectionID, 0, len(r.members))
		for _, m := range r.members {
			if m != conn {
				prior = append(prior, m)
			}
		}
		if !slices.Contains(r.members, conn) {
			r.members = append(r.members, conn)
		}

		t.mu.Lock()
		rooms := t.byConn[conn]
		if rooms == nil {
			rooms = make(map[domain.RoomID]struct{})
			t.byConn[conn] = rooms
		}
		rooms[id] = struct{}{}
		t.mu.Unlock()

		if fn != nil {
			fn(prior)
		}
		r.mu.Unlock()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("conn", string(conn)).
			Int("prior", len(prior)).Msg("member joined")
		return prior
	}
}

// Leave removes conn from room. fn, if not nil, runs under the room lock
// with the remaining members when there are any. The room entry is dropped
// once empty. ok is false if conn was not a member.
func (t *RoomTable) Leave(conn domain.ConnectionID, id domain.RoomID, fn func(remaining []domain.ConnectionID)) (emptied, ok bool) {
	r, found := t.get(id)
	if !found {
		t.unindex(conn, id)
		return false, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.Index(r.members, conn)
	if idx < 0 {
		t.unindex(conn, id)
		return false, false
	}
	r.members = slices.Delete(r.members, idx, idx+1)
	t.unindex(conn, id)

	if len(r.members) == 0 {
		r.closed = true
		t.mu.Lock()
		if t.rooms[id] == r {
			delete(t.rooms, id)
		}
		t.mu.Unlock()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("conn", string(conn)).Msg("last member left, room dropped")
		return true, true
	}

	if fn != nil {
		fn(slices.Clone(r.members))
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("conn", string(conn)).
		Int("remaining", len(r.members)).Msg("member left")
	return false, true
}

func (t *RoomTable) unindex(conn domain.ConnectionID, id domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rooms, ok := t.byConn[conn]; ok {
		delete(rooms, id)
		if len(rooms) == 0 {
			delete(t.byConn, conn)
		}
	}
}

// RoomsContaining lists every room conn currently belongs to.
func (t *RoomTable) RoomsContaining(conn domain.ConnectionID) []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.RoomID, 0, len(t.byConn[conn]))
	for id := range t.byConn[conn] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// WithMembers runs fn under the room lock with the current members.
// It reports false, without calling fn, when the room has no live entry.
func (t *RoomTable) WithMembers(id domain.RoomID, fn func(members []domain.ConnectionID)) bool {
	r, ok := t.get(id)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.members) == 0 {
		return false
	}
	fn(r.members)
	return true
}

// Members returns a copy of the room's members in join order.
func (t *RoomTable) Members(id domain.RoomID) []domain.ConnectionID {
	var out []domain.ConnectionID
	t.WithMembers(id, func(members []domain.ConnectionID) {
		out = slices.Clone(members)
	})
	return out
}

func (t *RoomTable) List() []core.RoomInfo {
	t.mu.Lock()
	ids := make([]domain.RoomID, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	slices.Sort(ids)

	out := make([]core.RoomInfo, 0, len(ids))
	for _, id := range ids {
		if n := len(t.Members(id)); n > 0 {
			out = append(out, core.RoomInfo{ID: id, MemberCount: n})
		}
	}
	return out
}
