package app

import (
	"context"
	"sync"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
	UserID   domain.UserID
	Identity domain.Identity
}

// Registry tracks every live connection and the user bound to it.
// users holds at most one connection per user; the latest register wins.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*connEntry
	users map[domain.UserID]domain.ConnectionID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnectionID]*connEntry),
		users: make(map[domain.UserID]domain.ConnectionID),
	}
}

// Bind records a freshly established transport session.
func (r *Registry) Bind(id domain.ConnectionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

// Register binds user to id, overwriting any previous binding for user.
// It reports false when id is not a live connection.
func (r *Registry) Register(id domain.ConnectionID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	if prev, had := r.users[user]; had && prev != id {
		log.Info().Str("module", "app.registry").Str("user", string(user)).
			Str("prev_conn", string(prev)).Str("conn", string(id)).Msg("user rebound")
	}
	r.users[user] = id
	e.UserID = user
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user)).Msg("registered user")
	return true
}

func (r *Registry) Resolve(user domain.UserID) (domain.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[user]
	return id, ok
}

// Unregister drops the connection and every user binding pointing at it.
// The second call for the same id is a no-op and reports false.
func (r *Registry) Unregister(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	for user, cid := range r.users {
		if cid == id {
			delete(r.users, user)
		}
	}
	if ok {
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	}
	return ok
}

func (r *Registry) Get(id domain.ConnectionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// UserOf returns the user most recently registered on id.
func (r *Registry) UserOf(id domain.ConnectionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.UserID == "" {
		return "", false
	}
	return e.UserID, true
}

// SetIdentity stores the display identity a connection joined with.
func (r *Registry) SetIdentity(id domain.ConnectionID, ident domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.Identity = ident
	}
}

func (r *Registry) IdentityOf(id domain.ConnectionID) domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Identity
	}
	return domain.Identity{}
}

// Cancel asks the transport owning id to shut down. Cleanup itself happens
// when the transport reports the loss.
func (r *Registry) Cancel(id domain.ConnectionID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
