package orch

import (
	"context"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Register binds user to conn. The latest registration for a user wins.
func (o *Orchestrator) Register(conn domain.ConnectionID, user domain.UserID) bool {
	return o.Registry.Register(conn, user)
}

// Join adds conn to room. The caller receives peer-list with the members
// present before it, then history; every prior member receives peer-joined.
// It returns the prior members.
func (o *Orchestrator) Join(ctx context.Context, conn domain.ConnectionID, room domain.RoomID, ident domain.Identity) ([]domain.ConnectionID, bool) {
	if _, ok := o.Registry.Get(conn); !ok {
		return nil, false
	}
	ident = ident.Normalize()
	if ident.ID == "" {
		if user, ok := o.Registry.UserOf(conn); ok {
			ident.ID = user
		}
	}
	o.Registry.SetIdentity(conn, ident)

	history := o.loadHistory(ctx, room, ident.ID)

	joined, ok := encode(protocol.PeerJoined{
		Type: protocol.TypePeerJoined,
		Room: room,
		Peer: protocol.Peer{ID: conn, User: ident},
	})
	if !ok {
		return nil, false
	}

	prior := o.Rooms.Join(room, conn, func(prior []domain.ConnectionID) {
		peers := make([]protocol.Peer, 0, len(prior))
		for _, m := range prior {
			peers = append(peers, protocol.Peer{ID: m, User: o.Registry.IdentityOf(m)})
		}
		o.send(conn, protocol.PeerList{Type: protocol.TypePeerList, Room: room, Peers: peers})
		o.send(conn, protocol.History{Type: protocol.TypeHistory, Room: room, History: history})
		for _, m := range prior {
			o.sendFrame(m, joined)
		}
	})
	return prior, true
}

// loadHistory reads the durable room and records the participant. The store
// is never called under a room lock. Failures degrade to an empty history.
func (o *Orchestrator) loadHistory(ctx context.Context, room domain.RoomID, user domain.UserID) []domain.HistoryEntry {
	history := []domain.HistoryEntry{}
	if o.Store == nil {
		return history
	}
	if o.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.StoreTimeout)
		defer cancel()
	}

	durable, err := o.Store.FindOrCreateRoom(ctx, room)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Msg("load room history")
	} else if durable != nil && durable.History != nil {
		history = durable.History
	}

	if user != "" {
		if err := o.Store.AddParticipant(ctx, room, user); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("room", string(room)).
				Str("user", string(user)).Msg("add participant")
		}
	}
	return history
}

// Leave removes conn from room and tells the remaining members. The caller
// is answered with left even when it was not a member.
func (o *Orchestrator) Leave(conn domain.ConnectionID, room domain.RoomID) bool {
	ok := o.leaveRoom(conn, room)
	o.send(conn, protocol.Left{Type: protocol.TypeLeft, Room: room})
	return ok
}

func (o *Orchestrator) leaveRoom(conn domain.ConnectionID, room domain.RoomID) bool {
	left, ok := encode(protocol.PeerLeft{Type: protocol.TypePeerLeft, Room: room, PeerID: conn})
	if !ok {
		return false
	}
	_, ok = o.Rooms.Leave(conn, room, func(remaining []domain.ConnectionID) {
		for _, m := range remaining {
			o.sendFrame(m, left)
		}
	})
	return ok
}

// OnDisconnect unwinds conn from the registry and every room it was in.
// Calling it again for the same conn does nothing.
func (o *Orchestrator) OnDisconnect(conn domain.ConnectionID) {
	live := o.Registry.Unregister(conn)
	rooms := o.Rooms.RoomsContaining(conn)
	for _, room := range rooms {
		o.leaveRoom(conn, room)
	}
	if live {
		log.Info().Str("module", "orch").Str("conn", string(conn)).Int("rooms", len(rooms)).Msg("disconnect reconciled")
	}
}

// EvictRoom disconnects every member of room.
func (o *Orchestrator) EvictRoom(room domain.RoomID) int {
	members := o.Rooms.Members(room)
	for _, m := range members {
		o.Registry.Cancel(m)
	}
	return len(members)
}
