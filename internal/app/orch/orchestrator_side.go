package orch

import (
	"encoding/json"
	"slices"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Chat is a single line of room chat as received from a member.
type Chat struct {
	Message    string
	SenderName string
	IsFile     bool
	FileData   json.RawMessage
}

// BroadcastMessage stamps chat with the server clock and sends it to every
// member of room, sender included, then queues it for history. Stamping,
// delivery and queueing happen under the room lock so members and the
// stored history see one order. Only members may post.
func (o *Orchestrator) BroadcastMessage(room domain.RoomID, from domain.ConnectionID, chat Chat) bool {
	senderID := string(from)
	if user, ok := o.Registry.UserOf(from); ok {
		senderID = string(user)
	}

	delivered := false
	o.Rooms.WithMembers(room, func(members []domain.ConnectionID) {
		if !slices.Contains(members, from) {
			return
		}
		ts := o.now()
		frame, ok := encode(protocol.ReceiveMessage{
			Type:       protocol.TypeReceiveMessage,
			Room:       room,
			From:       from,
			SenderID:   senderID,
			SenderName: chat.SenderName,
			Message:    chat.Message,
			IsFile:     chat.IsFile,
			FileData:   chat.FileData,
			Timestamp:  ts,
		})
		if !ok {
			return
		}
		o.deliver(members, from, frame, true)
		delivered = true

		// Enqueue never blocks, so the store is not awaited under the lock.
		if o.Persist != nil {
			entry := domain.HistoryEntry{SenderID: senderID, Message: chat.Message, Timestamp: ts}
			if err := o.Persist.Enqueue(room, entry); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("chat line not queued for history")
			}
		}
	})
	if !delivered {
		log.Debug().Str("module", "orch").Str("room", string(room)).Str("conn", string(from)).Msg("chat from non-member ignored")
		return false
	}
	o.metrics.chatMessage(room)
	return true
}

// BroadcastDrawAction forwards action to every member except the sender.
func (o *Orchestrator) BroadcastDrawAction(room domain.RoomID, from domain.ConnectionID, action json.RawMessage) bool {
	frame, ok := encode(protocol.DrawBroadcast{Type: protocol.TypeDrawAction, Room: room, From: from, Action: action})
	if !ok {
		return false
	}
	return o.fanOut(room, from, frame, false)
}

// BroadcastClear tells every member except the sender to clear the canvas.
func (o *Orchestrator) BroadcastClear(room domain.RoomID, from domain.ConnectionID) bool {
	frame, ok := encode(protocol.ClearBroadcast{Type: protocol.TypeClearCanvas, Room: room, From: from})
	if !ok {
		return false
	}
	return o.fanOut(room, from, frame, false)
}

// fanOut sends frame to the members of room under its lock. A sender that
// is not a member, or an empty room, makes it a no-op.
func (o *Orchestrator) fanOut(room domain.RoomID, from domain.ConnectionID, frame core.Frame, includeSender bool) bool {
	member := false
	o.Rooms.WithMembers(room, func(members []domain.ConnectionID) {
		if !slices.Contains(members, from) {
			return
		}
		member = true
		o.deliver(members, from, frame, includeSender)
	})
	if !member {
		log.Debug().Str("module", "orch").Str("room", string(room)).Str("conn", string(from)).Msg("broadcast from non-member ignored")
	}
	return member
}

// must run under the room lock
func (o *Orchestrator) deliver(members []domain.ConnectionID, from domain.ConnectionID, frame core.Frame, includeSender bool) {
	for _, m := range members {
		if m == from && !includeSender {
			continue
		}
		o.sendFrame(m, frame)
	}
}
