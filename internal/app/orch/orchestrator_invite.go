package orch

import (
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Invite delivers invite-received to the live connection of target.
// An unknown or offline target is not an error; nothing is queued.
func (o *Orchestrator) Invite(target domain.UserID, room domain.RoomID, inviterName string) bool {
	conn, ok := o.Registry.Resolve(target)
	if !ok {
		log.Debug().Str("module", "orch").Str("user", string(target)).Msg("invite target offline, dropped")
		return false
	}
	if !o.send(conn, protocol.InviteReceived{Type: protocol.TypeInviteReceived, Room: room, InviterName: inviterName}) {
		return false
	}
	o.metrics.invite()
	return true
}
