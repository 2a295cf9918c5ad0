package signal

import (
	"encoding/json"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRegister(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.Register
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	user, err := domain.ParseUserID(p.UserID)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadUser)
		return
	}
	ctl.Orch.Register(id, user)
}

// handleInvite drops invites over the per-connection rate silently, the
// same way an offline target is dropped.
func (ctl *SignalWSController) handleInvite(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.Invite
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	target, err := domain.ParseUserID(p.TargetUserID)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadUser)
		return
	}
	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadRoom)
		return
	}
	if l := ctl.opts.InviteLimiter; l != nil && !l.Allow(id) {
		log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("invite rate limited")
		return
	}
	ctl.Orch.Invite(target, room, p.InviterName)
}
