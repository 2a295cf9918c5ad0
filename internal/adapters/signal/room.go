package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/meshroom/internal/app/orch"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(ctx context.Context, id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.Join
	if err := json.Unmarshal(data, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadRoom)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", string(room)).Msg("join")
	ctl.Orch.Join(ctx, id, room, p.User)
}

func (ctl *SignalWSController) handleLeave(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.Leave
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadRoom)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", string(room)).Msg("leave")
	ctl.Orch.Leave(id, room)
}

func (ctl *SignalWSController) handleChat(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.ChatMessage
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadRoom)
		return
	}
	ctl.Orch.BroadcastMessage(room, id, orch.Chat{
		Message:    p.Message,
		SenderName: p.SenderName,
		IsFile:     p.IsFile,
		FileData:   p.FileData,
	})
}

func (ctl *SignalWSController) handleDraw(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.DrawAction
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadRoom)
		return
	}
	ctl.Orch.BroadcastDrawAction(room, id, p.Action)
}

func (ctl *SignalWSController) handleClear(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.ClearCanvas
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, protocol.ErrBadRoom)
		return
	}
	ctl.Orch.BroadcastClear(room, id)
}
