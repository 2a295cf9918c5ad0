package signal

import (
	"encoding/json"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer and ice to the addressed connection.
// The payload is opaque; only the target is required.
func (ctl *SignalWSController) handleRelay(id domain.ConnectionID, conn *WsSignalConn, data []byte) {
	var p protocol.Signal
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("bad relay payload")
		ctl.sendError(conn, protocol.ErrBadPayload)
		return
	}
	to := domain.ConnectionID(p.To)

	switch p.Type {
	case protocol.TypeOffer:
		ctl.Orch.RelayOffer(id, to, p.SDP)
	case protocol.TypeAnswer:
		ctl.Orch.RelayAnswer(id, to, p.SDP)
	case protocol.TypeICE:
		ctl.Orch.RelayICE(id, to, p.Candidate)
	}
}
