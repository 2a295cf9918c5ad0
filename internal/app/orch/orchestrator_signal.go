package orch

import (
	"encoding/json"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
)

// Relays are pure forwards keyed by connection id. Payloads are not
// inspected and an absent target drops the message without telling the
// sender.

func (o *Orchestrator) RelayOffer(from, to domain.ConnectionID, sdp json.RawMessage) bool {
	return o.relay("offer", to, protocol.IncomingSignal{Type: protocol.TypeIncomingOffer, From: from, SDP: sdp})
}

func (o *Orchestrator) RelayAnswer(from, to domain.ConnectionID, sdp json.RawMessage) bool {
	return o.relay("answer", to, protocol.IncomingSignal{Type: protocol.TypeIncomingAnswer, From: from, SDP: sdp})
}

func (o *Orchestrator) RelayICE(from, to domain.ConnectionID, candidate json.RawMessage) bool {
	return o.relay("ice", to, protocol.IncomingSignal{Type: protocol.TypeIncomingICE, From: from, Candidate: candidate})
}

func (o *Orchestrator) relay(kind string, to domain.ConnectionID, msg protocol.IncomingSignal) bool {
	ok := o.send(to, msg)
	o.metrics.signal(kind, ok)
	return ok
}
