package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Negotiator produces and consumes the opaque session descriptions a
// client exchanges through the server.
type Negotiator interface {
	Offer(ctx context.Context, peer domain.ConnectionID) (json.RawMessage, error)
	Answer(ctx context.Context, peer domain.ConnectionID, offer json.RawMessage) (json.RawMessage, error)
	Accept(peer domain.ConnectionID, answer json.RawMessage) error
	AddCandidate(peer domain.ConnectionID, candidate json.RawMessage) error
	Drop(peer domain.ConnectionID)
}

// StaticNegotiator exchanges placeholder descriptions. It exercises the
// signaling path without opening any peer connection.
type StaticNegotiator struct {
	Self func() domain.ConnectionID
}

type staticSDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (n StaticNegotiator) self() domain.ConnectionID {
	if n.Self == nil {
		return ""
	}
	return n.Self()
}

func (n StaticNegotiator) Offer(_ context.Context, peer domain.ConnectionID) (json.RawMessage, error) {
	return json.Marshal(staticSDP{Type: "offer", SDP: fmt.Sprintf("static:%s->%s", n.self(), peer)})
}

func (n StaticNegotiator) Answer(_ context.Context, peer domain.ConnectionID, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(staticSDP{Type: "answer", SDP: fmt.Sprintf("static:%s->%s", n.self(), peer)})
}

func (StaticNegotiator) Accept(domain.ConnectionID, json.RawMessage) error       { return nil }
func (StaticNegotiator) AddCandidate(domain.ConnectionID, json.RawMessage) error { return nil }
func (StaticNegotiator) Drop(domain.ConnectionID)                                {}

// PionNegotiator opens a real data channel per peer. Candidates are
// gathered before a description is sent, so no ice events are needed.
type PionNegotiator struct {
	cfg    webrtc.Configuration
	onOpen func(peer domain.ConnectionID)

	mu    sync.Mutex
	links map[domain.ConnectionID]*rtc.PeerLink
}

func NewPionNegotiator(cfg webrtc.Configuration, onOpen func(peer domain.ConnectionID)) *PionNegotiator {
	return &PionNegotiator{
		cfg:    cfg,
		onOpen: onOpen,
		links:  make(map[domain.ConnectionID]*rtc.PeerLink),
	}
}

// SetConfiguration replaces the configuration used for links created
// from now on.
func (n *PionNegotiator) SetConfiguration(cfg webrtc.Configuration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
}

func (n *PionNegotiator) newLink(peer domain.ConnectionID) (*rtc.PeerLink, error) {
	n.mu.Lock()
	cfg := n.cfg
	n.mu.Unlock()
	link, err := rtc.NewPeerLink(cfg, peer)
	if err != nil {
		return nil, err
	}
	if n.onOpen != nil {
		link.OnOpen(func() { n.onOpen(peer) })
	}
	n.mu.Lock()
	if old, ok := n.links[peer]; ok {
		old.Close()
	}
	n.links[peer] = link
	n.mu.Unlock()
	return link, nil
}

func (n *PionNegotiator) link(peer domain.ConnectionID) (*rtc.PeerLink, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[peer]
	return l, ok
}

func (n *PionNegotiator) Offer(ctx context.Context, peer domain.ConnectionID) (json.RawMessage, error) {
	link, err := n.newLink(peer)
	if err != nil {
		return nil, err
	}
	offer, err := link.CreateOffer(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (n *PionNegotiator) Answer(ctx context.Context, peer domain.ConnectionID, raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	link, err := n.newLink(peer)
	if err != nil {
		return nil, err
	}
	answer, err := link.ApplyOfferAndCreateAnswer(ctx, offer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (n *PionNegotiator) Accept(peer domain.ConnectionID, raw json.RawMessage) error {
	link, ok := n.link(peer)
	if !ok {
		return fmt.Errorf("no link to %s", peer)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return link.ApplyAnswer(answer)
}

func (n *PionNegotiator) AddCandidate(peer domain.ConnectionID, raw json.RawMessage) error {
	link, ok := n.link(peer)
	if !ok {
		return fmt.Errorf("no link to %s", peer)
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return link.AddICECandidate(ci)
}

func (n *PionNegotiator) Drop(peer domain.ConnectionID) {
	n.mu.Lock()
	link, ok := n.links[peer]
	delete(n.links, peer)
	n.mu.Unlock()
	if ok {
		link.Close()
		log.Debug().Str("module", "mesh").Str("peer", string(peer)).Msg("link dropped")
	}
}

// Close tears down every link.
func (n *PionNegotiator) Close() {
	n.mu.Lock()
	links := n.links
	n.links = make(map[domain.ConnectionID]*rtc.PeerLink)
	n.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
}
