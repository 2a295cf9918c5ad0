package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const dataChannelLabel = "mesh"

// PeerLink is one side of a direct link to another room member. It carries
// a single data channel; no media tracks are negotiated.
type PeerLink struct {
	pc   *webrtc.PeerConnection
	peer domain.ConnectionID

	mu       sync.Mutex
	opened   bool
	onOpen   func()
	onClosed func()
}

func NewPeerLink(cfg webrtc.Configuration, peer domain.ConnectionID) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &PeerLink{pc: pc, peer: peer}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			l.mu.Lock()
			fn := l.onClosed
			l.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(l.markOpen)
	})
	return l, nil
}

func (l *PeerLink) markOpen() {
	l.mu.Lock()
	if l.opened {
		l.mu.Unlock()
		return
	}
	l.opened = true
	fn := l.onOpen
	l.mu.Unlock()
	log.Info().Str("module", "webrtc").Str("peer", string(l.peer)).Msg("data channel open")
	if fn != nil {
		fn()
	}
}

// OnOpen is called once, when the data channel first opens on either side.
func (l *PeerLink) OnOpen(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onOpen = fn
}

func (l *PeerLink) OnClosed(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onClosed = fn
}

// CreateOffer opens the data channel and returns the local offer with all
// candidates gathered.
func (l *PeerLink) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	dc, err := l.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, err
	}
	dc.OnOpen(l.markOpen)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return l.setLocal(ctx, offer)
}

func (l *PeerLink) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return l.setLocal(ctx, answer)
}

func (l *PeerLink) ApplyAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

func (l *PeerLink) setLocal(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.pc.LocalDescription(), nil
}

func (l *PeerLink) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(ci)
}

func (l *PeerLink) Close() {
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(l.peer)).Msg("close error")
		return
	}
	log.Debug().Str("module", "webrtc").Str("peer", string(l.peer)).Msg("closed")
}
