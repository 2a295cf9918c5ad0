// Package mesh is the client half of the signaling protocol: it decides who
// offers to whom and tracks which links are up.
package mesh

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/meshroom/internal/domain"
)

type LinkState int

const (
	// LinkAwaiting: a peer joined after us and is expected to offer.
	LinkAwaiting LinkState = iota + 1
	// LinkOffering: we sent an offer and wait for the answer.
	LinkOffering
	// LinkLinked: offer and answer have both crossed.
	LinkLinked
)

func (s LinkState) String() string {
	switch s {
	case LinkAwaiting:
		return "awaiting"
	case LinkOffering:
		return "offering"
	case LinkLinked:
		return "linked"
	default:
		return "unknown"
	}
}

// Tracker holds one client's link table. The newcomer always offers to
// members already present and existing members only ever answer, so a pair
// never has two offers in flight.
type Tracker struct {
	mu     sync.Mutex
	links  map[domain.ConnectionID]LinkState
	notify chan struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		links:  make(map[domain.ConnectionID]LinkState),
		notify: make(chan struct{}),
	}
}

// must hold t.mu
func (t *Tracker) changed() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// OnPeerList records the members present when we joined and returns the
// ones we must send an offer to.
func (t *Tracker) OnPeerList(peers []domain.ConnectionID) []domain.ConnectionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var offer []domain.ConnectionID
	for _, p := range peers {
		if _, known := t.links[p]; known {
			continue
		}
		t.links[p] = LinkOffering
		offer = append(offer, p)
	}
	if len(offer) > 0 {
		t.changed()
	}
	return offer
}

func (t *Tracker) OnPeerJoined(peer domain.ConnectionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.links[peer]; !known {
		t.links[peer] = LinkAwaiting
		t.changed()
	}
}

// OnOffer reports whether an offer from peer should be answered. Offers
// from a peer we are offering to ourselves are refused.
func (t *Tracker) OnOffer(peer domain.ConnectionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[peer] != LinkOffering
}

// OnAnswerSent marks the responder side of a link as up.
func (t *Tracker) OnAnswerSent(peer domain.ConnectionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.links[peer] = LinkLinked
	t.changed()
}

// OnAnswer marks the offerer side of a link as up. Answers we never asked
// for are ignored.
func (t *Tracker) OnAnswer(peer domain.ConnectionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[peer] != LinkOffering {
		return false
	}
	t.links[peer] = LinkLinked
	t.changed()
	return true
}

func (t *Tracker) OnPeerLeft(peer domain.ConnectionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.links[peer]; ok {
		delete(t.links, peer)
		t.changed()
	}
}

func (t *Tracker) State(peer domain.ConnectionID) (LinkState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.links[peer]
	return s, ok
}

// Linked returns the peers with a completed link, sorted.
func (t *Tracker) Linked() []domain.ConnectionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.linkedLocked()
}

func (t *Tracker) linkedLocked() []domain.ConnectionID {
	out := make([]domain.ConnectionID, 0, len(t.links))
	for p, s := range t.links {
		if s == LinkLinked {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// WaitLinked blocks until at least want links are up or ctx ends.
func (t *Tracker) WaitLinked(ctx context.Context, want int) error {
	for {
		t.mu.Lock()
		n := len(t.linkedLocked())
		ch := t.notify
		t.mu.Unlock()
		if n >= want {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitGone blocks until peer has no entry in the table or ctx ends.
func (t *Tracker) WaitGone(ctx context.Context, peer domain.ConnectionID) error {
	for {
		t.mu.Lock()
		_, present := t.links[peer]
		ch := t.notify
		t.mu.Unlock()
		if !present {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
