package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrPersisterClosed = errors.New("persister closed")

type historyJob struct {
	room  domain.RoomID
	entry domain.HistoryEntry
}

// Persister appends chat lines to the store off the relay path.
// A single worker keeps appends in submission order. Delivery is
// at-most-once: a full queue or a store error loses the line.
type Persister struct {
	store   core.RoomStore
	timeout time.Duration
	onError func(room domain.RoomID, err error)

	pending atomic.Int64

	mu     sync.RWMutex
	closed bool
	jobs   chan historyJob
	done   chan struct{}
}

func NewPersister(store core.RoomStore, queueSize int, timeout time.Duration) *Persister {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Persister{
		store:   store,
		timeout: timeout,
		jobs:    make(chan historyJob, queueSize),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

// OnError sets a hook called for every lost line. Must be set before use.
func (p *Persister) OnError(fn func(room domain.RoomID, err error)) { p.onError = fn }

// Enqueue never blocks.
func (p *Persister) Enqueue(room domain.RoomID, entry domain.HistoryEntry) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.fail(room, ErrPersisterClosed)
		return ErrPersisterClosed
	}
	p.pending.Add(1)
	select {
	case p.jobs <- historyJob{room: room, entry: entry}:
		return nil
	default:
		p.pending.Add(-1)
		log.Warn().Str("module", "app.persister").Str("room", string(room)).Int("queue_size", cap(p.jobs)).
			Msg("history queue full, raise store.queue_size if bursts are expected")
		p.fail(room, core.ErrBackpressure)
		return core.ErrBackpressure
	}
}

func (p *Persister) loop() {
	defer close(p.done)
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.store.AppendHistoryEntry(ctx, job.room, job.entry)
		cancel()
		if err != nil {
			p.fail(job.room, err)
			p.pending.Add(-1)
			continue
		}
		p.pending.Add(-1)
		log.Debug().Str("module", "app.persister").Str("room", string(job.room)).Msg("history appended")
	}
}

func (p *Persister) fail(room domain.RoomID, err error) {
	log.Error().Err(err).Str("module", "app.persister").Str("room", string(room)).Msg("history append lost")
	if p.onError != nil {
		p.onError(room, err)
	}
}

// Close stops accepting lines and waits for the queue to drain or ctx to end.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the number of lines queued or being written.
func (p *Persister) Pending() int {
	return int(p.pending.Load())
}

// Capacity is the queue size. Bursts of chat larger than it, arriving
// faster than the store absorbs them, lose lines.
func (p *Persister) Capacity() int {
	return cap(p.jobs)
}
