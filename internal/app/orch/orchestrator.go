package orch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

// Orchestrator owns the signaling protocol. It holds no state of its own:
// presence lives in Rooms, connections in Registry, durable data in Store.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomTable
	Store    core.RoomStore
	Persist  *app.Persister
	Policy   app.Policy

	// StoreTimeout bounds the store calls made on join.
	StoreTimeout time.Duration
	Now          func() time.Time

	metrics *metrics
}

func New(reg *app.Registry, rooms *app.RoomTable, store core.RoomStore, persist *app.Persister, policy app.Policy) *Orchestrator {
	if policy == nil {
		policy = app.SimplePolicy{Action: app.DropFrame}
	}
	o := &Orchestrator{
		Registry:     reg,
		Rooms:        rooms,
		Store:        store,
		Persist:      persist,
		Policy:       policy,
		StoreTimeout: 5 * time.Second,
		Now:          time.Now,
		metrics:      newMetrics(nil),
	}
	if persist != nil {
		persist.OnError(func(room domain.RoomID, err error) {
			o.metrics.persistError(room, err)
		})
	}
	return o
}

// UseMeterProvider records the counters against mp instead of the global
// provider. Call it before the orchestrator serves traffic.
func (o *Orchestrator) UseMeterProvider(mp metric.MeterProvider) {
	o.metrics = newMetrics(mp)
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return nil, false
	}
	return b, true
}

// send delivers v to one connection. A missing target is a routing miss and
// is dropped silently.
func (o *Orchestrator) send(to domain.ConnectionID, v any) bool {
	frame, ok := encode(v)
	if !ok {
		return false
	}
	return o.sendFrame(to, frame)
}

func (o *Orchestrator) sendFrame(to domain.ConnectionID, frame core.Frame) bool {
	conn, ok := o.Registry.Get(to)
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(to)).Msg("routing miss, dropped")
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(to)).Msg("send failed, dropped")
		if errors.Is(err, core.ErrBackpressure) && o.Policy.OnBackPressure(to) == app.Disconnect {
			o.Registry.Cancel(to)
		}
		return false
	}
	return true
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}
