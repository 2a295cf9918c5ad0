package orch

import (
	"context"
	"errors"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dkeye/meshroom/internal/app/orch"

type metrics struct {
	relayed       metric.Int64Counter
	dropped       metric.Int64Counter
	chat          metric.Int64Counter
	persistErrors metric.Int64Counter
	invites       metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) *metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	relayed, _ := meter.Int64Counter("signals_relayed_total")
	dropped, _ := meter.Int64Counter("signals_dropped_total")
	chat, _ := meter.Int64Counter("chat_messages_total")
	persistErrors, _ := meter.Int64Counter("history_persist_errors_total")
	invites, _ := meter.Int64Counter("invites_delivered_total")
	return &metrics{
		relayed:       relayed,
		dropped:       dropped,
		chat:          chat,
		persistErrors: persistErrors,
		invites:       invites,
	}
}

func (m *metrics) signal(kind string, delivered bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if delivered {
		m.relayed.Add(context.Background(), 1, attrs)
		return
	}
	m.dropped.Add(context.Background(), 1, attrs)
}

func (m *metrics) chatMessage(room domain.RoomID) {
	if m == nil {
		return
	}
	m.chat.Add(context.Background(), 1, metric.WithAttributes(attribute.String("room", string(room))))
}

// persistError tells a full history queue apart from a failing store.
func (m *metrics) persistError(room domain.RoomID, err error) {
	if m == nil {
		return
	}
	reason := "store"
	if errors.Is(err, core.ErrBackpressure) {
		reason = "queue_full"
	}
	m.persistErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("room", string(room)),
		attribute.String("reason", reason),
	))
}

func (m *metrics) invite() {
	if m == nil {
		return
	}
	m.invites.Add(context.Background(), 1)
}
