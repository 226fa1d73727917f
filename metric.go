package futuremsg

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "futuremsg"

type metrics struct {
	commands       metric.Int64Counter
	delivered      metric.Int64Counter
	deliveryFailed metric.Int64Counter
	snapshots      metric.Int64Counter
	pending        metric.Int64UpDownCounter
	attrs          metric.MeasurementOption
}

func newMetrics(scheduler string) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{attrs: metric.WithAttributes(attribute.String("scheduler", scheduler))}
	m.commands, _ = meter.Int64Counter("futuremsg.commands",
		metric.WithDescription("Number of commands durably applied"))
	m.delivered, _ = meter.Int64Counter("futuremsg.delivered",
		metric.WithDescription("Number of messages handed to the transport"))
	m.deliveryFailed, _ = meter.Int64Counter("futuremsg.delivery.failed",
		metric.WithDescription("Number of messages the transport rejected"))
	m.snapshots, _ = meter.Int64Counter("futuremsg.snapshots",
		metric.WithDescription("Number of snapshots saved"))
	m.pending, _ = meter.Int64UpDownCounter("futuremsg.pending",
		metric.WithDescription("Number of messages waiting to fire"))
	return m
}

func (m *metrics) command(ctx context.Context, kind CommandKind) {
	if m == nil || m.commands == nil {
		return
	}
	m.commands.Add(ctx, 1, m.attrs, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *metrics) delivery(ctx context.Context, destination string, err error) {
	if m == nil {
		return
	}
	dest := metric.WithAttributes(attribute.String("destination", destination))
	if err != nil {
		if m.deliveryFailed != nil {
			m.deliveryFailed.Add(ctx, 1, m.attrs, dest)
		}
		return
	}
	if m.delivered != nil {
		m.delivered.Add(ctx, 1, m.attrs, dest)
	}
}

func (m *metrics) snapshot(ctx context.Context) {
	if m != nil && m.snapshots != nil {
		m.snapshots.Add(ctx, 1, m.attrs)
	}
}

func (m *metrics) pendingDelta(ctx context.Context, n int64) {
	if m != nil && m.pending != nil && n != 0 {
		m.pending.Add(ctx, n, m.attrs)
	}
}
