package syncloop

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type loopMetrics struct {
	pollTicks   metric.Int64Counter
	pushAppends metric.Int64Counter
	pushDropped metric.Int64Counter
	sessions    metric.Int64UpDownCounter
}

func newLoopMetrics(logger *slog.Logger) *loopMetrics {
	meter := otel.Meter("ChatLink/syncloop")
	m := &loopMetrics{}

	var err error
	if m.pollTicks, err = meter.Int64Counter("chatlink.sync.poll_ticks",
		metric.WithDescription("Pull channel ticks")); err != nil {
		logger.Warn("failed to create counter", "name", "chatlink.sync.poll_ticks", "error", err)
		m.pollTicks = noop.Int64Counter{}
	}
	if m.pushAppends, err = meter.Int64Counter("chatlink.sync.push_appends",
		metric.WithDescription("Push events appended to the rendered list")); err != nil {
		logger.Warn("failed to create counter", "name", "chatlink.sync.push_appends", "error", err)
		m.pushAppends = noop.Int64Counter{}
	}
	if m.pushDropped, err = meter.Int64Counter("chatlink.sync.push_dropped",
		metric.WithDescription("Push events for a conversation that is not selected")); err != nil {
		logger.Warn("failed to create counter", "name", "chatlink.sync.push_dropped", "error", err)
		m.pushDropped = noop.Int64Counter{}
	}
	if m.sessions, err = meter.Int64UpDownCounter("chatlink.sync.active_sessions",
		metric.WithDescription("Live sync sessions")); err != nil {
		logger.Warn("failed to create counter", "name", "chatlink.sync.active_sessions", "error", err)
		m.sessions = noop.Int64UpDownCounter{}
	}
	return m
}
