package redisstore

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// metrics holds the OpenTelemetry instruments a Store reports through.
// Grounded on the teacher's telemetry.RedisTracing instrument set
// (internal/telemetry/redis.go): counters for operations and CAS outcomes,
// trimmed to what a CAS-based override store actually needs (no cache
// hit/miss or keyspace-by-type breakdown, since Store has no read-through
// cache of its own).
type metrics struct {
	operations   metric.Int64Counter
	casConflicts metric.Int64Counter
	notified     metric.Int64Counter
}

// newMetrics returns a metrics with no instruments when meter is nil (the
// common case in tests and simple CLIs); every record call is then a no-op.
func newMetrics(meter metric.Meter) *metrics {
	if meter == nil {
		return &metrics{}
	}
	m := &metrics{}
	m.operations, _ = meter.Int64Counter(
		"nfig_store_operations_total",
		metric.WithDescription("Total number of store mutations attempted"),
		metric.WithUnit("1"),
	)
	m.casConflicts, _ = meter.Int64Counter(
		"nfig_store_cas_conflicts_total",
		metric.WithDescription("Total number of SetOverride/ClearOverride calls rejected by a stale expectedCommit"),
		metric.WithUnit("1"),
	)
	m.notified, _ = meter.Int64Counter(
		"nfig_store_subscriber_notifications_total",
		metric.WithDescription("Total number of snapshot deliveries fanned out to subscribers"),
		metric.WithUnit("1"),
	)
	return m
}

func (m *metrics) recordOp(ctx context.Context) {
	if m.operations != nil {
		m.operations.Add(ctx, 1)
	}
}

func (m *metrics) recordCASConflict(ctx context.Context) {
	if m.casConflicts != nil {
		m.casConflicts.Add(ctx, 1)
	}
}

func (m *metrics) recordNotification(ctx context.Context) {
	if m.notified != nil {
		m.notified.Add(ctx, 1)
	}
}
