package participant

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/beckn-gateway/internal/infra/telemetry"
)

type dispatchMetrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
	breaker  metric.Int64Counter
}

func newDispatchMetrics() *dispatchMetrics {
	meter := otel.Meter("participant")
	attempts, _ := meter.Int64Counter("participant.dispatch.attempts",
		metric.WithDescription("HTTP attempts made towards participants"),
		metric.WithUnit("{attempt}"))
	outcomes, _ := meter.Int64Counter("participant.dispatch.outcomes",
		metric.WithDescription("Dispatch outcomes by kind"),
		metric.WithUnit("{dispatch}"))
	duration, _ := meter.Float64Histogram("participant.dispatch.duration",
		metric.WithDescription("End-to-end dispatch latency including retries"),
		metric.WithUnit("ms"))
	breaker, _ := meter.Int64Counter("participant.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"))
	return &dispatchMetrics{attempts: attempts, outcomes: outcomes, duration: duration, breaker: breaker}
}

func (m *dispatchMetrics) recordAttempt(ctx context.Context, action, participant string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		telemetry.DispatchAttributes(telemetry.Environment(), action, participant, "")...))
}

func (m *dispatchMetrics) recordOutcome(ctx context.Context, out Outcome) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(telemetry.DispatchAttributes(
		telemetry.Environment(), out.Action.String(), out.Participant, string(out.Kind))...)
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(out.Duration)/float64(time.Millisecond), attrs)
	}
}

func (m *dispatchMetrics) recordBreaker(participant, state string) {
	if m == nil || m.breaker == nil {
		return
	}
	m.breaker.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.BreakerAttributes(telemetry.Environment(), participant, state)...))
}
