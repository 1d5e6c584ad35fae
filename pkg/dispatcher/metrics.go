package dispatcher

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/beckn-gateway/internal/infra/telemetry"
)

// FanoutMetrics tracks delivery timing and efficiency for participant fan-out.
type FanoutMetrics struct {
	totalDuration      metric.Float64Histogram
	perParticipant     metric.Float64Histogram
	parallelEfficiency metric.Float64Gauge
}

// NewFanoutMetrics constructs fan-out instruments on the provided meter, or the global one.
func NewFanoutMetrics(meter metric.Meter) *FanoutMetrics {
	if meter == nil {
		meter = otel.Meter("dispatcher")
	}
	total, _ := meter.Float64Histogram("dispatcher.fanout.duration",
		metric.WithDescription("Total time to fan out an envelope to all participants"),
		metric.WithUnit("s"))
	per, _ := meter.Float64Histogram("dispatcher.fanout.participant.duration",
		metric.WithDescription("Time spent dispatching to an individual participant"),
		metric.WithUnit("s"))
	efficiency, _ := meter.Float64Gauge("dispatcher.fanout.parallel_efficiency",
		metric.WithDescription("Ratio (0-1) of sequential delivery time to the parallel wall time"))
	return &FanoutMetrics{totalDuration: total, perParticipant: per, parallelEfficiency: efficiency}
}

// Observe records timing metrics for a completed fan-out invocation.
func (m *FanoutMetrics) Observe(ctx context.Context, participantCount int, perParticipant []time.Duration, total time.Duration) {
	if m == nil || participantCount == 0 {
		return
	}
	attrs := metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		attribute.String("participants", strconv.Itoa(participantCount)),
	)
	sequential := 0.0
	for _, dur := range perParticipant {
		if dur <= 0 {
			continue
		}
		if m.perParticipant != nil {
			m.perParticipant.Record(ctx, dur.Seconds(), attrs)
		}
		sequential += dur.Seconds()
	}
	if total <= 0 {
		return
	}
	if m.totalDuration != nil {
		m.totalDuration.Record(ctx, total.Seconds(), attrs)
	}
	denom := float64(participantCount) * total.Seconds()
	if denom > 0 && m.parallelEfficiency != nil {
		m.parallelEfficiency.Record(ctx, min(sequential/denom, 1), attrs)
	}
}
