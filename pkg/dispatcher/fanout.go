// Package dispatcher fans a protocol envelope out to several participants.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/participant"
)

// DeliverFunc dispatches to a single participant.
type DeliverFunc func(context.Context, protocol.Participant) participant.Outcome

// Fanout coordinates parallel dispatch with a bounded number of workers.
type Fanout struct {
	metrics    *FanoutMetrics
	maxWorkers int
}

// FanoutError aggregates the failures of participants that did not acknowledge.
type FanoutError struct {
	Operation          string
	MessageID          string
	Action             string
	ParticipantCount   int
	FailedParticipants []string
	Errors             []error
}

// Error returns a descriptive summary of the aggregated fan-out failure.
func (e *FanoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := []string{}
	if op := strings.TrimSpace(e.Operation); op != "" {
		parts = append(parts, op)
	} else {
		parts = append(parts, "fanout error")
	}
	if e.MessageID != "" {
		parts = append(parts, fmt.Sprintf("message_id=%s", e.MessageID))
	}
	if e.Action != "" {
		parts = append(parts, fmt.Sprintf("action=%s", e.Action))
	}
	if e.ParticipantCount > 0 {
		parts = append(parts, fmt.Sprintf("participant_count=%d", e.ParticipantCount))
	}
	if len(e.FailedParticipants) > 0 {
		parts = append(parts, fmt.Sprintf("failed_participants=%v", e.FailedParticipants))
	}
	for _, err := range e.Errors {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes the underlying participant errors for errors.Is/As compatibility.
func (e *FanoutError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return append([]error(nil), e.Errors...)
}

// NewFanout constructs a fan-out dispatcher with the provided metrics and concurrency limit.
func NewFanout(metrics *FanoutMetrics, maxWorkers int) *Fanout {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	return &Fanout{metrics: metrics, maxWorkers: maxWorkers}
}

// Dispatch delivers env to every participant independently. Outcomes are
// returned in participant order; a failure or panic for one participant never
// affects the others. The error is a *FanoutError when any participant did
// not acknowledge.
func (f *Fanout) Dispatch(ctx context.Context, env protocol.Envelope, participants []protocol.Participant, deliver DeliverFunc) ([]participant.Outcome, error) {
	count := len(participants)
	if count == 0 || deliver == nil {
		return nil, nil
	}
	outcomes := make([]participant.Outcome, count)
	perDurations := make([]time.Duration, count)
	start := time.Now()
	action, _ := protocol.ParseAction(env.Context.Action)

	workerLimit := min(f.maxWorkers, count)
	p := pool.New().WithMaxGoroutines(workerLimit)
	for idx, target := range participants {
		p.Go(func() {
			began := time.Now()
			defer func() {
				if r := recover(); r != nil {
					outcomes[idx] = participant.Outcome{
						Participant: target.SubscriberID,
						BaseURL:     protocol.NormalizeBaseURL(target.BaseURL),
						Action:      action,
						Kind:        participant.KindTransportFailure,
						Transport:   participant.TransportPanic,
						Cause:       fmt.Errorf("participant %s panic: %v", target.SubscriberID, r),
						Duration:    time.Since(began),
					}
				}
				perDurations[idx] = time.Since(began)
			}()
			outcomes[idx] = deliver(ctx, target)
		})
	}
	p.Wait()
	if f.metrics != nil {
		f.metrics.Observe(ctx, count, perDurations, time.Since(start))
	}

	var failed []string
	var errsOut []error
	for _, out := range outcomes {
		if out.Acknowledged() {
			continue
		}
		failed = append(failed, out.Participant)
		errsOut = append(errsOut, out.Err())
	}
	if len(errsOut) == 0 {
		return outcomes, nil
	}
	return outcomes, &FanoutError{
		Operation:          "participant fan-out",
		MessageID:          env.Context.MessageID,
		Action:             env.Context.Action,
		ParticipantCount:   count,
		FailedParticipants: uniqueStrings(failed),
		Errors:             errsOut,
	}
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
