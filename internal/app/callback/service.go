// Package callback ingests asynchronous on_<action> responses from participants.
package callback

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
	"github.com/coachpo/beckn-gateway/internal/infra/telemetry"
	"github.com/coachpo/beckn-gateway/internal/pkg/clock"
)

const component = "callback"

// Options configures a Service.
type Options struct {
	Clock  clock.Clock
	Logger *logrus.Entry
}

// Service validates callbacks and appends them to the correlation store.
type Service struct {
	store    correlationstore.Store
	clock    clock.Clock
	logger   *logrus.Entry
	ingested metric.Int64Counter
}

// NewService constructs an ingestion service over store.
func NewService(store correlationstore.Store, opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	ingested, _ := otel.Meter("callback").Int64Counter("callbacks.ingested",
		metric.WithDescription("Callbacks received from participants"),
		metric.WithUnit("{callback}"))
	return &Service{
		store:    store,
		clock:    clk,
		logger:   logger.WithField("component", component),
		ingested: ingested,
	}
}

// Ingest validates cb as a callback for action and appends exactly one record.
// Unknown message ids are accepted.
func (s *Service) Ingest(ctx context.Context, action protocol.Action, cb protocol.Callback) error {
	rec, err := s.Prepare(action, cb)
	if err != nil {
		return err
	}
	return s.Append(ctx, rec)
}

// Prepare performs structural validation and builds the record to append.
// Malformed callbacks are logged and reported as CodeInvalid.
func (s *Service) Prepare(action protocol.Action, cb protocol.Callback) (correlationstore.Record, error) {
	if err := s.validate(action, cb); err != nil {
		fields := logrus.Fields{"action": action.Callback()}
		if cb.Context != nil {
			fields["message_id"] = cb.Context.MessageID
			fields["participant"] = cb.Context.Sender()
		}
		s.logger.WithFields(fields).WithError(err).Warn("callback: malformed callback rejected")
		s.record(context.Background(), action, telemetry.ResultError)
		return correlationstore.Record{}, err
	}
	return correlationstore.Record{
		MessageID:   strings.TrimSpace(cb.Context.MessageID),
		Action:      action,
		Participant: cb.Context.Sender(),
		Context:     *cb.Context,
		Message:     append([]byte(nil), cb.Message...),
		ReceivedAt:  s.clock.Now(),
	}, nil
}

// Append stores a prepared record. Store failures are logged and returned as CodeStore.
func (s *Service) Append(ctx context.Context, rec correlationstore.Record) error {
	if err := s.store.Append(ctx, rec.MessageID, rec); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action":      rec.Action.Callback(),
			"message_id":  rec.MessageID,
			"participant": rec.Participant,
		}).WithError(err).Error("callback: append failed")
		s.record(ctx, rec.Action, string(errs.CodeStore))
		if errs.CodeOf(err) != "" {
			return err
		}
		return errs.New(component, errs.CodeStore,
			errs.WithMessage("failed to persist callback"),
			errs.WithField("message_id", rec.MessageID),
			errs.WithCause(err))
	}
	s.logger.WithFields(logrus.Fields{
		"action":      rec.Action.Callback(),
		"message_id":  rec.MessageID,
		"participant": rec.Participant,
	}).Debug("callback: recorded")
	s.record(ctx, rec.Action, telemetry.ResultSuccess)
	return nil
}

func (s *Service) validate(action protocol.Action, cb protocol.Callback) error {
	if _, ok := protocol.ParseAction(action.String()); !ok {
		return malformed("unknown callback action %q", action.Callback())
	}
	if cb.Context == nil {
		return malformed("context is required")
	}
	if err := protocol.Validate(cb); err != nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage(err.Error()))
	}
	if got, ok := protocol.ParseCallback(cb.Context.Action); !ok || got != action {
		return malformed("context action %q does not match %s", cb.Context.Action, action.Callback())
	}
	if protocol.EmptyMessage(cb.Message) {
		return malformed("message is required")
	}
	return nil
}

func (s *Service) record(ctx context.Context, action protocol.Action, result string) {
	if s.ingested == nil {
		return
	}
	attrs := append(telemetry.OperationResultAttributes(telemetry.Environment(), "ingest", result),
		telemetry.AttrAction.String(action.Callback()))
	s.ingested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func malformed(format string, args ...any) error {
	return errs.New(component, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf(format, args...)))
}
