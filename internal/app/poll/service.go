// Package poll aggregates the callbacks recorded for a correlation key.
package poll

import (
	"bytes"
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/config"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
	"github.com/coachpo/beckn-gateway/internal/infra/telemetry"
)

const (
	component = "poll"

	messageNotFound = "No message with the given ID"
)

// Response is one participant callback as returned to the client.
type Response struct {
	Context protocol.Context `json:"context"`
	Message json.RawMessage  `json:"message"`
}

// Aggregated is the result of a successful poll.
type Aggregated struct {
	MessageID string
	Action    protocol.Action
	Responses []Response
}

// Options configures a Service.
type Options struct {
	Dedupe config.DedupePolicy
	Logger *logrus.Entry
}

// Service reads and aggregates callbacks. It has no built-in wait; callers
// bound it through ctx.
type Service struct {
	store    correlationstore.Store
	dedupe   config.DedupePolicy
	logger   *logrus.Entry
	requests metric.Int64Counter
	sizes    metric.Int64Histogram
}

// NewService constructs a poll service over store.
func NewService(store correlationstore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	dedupe := opts.Dedupe
	if dedupe == "" {
		dedupe = config.DedupeNone
	}
	meter := otel.Meter("poll")
	requests, _ := meter.Int64Counter("poll.requests",
		metric.WithDescription("Client poll requests by result"),
		metric.WithUnit("{request}"))
	sizes, _ := meter.Int64Histogram("poll.responses",
		metric.WithDescription("Callbacks returned per successful poll"),
		metric.WithUnit("{response}"))
	return &Service{
		store:    store,
		dedupe:   dedupe,
		logger:   logger.WithField("component", component),
		requests: requests,
		sizes:    sizes,
	}
}

// Poll returns the callbacks for messageID that answer action, in arrival
// order. A key never seen yields CodeNotFound; a tracked key with no matching
// callback yet yields CodePending. Both surface as protocol code BAP_008.
func (s *Service) Poll(ctx context.Context, action protocol.Action, messageID string) (Aggregated, error) {
	result, err := s.poll(ctx, action, messageID)
	outcome := telemetry.ResultSuccess
	if err != nil {
		outcome = string(errs.CodeOf(err))
	}
	if s.requests != nil {
		s.requests.Add(ctx, 1, metric.WithAttributes(append(
			telemetry.OperationResultAttributes(telemetry.Environment(), "poll", outcome),
			telemetry.AttrAction.String(action.Callback()))...))
	}
	if err == nil && s.sizes != nil {
		s.sizes.Record(ctx, int64(len(result.Responses)),
			metric.WithAttributes(telemetry.AttrAction.String(action.Callback())))
	}
	return result, err
}

func (s *Service) poll(ctx context.Context, action protocol.Action, messageID string) (Aggregated, error) {
	key := strings.TrimSpace(messageID)
	if key == "" {
		return Aggregated{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("messageId is required"))
	}
	if _, ok := protocol.ParseAction(action.String()); !ok {
		return Aggregated{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("unknown callback action "+action.Callback()))
	}

	records, err := s.store.ReadAll(ctx, key)
	if err != nil {
		return Aggregated{}, s.storeFailure("read callbacks", key, err)
	}
	if len(records) == 0 {
		known, err := s.store.Exists(ctx, key)
		if err != nil {
			return Aggregated{}, s.storeFailure("check correlation key", key, err)
		}
		if !known {
			return Aggregated{}, notFound(errs.CodeNotFound, key)
		}
		return Aggregated{}, notFound(errs.CodePending, key)
	}

	matching := make([]correlationstore.Record, 0, len(records))
	for _, rec := range records {
		if rec.Action == action {
			matching = append(matching, rec)
		}
	}
	if len(matching) == 0 {
		return Aggregated{}, notFound(errs.CodePending, key)
	}
	if s.dedupe == config.DedupePayload {
		matching = dedupePayload(matching)
	}

	responses := make([]Response, 0, len(matching))
	for _, rec := range matching {
		responses = append(responses, Response{Context: rec.Context, Message: rec.Message})
	}
	return Aggregated{MessageID: key, Action: action, Responses: responses}, nil
}

// dedupePayload drops records whose message bytes equal an earlier record's.
func dedupePayload(records []correlationstore.Record) []correlationstore.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]correlationstore.Record, 0, len(records))
	for _, rec := range records {
		key := string(compact(rec.Message))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func notFound(code errs.Code, key string) error {
	return errs.New(component, code,
		errs.WithMessage(messageNotFound),
		errs.WithField("message_id", key))
}

func (s *Service) storeFailure(op, key string, err error) error {
	s.logger.WithField("message_id", key).WithError(err).Error("poll: " + op + " failed")
	return errs.New(component, errs.CodeStore,
		errs.WithMessage("failed to "+op),
		errs.WithField("message_id", key),
		errs.WithCause(err))
}
