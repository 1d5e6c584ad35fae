// Package orchestrator turns a client action into protocol calls against the
// participants resolved from the subscriber directory.
package orchestrator

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
	"github.com/coachpo/beckn-gateway/internal/infra/participant"
	"github.com/coachpo/beckn-gateway/pkg/dispatcher"
)

const component = "orchestrator"

// Directory resolves participants.
type Directory interface {
	Lookup(ctx context.Context, criteria protocol.Criteria) ([]protocol.Participant, error)
}

// Dispatcher delivers one envelope to one participant.
type Dispatcher interface {
	Dispatch(ctx context.Context, p protocol.Participant, env protocol.Envelope) participant.Outcome
}

// Request is the body of a client action.
type Request struct {
	Context protocol.ClientContext `json:"context"`
	Message json.RawMessage        `json:"message"`
}

// Result describes a dispatched client action.
type Result struct {
	Context  protocol.Context
	Outcomes []participant.Outcome
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Contexts   *protocol.ContextFactory
	Directory  Directory
	Dispatcher Dispatcher
	Fanout     *dispatcher.Fanout
	Store      correlationstore.Store
	Logger     *logrus.Entry
}

// Orchestrator coordinates lookup, tracking and fan-out for client actions.
type Orchestrator struct {
	contexts   *protocol.ContextFactory
	directory  Directory
	dispatcher Dispatcher
	fanout     *dispatcher.Fanout
	store      correlationstore.Store
	logger     *logrus.Entry
}

// New constructs an orchestrator. Directory, Dispatcher and Store are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Directory == nil || opts.Dispatcher == nil || opts.Store == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("directory, dispatcher and store are required"))
	}
	contexts := opts.Contexts
	if contexts == nil {
		contexts = protocol.NewContextFactory(protocol.Defaults{}, nil, nil)
	}
	fanout := opts.Fanout
	if fanout == nil {
		fanout = dispatcher.NewFanout(nil, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		contexts:   contexts,
		directory:  opts.Directory,
		dispatcher: opts.Dispatcher,
		fanout:     fanout,
		store:      opts.Store,
		logger:     logger.WithField("component", component),
	}, nil
}

// Handle dispatches a client action. The returned Result carries the
// generated context whenever one was built, even alongside an error, so the
// caller can echo the correlation key. The overall call succeeds when at
// least one participant acknowledged; otherwise the error of the most
// significant failure is returned (nack, then transport, then circuit open).
func (o *Orchestrator) Handle(ctx context.Context, action protocol.Action, req Request) (Result, error) {
	if _, ok := protocol.ParseAction(action.String()); !ok {
		return Result{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("unsupported action "+action.String()))
	}
	if !action.TargetsGateway() && strings.TrimSpace(req.Context.BppID) == "" {
		return Result{}, errs.New(component, errs.CodeInvalid,
			errs.WithMessage("context.bpp_id is required for "+action.String()))
	}
	if protocol.EmptyMessage(req.Message) {
		return Result{}, errs.New(component, errs.CodeInvalid, errs.WithMessage("message is required"))
	}

	result := Result{Context: o.contexts.New(action, req.Context)}
	log := o.logger.WithFields(logrus.Fields{
		"action":         action.String(),
		"message_id":     result.Context.MessageID,
		"transaction_id": result.Context.TransactionID,
	})

	participants, err := o.directory.Lookup(ctx, criteriaFor(action, result.Context))
	if err != nil {
		log.WithError(err).Warn("orchestrator: participant lookup failed")
		return result, err
	}

	if err := o.store.Track(ctx, result.Context.MessageID, action); err != nil {
		log.WithError(err).Error("orchestrator: track dispatch failed")
		return result, errs.New(component, errs.CodeStore,
			errs.WithMessage("failed to track dispatch"),
			errs.WithField("message_id", result.Context.MessageID),
			errs.WithCause(err))
	}

	env := protocol.Envelope{Context: result.Context, Message: req.Message}
	outcomes, fanoutErr := o.fanout.Dispatch(ctx, env, participants, func(ctx context.Context, p protocol.Participant) participant.Outcome {
		return o.dispatcher.Dispatch(ctx, p, env)
	})
	result.Outcomes = outcomes

	if err := aggregate(outcomes); err != nil {
		log.WithError(fanoutErr).WithField("participants", len(participants)).Warn("orchestrator: no participant acknowledged")
		return result, err
	}
	entry := log.WithField("participants", len(participants))
	if fanoutErr != nil {
		entry = entry.WithField("partial_failure", fanoutErr.Error())
	}
	entry.Info("orchestrator: action dispatched")
	return result, nil
}

func criteriaFor(action protocol.Action, c protocol.Context) protocol.Criteria {
	criteria := protocol.Criteria{Domain: c.Domain, City: c.City, Country: c.Country}
	if action.TargetsGateway() && c.BppID == "" {
		criteria.Type = protocol.TypeGateway
		return criteria
	}
	criteria.Type = protocol.TypeBPP
	criteria.SubscriberID = c.BppID
	return criteria
}

var failurePrecedence = []participant.Kind{
	participant.KindNack,
	participant.KindTransportFailure,
	participant.KindCircuitOpen,
}

// aggregate returns nil when any participant acknowledged.
func aggregate(outcomes []participant.Outcome) error {
	for _, out := range outcomes {
		if out.Acknowledged() {
			return nil
		}
	}
	for _, kind := range failurePrecedence {
		for _, out := range outcomes {
			if out.Kind == kind {
				return out.Err()
			}
		}
	}
	return errs.New(component, errs.CodeNoParticipant, errs.WithMessage("no participant to dispatch to"))
}
