// Package participant delivers protocol envelopes to network participants with
// per-participant timeouts, retries, rate limits and circuit breaking.
package participant

import (
	"fmt"
	"time"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

// Kind tags the result of a dispatch.
type Kind string

const (
	KindAck              Kind = "ack"
	KindNack             Kind = "nack"
	KindTransportFailure Kind = "transport_failure"
	KindCircuitOpen      Kind = "circuit_open"
)

// TransportKind classifies a transport failure.
type TransportKind string

const (
	TransportTimeout     TransportKind = "timeout"
	TransportConnection  TransportKind = "connection"
	TransportServerError TransportKind = "server_error"
	TransportBadResponse TransportKind = "bad_response"
	TransportCancelled   TransportKind = "cancelled"
	TransportRequest     TransportKind = "request"
	TransportPanic       TransportKind = "panic"
)

func (k TransportKind) retryable() bool {
	switch k {
	case TransportTimeout, TransportConnection, TransportServerError:
		return true
	default:
		return false
	}
}

// Outcome is the tagged result of dispatching one envelope to one participant.
type Outcome struct {
	Participant string
	BaseURL     string
	Action      protocol.Action
	Kind        Kind
	Transport   TransportKind
	// Status is the HTTP status of the last attempt, zero when no response was read.
	Status   int
	Response *protocol.AckResponse
	Attempts int
	Duration time.Duration
	Cause    error
}

// Acknowledged reports whether the participant accepted the envelope.
func (o Outcome) Acknowledged() bool { return o.Kind == KindAck }

// Reason renders a short human readable explanation of a non-ack outcome.
func (o Outcome) Reason() string {
	switch o.Kind {
	case KindAck:
		return ""
	case KindNack:
		if o.Response != nil && o.Response.Error != nil {
			if o.Response.Error.Message != "" {
				return o.Response.Error.Message
			}
			return o.Response.Error.Code
		}
		return "participant returned NACK"
	case KindCircuitOpen:
		return "circuit open"
	default:
		if o.Cause != nil {
			return fmt.Sprintf("%s: %v", o.Transport, o.Cause)
		}
		return string(o.Transport)
	}
}

// Err maps a non-ack outcome onto the gateway error taxonomy. Ack outcomes return nil.
func (o Outcome) Err() error {
	base := []errs.Option{
		errs.WithParticipant(o.Participant),
		errs.WithField("action", o.Action.String()),
		errs.WithField("attempts", fmt.Sprint(o.Attempts)),
	}
	switch o.Kind {
	case KindAck:
		return nil
	case KindNack:
		opts := append(base, errs.WithMessage(o.Reason()))
		if o.Response != nil && o.Response.Error != nil && o.Response.Error.Code != "" {
			opts = append(opts, errs.WithProtocolCode(o.Response.Error.Code))
		}
		return errs.New(component, errs.CodeNack, opts...)
	case KindCircuitOpen:
		return errs.New(component, errs.CodeCircuitOpen, append(base,
			errs.WithMessage("participant circuit open"), errs.WithCause(o.Cause))...)
	default:
		return errs.New(component, errs.CodeTransport, append(base,
			errs.WithMessage("BPP returned error"),
			errs.WithField("transport", string(o.Transport)),
			errs.WithCause(o.Cause))...)
	}
}

// attemptError is the failure of a single HTTP exchange.
type attemptError struct {
	kind   TransportKind
	status int
	cause  error
}

func (e *attemptError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("%s (status %d)", e.kind, e.status)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.kind, e.cause)
	}
	return string(e.kind)
}

func (e *attemptError) Unwrap() error { return e.cause }
