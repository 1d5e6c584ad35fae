// Package errs provides structured error types and helpers for the gateway.
package errs

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a gateway error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller or a participant.
	CodeInvalid Code = "invalid_request"
	// CodeRegistry indicates the subscriber directory could not be queried.
	CodeRegistry Code = "registry_unavailable"
	// CodeNoParticipant indicates the directory returned no usable participant.
	CodeNoParticipant Code = "no_participant"
	// CodeTransport indicates a participant could not be reached or answered with a server error.
	CodeTransport Code = "transport"
	// CodeCircuitOpen indicates the participant circuit rejected the call without network I/O.
	CodeCircuitOpen Code = "circuit_open"
	// CodeNack indicates the participant answered with a negative acknowledgement.
	CodeNack Code = "nack"
	// CodeNotFound indicates no callback was ever recorded for the correlation key.
	CodeNotFound Code = "not_found"
	// CodePending indicates a dispatch is tracked but no callback has arrived yet.
	CodePending Code = "pending"
	// CodeStore indicates a correlation store failure.
	CodeStore Code = "store"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// Protocol error codes surfaced in NACK envelopes.
const (
	ProtocolInvalidRequest  = "BAP_002"
	ProtocolRegistry        = "BAP_006"
	ProtocolNoParticipant   = "BAP_007"
	ProtocolMessageNotFound = "BAP_008"
	ProtocolStore           = "BAP_009"
	ProtocolParticipant     = "BAP_011"
	ProtocolParticipantNack = "BAP_012"
)

// E captures structured error information produced across the gateway.
type E struct {
	Component    string
	Code         Code
	HTTP         int
	ProtocolCode string
	Message      string
	Participant  string
	Metadata     map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component:    strings.TrimSpace(component),
		Code:         code,
		HTTP:         0,
		ProtocolCode: "",
		Message:      "",
		Participant:  "",
		Metadata:     nil,
		cause:        nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithProtocolCode records the protocol error code returned to clients.
func WithProtocolCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.ProtocolCode = trimmed
	}
}

// WithParticipant names the network participant involved in the failure.
func WithParticipant(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.Participant = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMetadata merges the provided key/value pairs into the error envelope.
func WithMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Metadata[key] = strings.TrimSpace(v)
		}
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.ProtocolCode != "" {
		parts = append(parts, "protocol_code="+e.ProtocolCode)
	}
	if e.Participant != "" {
		parts = append(parts, "participant="+strconv.Quote(e.Participant))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target is an *E with the same code. A target without a
// code matches any envelope.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// CodeOf returns the code of the first *E in the error chain, or "" when none is present.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// HTTPStatus resolves the HTTP status associated with err. Envelopes without an
// explicit status fall back to the default for their code.
func HTTPStatus(err error) int {
	var e *E
	if !errors.As(err, &e) || e == nil {
		return http.StatusInternalServerError
	}
	if e.HTTP > 0 {
		return e.HTTP
	}
	return defaultHTTP(e.Code)
}

// ProtocolCodeOf resolves the protocol error code surfaced to clients for err.
func ProtocolCodeOf(err error) string {
	var e *E
	if !errors.As(err, &e) || e == nil {
		return ProtocolParticipant
	}
	if e.ProtocolCode != "" {
		return e.ProtocolCode
	}
	return defaultProtocolCode(e.Code)
}

// MessageOf returns the human-readable message of the first envelope in err, or err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) && e != nil && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func defaultHTTP(code Code) int {
	switch code {
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeNoParticipant, CodeNotFound, CodePending:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func defaultProtocolCode(code Code) string {
	switch code {
	case CodeInvalid:
		return ProtocolInvalidRequest
	case CodeRegistry:
		return ProtocolRegistry
	case CodeNoParticipant:
		return ProtocolNoParticipant
	case CodeNotFound, CodePending:
		return ProtocolMessageNotFound
	case CodeStore:
		return ProtocolStore
	case CodeNack:
		return ProtocolParticipantNack
	default:
		return ProtocolParticipant
	}
}
