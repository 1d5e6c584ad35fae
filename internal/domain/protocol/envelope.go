package protocol

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// Envelope is the request body exchanged with participants: a context plus an opaque message.
type Envelope struct {
	Context Context         `json:"context"`
	Message json.RawMessage `json:"message"`
}

// Callback is an inbound on_<action> body as posted by a participant.
type Callback struct {
	Context *Context        `json:"context" validate:"required"`
	Message json.RawMessage `json:"message"`
	Error   *Error          `json:"error,omitempty"`
}

// AckStatus is the synchronous acknowledgement returned for every protocol call.
type AckStatus string

const (
	AckStatusAck  AckStatus = "ACK"
	AckStatusNack AckStatus = "NACK"
)

// Ack wraps the acknowledgement status.
type Ack struct {
	Status AckStatus `json:"status" validate:"required,oneof=ACK NACK"`
}

// AckMessage is the message part of an acknowledgement response.
type AckMessage struct {
	Ack Ack `json:"ack"`
}

// Error is the protocol error object attached to negative acknowledgements.
type Error struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// AckResponse is the synchronous response to a protocol call.
type AckResponse struct {
	Context *Context   `json:"context,omitempty" validate:"-"`
	Message AckMessage `json:"message"`
	Error   *Error     `json:"error,omitempty"`
}

// NewAck builds an ACK response for ctx.
func NewAck(ctx *Context) AckResponse {
	return AckResponse{Context: ctx, Message: AckMessage{Ack: Ack{Status: AckStatusAck}}}
}

// NewNack builds a NACK response carrying the error.
func NewNack(ctx *Context, perr *Error) AckResponse {
	return AckResponse{Context: ctx, Message: AckMessage{Ack: Ack{Status: AckStatusNack}}, Error: perr}
}

// IsAck reports whether the response acknowledges the call.
func (r AckResponse) IsAck() bool {
	return r.Message.Ack.Status == AckStatusAck
}

// EmptyMessage reports whether a raw message is absent or JSON null.
func EmptyMessage(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
