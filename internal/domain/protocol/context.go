package protocol

import "time"

// CoreVersion is the protocol version stamped on outbound contexts.
const CoreVersion = "0.9.3"

// Context carries the routing and correlation metadata of every protocol message.
type Context struct {
	Domain        string    `json:"domain" validate:"required"`
	Country       string    `json:"country,omitempty"`
	City          string    `json:"city,omitempty"`
	Action        string    `json:"action" validate:"required"`
	CoreVersion   string    `json:"core_version,omitempty"`
	BapID         string    `json:"bap_id,omitempty"`
	BapURI        string    `json:"bap_uri,omitempty"`
	BppID         string    `json:"bpp_id,omitempty"`
	BppURI        string    `json:"bpp_uri,omitempty"`
	TransactionID string    `json:"transaction_id" validate:"required"`
	MessageID     string    `json:"message_id" validate:"required"`
	Timestamp     time.Time `json:"timestamp"`
	Key           string    `json:"key,omitempty"`
	TTL           string    `json:"ttl,omitempty"`
}

// Sender returns the identity of the participant that produced a callback.
func (c Context) Sender() string {
	if c.BppID != "" {
		return c.BppID
	}
	return c.BapID
}
