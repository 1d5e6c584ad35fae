package protocol

import (
	"strings"

	"github.com/google/uuid"

	"github.com/coachpo/beckn-gateway/internal/pkg/clock"
)

// ClientContext is the partial context a client supplies with an action request.
type ClientContext struct {
	TransactionID string `json:"transaction_id,omitempty"`
	BppID         string `json:"bpp_id,omitempty"`
	BppURI        string `json:"bpp_uri,omitempty"`
	Domain        string `json:"domain,omitempty"`
	City          string `json:"city,omitempty"`
	Country       string `json:"country,omitempty"`
}

// Defaults holds the values stamped on every outbound context.
type Defaults struct {
	BapID   string
	BapURI  string
	Domain  string
	City    string
	Country string
	TTL     string
}

// IDGenerator produces correlation identifiers.
type IDGenerator func() string

// ContextFactory builds outbound contexts with fresh message ids.
type ContextFactory struct {
	defaults Defaults
	clock    clock.Clock
	newID    IDGenerator
}

// NewContextFactory constructs a factory. A nil clock uses wall time and a nil
// generator uses random UUIDs.
func NewContextFactory(defaults Defaults, clk clock.Clock, gen IDGenerator) *ContextFactory {
	if clk == nil {
		clk = clock.Real{}
	}
	if gen == nil {
		gen = func() string { return uuid.NewString() }
	}
	return &ContextFactory{defaults: defaults, clock: clk, newID: gen}
}

// New creates the context for a client action. The transaction id supplied by
// the client is preserved; the message id is always freshly generated.
func (f *ContextFactory) New(action Action, client ClientContext) Context {
	txID := strings.TrimSpace(client.TransactionID)
	if txID == "" {
		txID = f.newID()
	}
	return Context{
		Domain:        firstNonEmpty(client.Domain, f.defaults.Domain),
		Country:       firstNonEmpty(client.Country, f.defaults.Country),
		City:          firstNonEmpty(client.City, f.defaults.City),
		Action:        action.String(),
		CoreVersion:   CoreVersion,
		BapID:         f.defaults.BapID,
		BapURI:        f.defaults.BapURI,
		BppID:         strings.TrimSpace(client.BppID),
		BppURI:        strings.TrimSpace(client.BppURI),
		TransactionID: txID,
		MessageID:     f.newID(),
		Timestamp:     f.clock.Now(),
		TTL:           f.defaults.TTL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
