// Package correlationstore defines persistence contracts for callback correlation.
package correlationstore

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

// Record is a single callback received from a participant. Records are never mutated.
type Record struct {
	MessageID   string
	Action      protocol.Action
	Participant string
	Context     protocol.Context
	Message     json.RawMessage
	ReceivedAt  time.Time
}

// Store is an append-only log of callbacks keyed by message id.
//
// Appends to the same key are serialized and observed by ReadAll in insertion
// order. Appends to different keys do not contend on a shared lock.
type Store interface {
	// Append adds a record to the entry for messageID, creating it when absent.
	Append(ctx context.Context, messageID string, rec Record) error
	// ReadAll returns every record for messageID in arrival order, or an empty slice.
	ReadAll(ctx context.Context, messageID string) ([]Record, error)
	// Exists reports whether messageID has been tracked or has at least one record.
	Exists(ctx context.Context, messageID string) (bool, error)
	// Track marks messageID as dispatched so that an empty entry is distinguishable from an unknown one.
	Track(ctx context.Context, messageID string, action protocol.Action) error
}
