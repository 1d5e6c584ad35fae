// Package redisstore implements the correlation store on Redis lists.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

const defaultPrefix = "bap:correlation:"

// CallbackStore keeps each correlation entry as a Redis list. RPUSH gives
// per-key ordering; the TTL is the retention policy.
type CallbackStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type storedRecord struct {
	Action      string           `json:"action"`
	Participant string           `json:"participant"`
	Context     protocol.Context `json:"context"`
	Message     json.RawMessage  `json:"message"`
	ReceivedAt  time.Time        `json:"received_at"`
}

// NewCallbackStore constructs a store. A zero ttl keeps entries until evicted.
func NewCallbackStore(client redis.UniversalClient, prefix string, ttl time.Duration) *CallbackStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &CallbackStore{client: client, prefix: prefix, ttl: ttl}
}

// Append pushes rec onto the list for messageID.
func (s *CallbackStore) Append(ctx context.Context, messageID string, rec correlationstore.Record) error {
	if s.client == nil {
		return fmt.Errorf("redis callback store: nil client")
	}
	key := strings.TrimSpace(messageID)
	if key == "" {
		return fmt.Errorf("redis callback store: message id required")
	}
	payload, err := json.Marshal(storedRecord{
		Action:      string(rec.Action),
		Participant: rec.Participant,
		Context:     rec.Context,
		Message:     rec.Message,
		ReceivedAt:  rec.ReceivedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("redis callback store: encode record: %w", err)
	}
	recordsKey := s.recordsKey(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, recordsKey, payload)
		if s.ttl > 0 {
			pipe.Expire(ctx, recordsKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis callback store: append: %w", err)
	}
	return nil
}

// ReadAll returns the list for messageID in push order.
func (s *CallbackStore) ReadAll(ctx context.Context, messageID string) ([]correlationstore.Record, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis callback store: nil client")
	}
	key := strings.TrimSpace(messageID)
	values, err := s.client.LRange(ctx, s.recordsKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis callback store: read: %w", err)
	}
	records := make([]correlationstore.Record, 0, len(values))
	for _, v := range values {
		var stored storedRecord
		if err := json.Unmarshal([]byte(v), &stored); err != nil {
			return nil, fmt.Errorf("redis callback store: decode record: %w", err)
		}
		records = append(records, correlationstore.Record{
			MessageID:   key,
			Action:      protocol.Action(stored.Action),
			Participant: stored.Participant,
			Context:     stored.Context,
			Message:     stored.Message,
			ReceivedAt:  stored.ReceivedAt,
		})
	}
	return records, nil
}

// Exists reports whether messageID has a tracking marker or records.
func (s *CallbackStore) Exists(ctx context.Context, messageID string) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("redis callback store: nil client")
	}
	key := strings.TrimSpace(messageID)
	n, err := s.client.Exists(ctx, s.recordsKey(key), s.trackedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis callback store: exists: %w", err)
	}
	return n > 0, nil
}

// Track records the dispatched action under messageID.
func (s *CallbackStore) Track(ctx context.Context, messageID string, action protocol.Action) error {
	if s.client == nil {
		return fmt.Errorf("redis callback store: nil client")
	}
	key := strings.TrimSpace(messageID)
	if key == "" {
		return fmt.Errorf("redis callback store: message id required")
	}
	trackedKey := s.trackedKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, trackedKey, string(action))
		if s.ttl > 0 {
			pipe.Expire(ctx, trackedKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis callback store: track: %w", err)
	}
	return nil
}

// hash tags keep both keys of an entry on one cluster slot
func (s *CallbackStore) recordsKey(messageID string) string {
	return fmt.Sprintf("%s{%s}:records", s.prefix, messageID)
}

func (s *CallbackStore) trackedKey(messageID string) string {
	return fmt.Sprintf("%s{%s}:tracked", s.prefix, messageID)
}

var _ correlationstore.Store = (*CallbackStore)(nil)
