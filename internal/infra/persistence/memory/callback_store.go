// Package memory provides an in-process correlation store.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

// CallbackStore keeps correlation entries for the lifetime of the process.
type CallbackStore struct {
	entries sync.Map // map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	actions []protocol.Action
	records []correlationstore.Record
}

var _ correlationstore.Store = (*CallbackStore)(nil)

// NewCallbackStore creates an empty memory-backed store.
func NewCallbackStore() *CallbackStore {
	return new(CallbackStore)
}

// Append adds rec to the entry for messageID.
func (s *CallbackStore) Append(ctx context.Context, messageID string, rec correlationstore.Record) error {
	key, err := normaliseKey(messageID)
	if err != nil {
		return err
	}
	if err := ctxErr(ctx, "append"); err != nil {
		return err
	}
	e := s.entry(key)
	rec.MessageID = key
	e.mu.Lock()
	e.records = append(e.records, rec)
	e.mu.Unlock()
	return nil
}

// ReadAll returns a copy of the records for messageID in arrival order.
func (s *CallbackStore) ReadAll(ctx context.Context, messageID string) ([]correlationstore.Record, error) {
	key, err := normaliseKey(messageID)
	if err != nil {
		return nil, err
	}
	if err := ctxErr(ctx, "read"); err != nil {
		return nil, err
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return []correlationstore.Record{}, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]correlationstore.Record, len(e.records))
	copy(out, e.records)
	return out, nil
}

// Exists reports whether messageID was tracked or has records.
func (s *CallbackStore) Exists(ctx context.Context, messageID string) (bool, error) {
	key, err := normaliseKey(messageID)
	if err != nil {
		return false, err
	}
	if err := ctxErr(ctx, "exists"); err != nil {
		return false, err
	}
	_, ok := s.entries.Load(key)
	return ok, nil
}

// Track registers messageID as dispatched for action.
func (s *CallbackStore) Track(ctx context.Context, messageID string, action protocol.Action) error {
	key, err := normaliseKey(messageID)
	if err != nil {
		return err
	}
	if err := ctxErr(ctx, "track"); err != nil {
		return err
	}
	e := s.entry(key)
	e.mu.Lock()
	e.actions = append(e.actions, action)
	e.mu.Unlock()
	return nil
}

func (s *CallbackStore) entry(key string) *entry {
	if v, ok := s.entries.Load(key); ok {
		return v.(*entry)
	}
	v, _ := s.entries.LoadOrStore(key, new(entry))
	return v.(*entry)
}

func normaliseKey(messageID string) (string, error) {
	key := strings.TrimSpace(messageID)
	if key == "" {
		return "", errs.New("correlation/memory", errs.CodeInvalid, errs.WithMessage("message id required"))
	}
	return key, nil
}

func ctxErr(ctx context.Context, op string) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("memory store %s context: %w", op, ctx.Err())
	default:
		return nil
	}
}
