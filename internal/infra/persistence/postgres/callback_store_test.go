package postgres

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

func TestCallbackStoreNilPool(t *testing.T) {
	store := NewCallbackStore(nil)
	ctx := context.Background()
	rec := correlationstore.Record{
		Action:  protocol.ActionSearch,
		Message: json.RawMessage(`{"catalog":{}}`),
	}
	if err := store.Append(ctx, "m-1", rec); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ReadAll(ctx, "m-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.Exists(ctx, "m-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Track(ctx, "m-1", protocol.ActionSearch); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestNewCleanerRequiresPool(t *testing.T) {
	if _, err := NewCleaner(nil, CleanerOptions{}); err == nil {
		t.Fatal("expected error when pool nil")
	}
}

func TestObservePoolMetricsNilPool(t *testing.T) {
	if err := ObservePoolMetrics(nil, ""); err != nil {
		t.Fatalf("expected nil pool to be ignored, got %v", err)
	}
}
