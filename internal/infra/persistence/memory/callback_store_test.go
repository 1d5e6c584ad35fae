package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

func record(participant string, seq int) correlationstore.Record {
	return correlationstore.Record{
		Action:      protocol.ActionSearch,
		Participant: participant,
		Message:     json.RawMessage(fmt.Sprintf(`{"seq":%d}`, seq)),
		ReceivedAt:  time.Unix(int64(seq), 0).UTC(),
	}
}

func TestReadAllUnknownKeyIsEmpty(t *testing.T) {
	store := NewCallbackStore()
	recs, err := store.ReadAll(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
	ok, err := store.Exists(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected missing key to not exist, got %v %v", ok, err)
	}
}

func TestAppendPreservesInsertionOrder(t *testing.T) {
	store := NewCallbackStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, "m-1", record("bpp", i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	recs, err := store.ReadAll(ctx, "m-1")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if want := fmt.Sprintf(`{"seq":%d}`, i); string(rec.Message) != want {
			t.Fatalf("record %d out of order: %s", i, rec.Message)
		}
		if rec.MessageID != "m-1" {
			t.Fatalf("expected message id to be stamped, got %q", rec.MessageID)
		}
	}
}

func TestTrackMakesKeyExistWithoutRecords(t *testing.T) {
	store := NewCallbackStore()
	ctx := context.Background()
	if err := store.Track(ctx, "m-2", protocol.ActionInit); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	ok, err := store.Exists(ctx, "m-2")
	if err != nil || !ok {
		t.Fatalf("expected tracked key to exist, got %v %v", ok, err)
	}
	recs, _ := store.ReadAll(ctx, "m-2")
	if len(recs) != 0 {
		t.Fatalf("expected tracked key to have no records, got %d", len(recs))
	}
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	store := NewCallbackStore()
	ctx := context.Background()
	const writers = 16
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := "shared"
				if i%2 == 0 {
					key = fmt.Sprintf("own-%d", w)
				}
				if err := store.Append(ctx, key, record(fmt.Sprintf("bpp-%d", w), i)); err != nil {
					t.Errorf("Append() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	shared, _ := store.ReadAll(ctx, "shared")
	if len(shared) != writers*perWriter/2 {
		t.Fatalf("expected %d shared records, got %d", writers*perWriter/2, len(shared))
	}
	// per-writer order is preserved within the shared key
	last := map[string]int{}
	for _, rec := range shared {
		var body struct{ Seq int }
		if err := json.Unmarshal(rec.Message, &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if prev, ok := last[rec.Participant]; ok && body.Seq <= prev {
			t.Fatalf("writer %s observed out of order: %d after %d", rec.Participant, body.Seq, prev)
		}
		last[rec.Participant] = body.Seq
	}
	for w := 0; w < writers; w++ {
		own, _ := store.ReadAll(ctx, fmt.Sprintf("own-%d", w))
		if len(own) != perWriter/2 {
			t.Fatalf("writer %d: expected %d records, got %d", w, perWriter/2, len(own))
		}
	}
}

func TestEmptyMessageIDRejected(t *testing.T) {
	store := NewCallbackStore()
	if err := store.Append(context.Background(), "  ", record("bpp", 0)); err == nil {
		t.Fatal("expected error for empty message id")
	}
}
