// Package postgres implements the correlation store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
)

// CallbackStore persists callback records keyed by message id.
type CallbackStore struct {
	pool *pgxpool.Pool
}

// NewCallbackStore constructs a CallbackStore backed by the provided pool.
func NewCallbackStore(pool *pgxpool.Pool) *CallbackStore {
	return &CallbackStore{pool: pool}
}

const (
	// serializes writers of one message id without blocking other ids
	lockEntrySQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0));`

	// row-locks the entry so a concurrent retention sweep waits for the append
	ensureEntrySQL = `
INSERT INTO correlation_entries (message_id)
VALUES ($1)
ON CONFLICT (message_id)
DO UPDATE SET actions = correlation_entries.actions;
`

	insertRecordSQL = `
INSERT INTO callback_records (
    message_id,
    action,
    participant,
    context,
    message,
    received_at
)
VALUES ($1, $2, $3, $4::jsonb, $5::json, $6);
`

	listRecordsSQL = `
SELECT
    message_id,
    action,
    participant,
    context,
    message,
    received_at
FROM callback_records
WHERE message_id = $1
ORDER BY id ASC;
`

	existsEntrySQL = `
SELECT EXISTS (
    SELECT 1 FROM correlation_entries WHERE message_id = $1
);
`

	trackEntrySQL = `
INSERT INTO correlation_entries (message_id, actions)
VALUES ($1, ARRAY[$2::text])
ON CONFLICT (message_id)
DO UPDATE SET actions = array_append(correlation_entries.actions, $2::text);
`
)

// Append inserts rec under messageID inside a per-key advisory lock.
func (s *CallbackStore) Append(ctx context.Context, messageID string, rec correlationstore.Record) error {
	if s.pool == nil {
		return fmt.Errorf("callback store: nil pool")
	}
	key := strings.TrimSpace(messageID)
	if key == "" {
		return fmt.Errorf("callback store: message id required")
	}
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("callback store: encode context: %w", err)
	}
	message := []byte(rec.Message)
	if protocol.EmptyMessage(rec.Message) {
		message = []byte("{}")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("callback store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockEntrySQL, key); err != nil {
		return fmt.Errorf("callback store: lock entry: %w", err)
	}
	if _, err := tx.Exec(ctx, ensureEntrySQL, key); err != nil {
		return fmt.Errorf("callback store: ensure entry: %w", err)
	}
	if _, err := tx.Exec(ctx, insertRecordSQL,
		key,
		string(rec.Action),
		strings.TrimSpace(rec.Participant),
		contextJSON,
		message,
		rec.ReceivedAt,
	); err != nil {
		return fmt.Errorf("callback store: insert record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("callback store: commit: %w", err)
	}
	return nil
}

// ReadAll returns the records for messageID in insertion order.
func (s *CallbackStore) ReadAll(ctx context.Context, messageID string) ([]correlationstore.Record, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("callback store: nil pool")
	}
	rows, err := s.pool.Query(ctx, listRecordsSQL, strings.TrimSpace(messageID))
	if err != nil {
		return nil, fmt.Errorf("callback store: list records: %w", err)
	}
	defer rows.Close()

	records := []correlationstore.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callback store: iterate records: %w", err)
	}
	return records, nil
}

// Exists reports whether messageID was tracked or received a callback.
func (s *CallbackStore) Exists(ctx context.Context, messageID string) (bool, error) {
	if s.pool == nil {
		return false, fmt.Errorf("callback store: nil pool")
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, existsEntrySQL, strings.TrimSpace(messageID)).Scan(&exists); err != nil {
		return false, fmt.Errorf("callback store: exists: %w", err)
	}
	return exists, nil
}

// Track records a dispatch of action under messageID.
func (s *CallbackStore) Track(ctx context.Context, messageID string, action protocol.Action) error {
	if s.pool == nil {
		return fmt.Errorf("callback store: nil pool")
	}
	key := strings.TrimSpace(messageID)
	if key == "" {
		return fmt.Errorf("callback store: message id required")
	}
	if _, err := s.pool.Exec(ctx, trackEntrySQL, key, string(action)); err != nil {
		return fmt.Errorf("callback store: track: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (correlationstore.Record, error) {
	var (
		rec         correlationstore.Record
		action      string
		contextJSON []byte
		messageJSON []byte
	)
	if err := row.Scan(
		&rec.MessageID,
		&action,
		&rec.Participant,
		&contextJSON,
		&messageJSON,
		&rec.ReceivedAt,
	); err != nil {
		return correlationstore.Record{}, fmt.Errorf("callback store: scan record: %w", err)
	}
	if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
		return correlationstore.Record{}, fmt.Errorf("callback store: decode context: %w", err)
	}
	rec.Action = protocol.Action(action)
	rec.Message = json.RawMessage(messageJSON)
	rec.ReceivedAt = rec.ReceivedAt.UTC()
	return rec, nil
}

var _ correlationstore.Store = (*CallbackStore)(nil)
