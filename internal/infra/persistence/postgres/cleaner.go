package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/beckn-gateway/internal/infra/logging"
)

// callback_records cascade on entry deletion.
const purgeEntriesSQL = `
DELETE FROM correlation_entries
WHERE created_at < $1;
`

// CleanerOptions controls the retention sweep of correlation entries.
type CleanerOptions struct {
	Interval  time.Duration
	Retention time.Duration
	Logger    *logrus.Entry
}

func (o *CleanerOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// Cleaner removes correlation entries older than the retention window.
type Cleaner struct {
	pool *pgxpool.Pool
	opts CleanerOptions
	now  func() time.Time
}

// NewCleaner constructs a Cleaner. A zero retention disables sweeping.
func NewCleaner(pool *pgxpool.Pool, opts CleanerOptions) (*Cleaner, error) {
	if pool == nil {
		return nil, fmt.Errorf("callback cleaner: pool is required")
	}
	opts.setDefaults()
	return &Cleaner{pool: pool, opts: opts, now: time.Now}, nil
}

// Run sweeps on every interval tick until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	if c.opts.Retention <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		removed, err := c.Purge(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.WithError(err).Warn("correlation: cleaner tick failed")
			continue
		}
		if removed > 0 {
			c.opts.Logger.WithField("entries", removed).Debug("correlation: expired entries removed")
		}
	}
}

// Purge deletes entries created before now minus retention and returns how many were removed.
func (c *Cleaner) Purge(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.opts.Retention)

	tag, err := c.pool.Exec(ctx, purgeEntriesSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("callback cleaner: delete entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
