package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/beckn-gateway/internal/domain/correlationstore"
	"github.com/coachpo/beckn-gateway/internal/infra/config"
	"github.com/coachpo/beckn-gateway/internal/infra/persistence"
	"github.com/coachpo/beckn-gateway/internal/infra/persistence/memory"
	"github.com/coachpo/beckn-gateway/internal/infra/persistence/migrations"
	"github.com/coachpo/beckn-gateway/internal/infra/persistence/postgres"
	"github.com/coachpo/beckn-gateway/internal/infra/persistence/redisstore"
)

type storeBackend struct {
	store  correlationstore.Store
	health func(context.Context) error
	closer func()
}

func (b *storeBackend) close(context.Context) error {
	if b.closer != nil {
		b.closer()
	}
	return nil
}

// openStore selects the correlation backend. Background maintenance joins lifecycle
// and stops when ctx is cancelled.
func openStore(ctx context.Context, cfg config.AppConfig, lifecycle *conc.WaitGroup, logger *logrus.Logger) (*storeBackend, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "correlation",
		"backend":   cfg.Correlation.Backend,
	})

	switch cfg.Correlation.Backend {
	case config.BackendMemory, "":
		log.Info("using in-memory correlation store")
		return &storeBackend{store: memory.NewCallbackStore()}, nil

	case config.BackendPostgres:
		if cfg.Database.RunMigrations {
			if err := migrations.ApplyEmbedded(ctx, cfg.Database.DSN, logger.WithField("component", "migrate")); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		pool, err := persistence.OpenPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.ObservePoolMetrics(pool, "correlation"); err != nil {
			log.WithError(err).Warn("pool metrics unavailable")
		}
		cleaner, err := postgres.NewCleaner(pool, postgres.CleanerOptions{
			Interval:  cfg.Correlation.SweepInterval,
			Retention: cfg.Correlation.Retention,
			Logger:    log,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		lifecycle.Go(func() {
			if err := cleaner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("retention sweep stopped")
			}
		})
		log.Info("using postgres correlation store")
		return &storeBackend{
			store:  postgres.NewCallbackStore(pool),
			health: pool.Ping,
			closer: pool.Close,
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Info("using redis correlation store")
		return &storeBackend{
			store: redisstore.NewCallbackStore(client, cfg.Redis.KeyPrefix, cfg.Correlation.Retention),
			health: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			closer: func() { _ = client.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported correlation backend %q", cfg.Correlation.Backend)
	}
}
