// Package app opens the backing services selected by the configuration and builds the
// approval workflow on top of them.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/providentiaww/taskflow/internal/approval"
	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/lifecycle"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/scheduler"
	"github.com/providentiaww/taskflow/internal/staging"
	"github.com/providentiaww/taskflow/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backends holds the opened stores, the commit scheduler and its consumer.
type Backends struct {
	Store     storage.Store
	Staging   staging.Store
	Scheduler scheduler.Scheduler
	Consumer  scheduler.Consumer

	redis   *redis.Client
	amqp    *amqp.Connection
	closers []func() error
	log     logrus.FieldLogger
}

// Open connects to Postgres, Redis and RabbitMQ when their URLs are configured and falls
// back to in-process implementations otherwise. The in-process scheduler only works when
// the consumer runs in the same process.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Backends, error) {
	b := &Backends{log: log}
	if err := b.open(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg *config.Config) error {
	if url := cfg.DBConfig.URL; url != "" {
		pg, err := storage.NewPostgresStore(ctx, url, storage.PoolSettings{
			MaxOpenConns:    cfg.DBConfig.MaxOpenConns,
			MaxIdleConns:    cfg.DBConfig.MaxIdleConns,
			ConnMaxLifetime: cfg.DBConfig.ConnMaxLifetime,
		}, b.log.WithField("pkg", "storage"))
		if err != nil {
			return err
		}
		b.Store = pg
	} else {
		b.log.Warn("DATABASE_URL not set, using in-memory storage")
		b.Store = storage.NewMemoryStore(nil)
	}
	b.closers = append(b.closers, b.Store.Close)

	if err := storage.LoadSeedFile(ctx, cfg.DBConfig.SeedFile, b.Store); err != nil {
		return err
	}

	if url := cfg.StagingConfig.RedisURL; url != "" {
		client, err := staging.NewRedisClient(ctx, url)
		if err != nil {
			return err
		}
		b.redis = client
		b.closers = append(b.closers, client.Close)
		b.Staging = staging.NewRedisStore(client, b.log.WithField("pkg", "staging"),
			cfg.StagingConfig.LockTTL, cfg.StagingConfig.LockWait)
	} else {
		b.log.Warn("REDIS_URL not set, using in-memory staging")
		b.Staging = staging.NewMemoryStore(nil)
	}

	pool := PoolConfig(cfg.CommitConfig)
	if url := cfg.CommitConfig.AMQPURL; url != "" {
		conn, err := scheduler.Dial(url)
		if err != nil {
			return err
		}
		b.amqp = conn
		b.closers = append(b.closers, conn.Close)

		sched, err := scheduler.NewAMQPScheduler(conn, cfg.CommitConfig.QueuePrefix, b.log.WithField("pkg", "scheduler"))
		if err != nil {
			return err
		}
		b.closers = append(b.closers, sched.Close)
		b.Scheduler = sched
		b.Consumer = scheduler.NewAMQPConsumer(conn, sched, pool, b.log.WithField("pkg", "commit-worker"))
	} else {
		b.log.Warn("AMQP_URL not set, using in-process commit scheduler")
		mem := scheduler.NewMemoryScheduler(pool, b.log.WithField("pkg", "commit-worker"))
		b.Scheduler = mem
		b.Consumer = mem
	}
	return nil
}

// InProcess reports whether the scheduler lives in this process, in which case the
// consumer must run here too.
func (b *Backends) InProcess() bool {
	return b.amqp == nil
}

// Ping checks the remote services.
func (b *Backends) Ping(ctx context.Context) error {
	if err := b.Store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if b.redis != nil {
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if b.amqp != nil && b.amqp.IsClosed() {
		return errors.New("amqp: connection closed")
	}
	return nil
}

// Close releases everything in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.log.WithError(err).Warn("failed to close backend")
		}
	}
	b.closers = nil
}

// PoolConfig converts the commit configuration to consumer settings.
func PoolConfig(c config.CommitConfig) scheduler.PoolConfig {
	return scheduler.PoolConfig{
		Workers:        c.Workers,
		MaxRetries:     c.MaxRetries,
		BaseRetryDelay: c.BaseRetryDelay,
		MaxRetryDelay:  c.MaxRetryDelay,
		ProcessTimeout: c.ProcessTimeout,
	}
}

// NewApprovalService builds the workflow over b.
func NewApprovalService(cfg *config.Config, b *Backends, m metrics.API, log logrus.FieldLogger) *approval.Service {
	return approval.NewService(b.Store, b.Staging, b.Scheduler, lifecycle.NewMachine(), approval.Config{
		StagingTTL:  cfg.StagingConfig.TTL,
		CommitDelay: cfg.CommitConfig.Delay,
		CommitGrace: cfg.CommitConfig.Grace,
	}, log.WithField("pkg", "approval"), approval.WithMetrics(m))
}
