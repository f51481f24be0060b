package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/scheduler"
	"github.com/providentiaww/taskflow/internal/staging"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_InMemory(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.CommitConfig.Delay = 10 * time.Millisecond

	b, err := Open(context.Background(), cfg, log)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &storage.MemoryStore{}, b.Store)
	assert.IsType(t, &staging.MemoryStore{}, b.Staging)
	assert.IsType(t, &scheduler.MemoryScheduler{}, b.Scheduler)
	assert.True(t, b.InProcess())
	assert.NoError(t, b.Ping(context.Background()))

	svc := NewApprovalService(cfg, b, metrics.Noop{}, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Consumer.Run(ctx, svc.CommitHandler()) }()

	task := &models.Task{Title: "wire", Status: models.StatusPendingApproval, ProjectID: 1, CreatedBy: 1}
	require.NoError(t, b.Store.CreateTask(ctx, task))
	_, err = svc.Approve(ctx, &auth.Identity{Username: "m", Role: models.RoleManager}, task.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := b.Store.GetTask(ctx, task.ID)
		return err == nil && got.CommittedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpen_Redis(t *testing.T) {
	log, _ := test.NewNullLogger()
	srv := miniredis.RunT(t)
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.StagingConfig.RedisURL = "redis://" + srv.Addr()

	b, err := Open(context.Background(), cfg, log)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &staging.RedisStore{}, b.Staging)
	assert.NoError(t, b.Ping(context.Background()))

	srv.Close()
	assert.Error(t, b.Ping(context.Background()))
}

func TestPoolConfig(t *testing.T) {
	pc := PoolConfig(config.CommitConfig{Workers: 7, MaxRetries: 2, BaseRetryDelay: time.Second})
	assert.Equal(t, 7, pc.Workers)
	assert.Equal(t, 2, pc.MaxRetries)
	assert.Equal(t, time.Second, pc.BaseRetryDelay)
}
