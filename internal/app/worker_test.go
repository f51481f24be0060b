package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/scheduler"
	"github.com/providentiaww/taskflow/internal/staging"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConsumer struct {
	run func(ctx context.Context) error
}

func (s stubConsumer) Run(ctx context.Context, _ scheduler.Handler) error {
	return s.run(ctx)
}

func startStubWorker(t *testing.T, ctx context.Context, consumer scheduler.Consumer) *Worker {
	t.Helper()
	log, _ := test.NewNullLogger()
	cfg, err := config.Load()
	require.NoError(t, err)

	b := &Backends{
		Store:     storage.NewMemoryStore(nil),
		Staging:   staging.NewMemoryStore(nil),
		Scheduler: scheduler.NewMemoryScheduler(scheduler.DefaultPoolConfig(), log),
		Consumer:  consumer,
		log:       log,
	}
	svc := NewApprovalService(cfg, b, metrics.Noop{}, log)
	w, err := StartWorker(ctx, cfg, b, svc, metrics.Noop{}, time.UTC, log)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func waitDone(t *testing.T, w *Worker) error {
	t.Helper()
	select {
	case err := <-w.Done():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reported")
		return nil
	}
}

func TestWorker_ReportsConsumerFailure(t *testing.T) {
	broken := errors.New("delivery channel closed by broker")
	w := startStubWorker(t, context.Background(), stubConsumer{run: func(context.Context) error {
		return broken
	}})

	assert.ErrorIs(t, waitDone(t, w), broken)
}

func TestWorker_ReportsEarlyCleanExit(t *testing.T) {
	w := startStubWorker(t, context.Background(), stubConsumer{run: func(context.Context) error {
		return nil
	}})

	assert.ErrorIs(t, waitDone(t, w), ErrConsumerExited)
}

func TestWorker_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := startStubWorker(t, ctx, stubConsumer{run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}})

	select {
	case err := <-w.Done():
		t.Fatalf("worker reported before cancel: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	assert.NoError(t, waitDone(t, w))
}
