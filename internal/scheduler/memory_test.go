package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []models.CommitJob
	at   []time.Time
	fail map[int64]int
	done chan struct{}
	want int
}

func newRecorder(want int) *recorder {
	return &recorder{fail: map[int64]int{}, done: make(chan struct{}), want: want}
}

func (r *recorder) handle(_ context.Context, job models.CommitJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen = append(r.seen, job)
	r.at = append(r.at, time.Now())
	if len(r.seen) == r.want {
		close(r.done)
	}
	if r.fail[job.TaskID] > 0 {
		r.fail[job.TaskID]--
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
}

func startMemory(t *testing.T, cfg PoolConfig, h Handler) *MemoryScheduler {
	t.Helper()
	log, _ := test.NewNullLogger()
	s := NewMemoryScheduler(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = s.Run(ctx, h)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return s
}

func TestMemoryScheduler_FiresInDueOrder(t *testing.T) {
	rec := newRecorder(3)
	s := startMemory(t, DefaultPoolConfig(), rec.handle)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, s.Schedule(ctx, 3, 90*time.Millisecond))
	require.NoError(t, s.Schedule(ctx, 1, 30*time.Millisecond))
	require.NoError(t, s.Schedule(ctx, 2, 60*time.Millisecond))
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.seen, 3)
	assert.Equal(t, int64(1), rec.seen[0].TaskID)
	assert.Equal(t, int64(2), rec.seen[1].TaskID)
	assert.Equal(t, int64(3), rec.seen[2].TaskID)
	assert.GreaterOrEqual(t, rec.at[0].Sub(start), 30*time.Millisecond)
	assert.GreaterOrEqual(t, rec.at[2].Sub(start), 90*time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestMemoryScheduler_ScheduleBeforeRun(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewMemoryScheduler(DefaultPoolConfig(), log)
	require.NoError(t, s.Schedule(context.Background(), 9, 0))
	assert.Equal(t, 1, s.Pending())

	rec := newRecorder(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, rec.handle) }()
	rec.wait(t)
}

func TestMemoryScheduler_Retries(t *testing.T) {
	cfg := PoolConfig{MaxRetries: 2, BaseRetryDelay: 5 * time.Millisecond, MaxRetryDelay: 20 * time.Millisecond}
	rec := newRecorder(3)
	rec.fail[7] = 2
	s := startMemory(t, cfg, rec.handle)

	require.NoError(t, s.Schedule(context.Background(), 7, 0))
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 0, rec.seen[0].Attempt)
	assert.Equal(t, 1, rec.seen[1].Attempt)
	assert.Equal(t, 2, rec.seen[2].Attempt)
}

func TestMemoryScheduler_DropsAfterMaxRetries(t *testing.T) {
	cfg := PoolConfig{MaxRetries: 1, BaseRetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}
	rec := newRecorder(2)
	rec.fail[4] = 10
	s := startMemory(t, cfg, rec.handle)

	require.NoError(t, s.Schedule(context.Background(), 4, 0))
	rec.wait(t)

	time.Sleep(30 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.seen, 2)
	assert.Equal(t, 0, s.Pending())
}
