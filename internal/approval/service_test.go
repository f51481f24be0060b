package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/lifecycle"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/scheduler"
	"github.com/providentiaww/taskflow/internal/staging"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	manager = &auth.Identity{UserID: 1, Username: "mona", Role: models.RoleManager, Roles: []string{models.RoleManager}}
	member  = &auth.Identity{UserID: 2, Username: "uma", Role: models.RoleUser, Roles: []string{models.RoleUser}}
	admin   = &auth.Identity{UserID: 3, Username: "ada", Role: models.RoleAdmin, Roles: []string{models.RoleAdmin}}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingStaging struct {
	*staging.MemoryStore
	puts    int
	lastTTL time.Duration
	putErr  error
}

func (r *recordingStaging) Put(ctx context.Context, entry models.StagingEntry, ttl time.Duration) error {
	r.puts++
	r.lastTTL = ttl
	if r.putErr != nil {
		return r.putErr
	}
	return r.MemoryStore.Put(ctx, entry, ttl)
}

type scheduled struct {
	taskID int64
	delay  time.Duration
}

type fakeScheduler struct {
	jobs []scheduled
	err  error
}

func (f *fakeScheduler) Schedule(_ context.Context, taskID int64, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, scheduled{taskID: taskID, delay: delay})
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	actions  map[string]int
	outcomes map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{actions: map[string]int{}, outcomes: map[string]int{}}
}

func (f *fakeMetrics) ApprovalAction(action, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[action+"/"+result]++
}

func (f *fakeMetrics) CommitOutcome(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[outcome]++
}

func (f *fakeMetrics) TasksSwept(int64)               {}
func (f *fakeMetrics) Duration(string, time.Duration) {}

type harness struct {
	svc     *Service
	store   *storage.MemoryStore
	staging *recordingStaging
	sched   *fakeScheduler
	clock   *clock
	metrics *fakeMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	c := &clock{now: time.Date(2026, 5, 4, 21, 0, 0, 0, time.UTC)}
	h := &harness{
		store:   storage.NewMemoryStore(c.Now),
		staging: &recordingStaging{MemoryStore: staging.NewMemoryStore(c.Now)},
		sched:   &fakeScheduler{},
		clock:   c,
		metrics: newFakeMetrics(),
	}
	h.svc = NewService(h.store, h.staging, h.sched, lifecycle.NewMachine(), DefaultConfig(), log,
		WithClock(c.Now), WithMetrics(h.metrics))
	return h
}

func (h *harness) task(t *testing.T, id int64, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        id,
		Title:     "Quarterly report",
		DueDate:   h.clock.Now().Add(72 * time.Hour),
		Status:    status,
		ProjectID: 1,
		CreatedBy: 1,
	}
	require.NoError(t, h.store.CreateTask(context.Background(), task))
	return task
}

func (h *harness) status(t *testing.T, id int64) models.TaskStatus {
	t.Helper()
	got, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return got.Status
}

func (h *harness) staged(id int64) bool {
	_, err := h.staging.Get(context.Background(), id)
	return err == nil
}

func TestApprove_StagesAndSchedules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 7, models.StatusPendingApproval)

	task, err := h.svc.Approve(ctx, manager, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, task.Status)
	assert.Equal(t, models.StatusApproved, h.status(t, 7))

	entry, err := h.staging.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.TaskID)
	assert.Equal(t, "Quarterly report", entry.Title)
	assert.Equal(t, models.StatusApproved, entry.Status)
	assert.Equal(t, h.clock.Now(), entry.StagedAt)

	assert.GreaterOrEqual(t, h.staging.lastTTL, 300*time.Second)
	assert.LessOrEqual(t, h.staging.lastTTL, 330*time.Second)
	require.Len(t, h.sched.jobs, 1)
	assert.Equal(t, scheduled{taskID: 7, delay: 300 * time.Second}, h.sched.jobs[0])
	assert.Equal(t, 1, h.metrics.actions["approve/success"])
}

func TestApprove_RequiresPendingApproval(t *testing.T) {
	for _, status := range []models.TaskStatus{
		models.StatusPending,
		models.StatusInProgress,
		models.StatusCompleted,
		models.StatusApproved,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			h.task(t, 1, status)

			_, err := h.svc.Approve(context.Background(), manager, 1)
			assert.ErrorIs(t, err, ErrNotPendingApproval)
			assert.Equal(t, status, h.status(t, 1))
			assert.Zero(t, h.staging.puts)
			assert.Empty(t, h.sched.jobs)
		})
	}
}

func TestApprove_ManagerOnly(t *testing.T) {
	for name, who := range map[string]*auth.Identity{"user": member, "admin": admin, "anonymous": nil} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.task(t, 1, models.StatusPendingApproval)

			_, err := h.svc.Approve(context.Background(), who, 1)
			assert.ErrorIs(t, err, ErrPermissionDenied)
			assert.Equal(t, models.StatusPendingApproval, h.status(t, 1))
			assert.Zero(t, h.staging.puts)
			assert.Empty(t, h.sched.jobs)
		})
	}
}

// The primary role decides, not an extra role carried in the claims.
func TestApprove_PrimaryRoleDecides(t *testing.T) {
	h := newHarness(t)
	h.task(t, 1, models.StatusPendingApproval)
	who := &auth.Identity{Username: "x", Role: models.RoleUser, Roles: []string{models.RoleUser, models.RoleManager}}

	_, err := h.svc.Approve(context.Background(), who, 1)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestApprove_MissingTask(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Approve(context.Background(), manager, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApprove_RollsBackWhenSchedulingFails(t *testing.T) {
	h := newHarness(t)
	h.task(t, 1, models.StatusPendingApproval)
	h.sched.err = errors.New("broker unavailable")

	_, err := h.svc.Approve(context.Background(), manager, 1)
	require.Error(t, err)
	assert.Equal(t, models.StatusPendingApproval, h.status(t, 1))
	assert.False(t, h.staged(1))
}

func TestApprove_RollsBackWhenStagingFails(t *testing.T) {
	h := newHarness(t)
	h.task(t, 1, models.StatusPendingApproval)
	h.staging.putErr = errors.New("redis down")

	_, err := h.svc.Approve(context.Background(), manager, 1)
	require.Error(t, err)
	assert.Equal(t, models.StatusPendingApproval, h.status(t, 1))
	assert.Empty(t, h.sched.jobs)
}

func TestRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 5, models.StatusPendingApproval)
	_, err := h.svc.Approve(ctx, manager, 5)
	require.NoError(t, err)

	task, err := h.svc.Revoke(ctx, member, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, task.Status)
	assert.Equal(t, models.StatusPendingApproval, h.status(t, 5))
	assert.False(t, h.staged(5))

	outcome, err := h.svc.Commit(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)

	got, err := h.store.GetTask(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, got.Status)
	assert.Nil(t, got.CommittedAt)
}

func TestRevoke_WithoutStagingEntry(t *testing.T) {
	h := newHarness(t)
	h.task(t, 5, models.StatusApproved)

	_, err := h.svc.Revoke(context.Background(), manager, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, h.status(t, 5))
}

func TestRevoke_RequiresApproved(t *testing.T) {
	for _, status := range []models.TaskStatus{
		models.StatusPending,
		models.StatusInProgress,
		models.StatusCompleted,
		models.StatusPendingApproval,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			h.task(t, 1, status)

			_, err := h.svc.Revoke(context.Background(), manager, 1)
			assert.ErrorIs(t, err, ErrNotApproved)
			assert.Equal(t, status, h.status(t, 1))
		})
	}
}

func TestCommit_FinalizesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 3, models.StatusPendingApproval)
	_, err := h.svc.Approve(ctx, manager, 3)
	require.NoError(t, err)

	h.clock.Advance(300 * time.Second)
	outcome, err := h.svc.Commit(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)
	assert.False(t, h.staged(3))

	got, err := h.store.GetTask(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	require.NotNil(t, got.CommittedAt)
	assert.Equal(t, h.clock.Now(), *got.CommittedAt)

	outcome, err = h.svc.Commit(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)

	again, err := h.store.GetTask(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, h.metrics.outcomes[string(OutcomeCommitted)])
	assert.Equal(t, 1, h.metrics.outcomes[string(OutcomeNotFound)])
}

func TestCommit_TaskDeletedExternally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 3, models.StatusPendingApproval)
	_, err := h.svc.Approve(ctx, manager, 3)
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteTask(ctx, 3))

	outcome, err := h.svc.Commit(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)
	assert.False(t, h.staged(3))
}

func TestCommit_DiscardsTaskNoLongerApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, 3, models.StatusInProgress)
	require.NoError(t, h.staging.MemoryStore.Put(ctx, models.NewStagingEntry(task, h.clock.Now()), time.Minute))

	outcome, err := h.svc.Commit(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)
	assert.False(t, h.staged(3))

	_, err = h.store.GetTask(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCommit_NothingStaged(t *testing.T) {
	h := newHarness(t)
	h.task(t, 3, models.StatusApproved)

	outcome, err := h.svc.Commit(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.Equal(t, models.StatusApproved, h.status(t, 3))
}

func TestCommitHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 8, models.StatusPendingApproval)
	_, err := h.svc.Approve(ctx, manager, 8)
	require.NoError(t, err)

	require.NoError(t, h.svc.CommitHandler()(ctx, models.CommitJob{TaskID: 8}))
	got, err := h.store.GetTask(ctx, 8)
	require.NoError(t, err)
	assert.NotNil(t, got.CommittedAt)
}

// Approve at t=0, revoke at t=100, the scheduled commit fires at t=300 and changes nothing.
func TestApproveRevokeCommitTimeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 42, models.StatusPendingApproval)

	_, err := h.svc.Approve(ctx, manager, 42)
	require.NoError(t, err)
	assert.True(t, h.staged(42))
	assert.Equal(t, models.StatusApproved, h.status(t, 42))

	h.clock.Advance(100 * time.Second)
	_, err = h.svc.Revoke(ctx, manager, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, h.status(t, 42))
	assert.False(t, h.staged(42))

	h.clock.Advance(200 * time.Second)
	require.Len(t, h.sched.jobs, 1)
	require.NoError(t, h.svc.CommitHandler()(ctx, models.CommitJob{TaskID: h.sched.jobs[0].taskID}))

	got, err := h.store.GetTask(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, got.Status)
	assert.Nil(t, got.CommittedAt)
}

func TestApprove_ThroughMemoryScheduler(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := storage.NewMemoryStore(nil)
	sched := scheduler.NewMemoryScheduler(scheduler.DefaultPoolConfig(), log)
	cfg := Config{StagingTTL: time.Minute, CommitDelay: 20 * time.Millisecond, CommitGrace: time.Minute}
	svc := NewService(store, staging.NewMemoryStore(nil), sched, lifecycle.NewMachine(), cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx, svc.CommitHandler()) }()

	task := &models.Task{Title: "Ship", Status: models.StatusPendingApproval, ProjectID: 1, CreatedBy: 1}
	require.NoError(t, store.CreateTask(ctx, task))
	_, err := svc.Approve(ctx, manager, task.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := store.GetTask(ctx, task.ID)
		return err == nil && got.CommittedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 1, models.StatusPending)

	task, err := h.svc.Transition(ctx, member, 1, "start")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, task.Status)

	task, err = h.svc.Transition(ctx, member, 1, "Submit")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, task.Status)
	assert.Equal(t, models.StatusPendingApproval, h.status(t, 1))

	_, err = h.svc.Transition(ctx, member, 1, "complete")
	var te *lifecycle.TransitionError
	assert.ErrorAs(t, err, &te)

	_, err = h.svc.Transition(ctx, member, 1, "approve")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_CompleteAfterCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.task(t, 7, models.StatusPendingApproval)

	_, err := h.svc.Approve(ctx, manager, 7)
	require.NoError(t, err)

	// Still waiting for its commit.
	_, err = h.svc.Transition(ctx, member, 7, "complete")
	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.StatusApproved, h.status(t, 7))

	h.clock.Advance(300 * time.Second)
	outcome, err := h.svc.Commit(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, outcome)

	task, err := h.svc.Transition(ctx, member, 7, "complete")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)

	got, err := h.store.GetTask(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.CommittedAt)

	_, err = h.svc.Revoke(ctx, manager, 7)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestPending(t *testing.T) {
	h := newHarness(t)
	h.task(t, 1, models.StatusPendingApproval)
	h.task(t, 2, models.StatusPending)
	h.task(t, 3, models.StatusPendingApproval)

	tasks, err := h.svc.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, models.StatusPendingApproval, task.Status)
	}
}

func TestConfig_StagingOutlivesCommitDelay(t *testing.T) {
	assert.Equal(t, 330*time.Second, DefaultConfig().stagingTTL())
	assert.Equal(t, time.Hour, Config{StagingTTL: time.Hour, CommitDelay: time.Minute}.stagingTTL())
}
