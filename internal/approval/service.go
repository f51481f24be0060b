// Package approval implements the approve, revoke and deferred commit workflow on top of
// the lifecycle machine, the staging store and the commit scheduler.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/providentiaww/taskflow/internal/auth"
	"github.com/providentiaww/taskflow/internal/lifecycle"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/scheduler"
	"github.com/providentiaww/taskflow/internal/staging"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotPendingApproval = errors.New("task is not pending approval")
	ErrNotApproved        = errors.New("task is not approved")
	ErrInvalidTransition  = errors.New("invalid transition")
)

// Outcome is the result of a commit run.
type Outcome string

const (
	// OutcomeNotFound means no staging entry existed, so the approval was revoked or already handled.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeDiscarded means the task was gone or no longer approved.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeCommitted means the approval was finalized.
	OutcomeCommitted Outcome = "committed"
)

// Config holds the workflow timings.
type Config struct {
	StagingTTL  time.Duration
	CommitDelay time.Duration
	// CommitGrace keeps the staging entry alive past the commit delay so that a
	// late or retried commit still finds it.
	CommitGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		StagingTTL:  staging.DefaultTTL,
		CommitDelay: scheduler.DefaultDelay,
		CommitGrace: 30 * time.Second,
	}
}

// stagingTTL is the configured TTL, stretched to outlive the commit delay.
func (c Config) stagingTTL() time.Duration {
	if floor := c.CommitDelay + c.CommitGrace; c.StagingTTL < floor {
		return floor
	}
	return c.StagingTTL
}

// Service runs the approval workflow.
type Service struct {
	tasks     storage.TaskStore
	staging   staging.Store
	scheduler scheduler.Scheduler
	machine   *lifecycle.Machine
	cfg       Config
	log       logrus.FieldLogger
	metrics   metrics.API
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m metrics.API) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(tasks storage.TaskStore, stage staging.Store, sched scheduler.Scheduler, machine *lifecycle.Machine,
	cfg Config, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		tasks:     tasks,
		staging:   stage,
		scheduler: sched,
		machine:   machine,
		cfg:       cfg,
		log:       log,
		metrics:   metrics.Noop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Approve moves a Pending Approval task to Approved, stages a snapshot and schedules the
// deferred commit. Only a Manager may approve.
func (s *Service) Approve(ctx context.Context, who *auth.Identity, taskID int64) (*models.Task, error) {
	start := s.now()
	defer func() { s.metrics.Duration("approve", s.now().Sub(start)) }()
	log := s.log.WithField("task_id", taskID)

	if who == nil || who.Role != models.RoleManager {
		s.metrics.ApprovalAction("approve", "denied")
		return nil, ErrPermissionDenied
	}

	unlock, err := s.staging.Lock(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %d: %w", taskID, err)
	}
	defer unlock()

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	from, err := s.machine.Run(lifecycle.TransitionTypeApprove, task, now)
	if err != nil {
		return nil, s.rejected("approve", err, ErrNotPendingApproval)
	}
	if err := s.tasks.CompareAndSetStatus(ctx, task, from); err != nil {
		return nil, s.rejected("approve", err, ErrNotPendingApproval)
	}

	if err := s.staging.Put(ctx, models.NewStagingEntry(task, now), s.cfg.stagingTTL()); err != nil {
		s.rollback(ctx, task, from, log)
		return nil, fmt.Errorf("failed to stage task %d: %w", taskID, err)
	}

	if err := s.scheduler.Schedule(ctx, taskID, s.cfg.CommitDelay); err != nil {
		if derr := s.staging.Delete(ctx, taskID); derr != nil {
			log.WithError(derr).Warn("failed to clear staging entry after scheduling failure")
		}
		s.rollback(ctx, task, from, log)
		return nil, fmt.Errorf("failed to schedule commit of task %d: %w", taskID, err)
	}

	log.WithField("approved_by", who.Username).Info("task approved, commit scheduled")
	s.metrics.ApprovalAction("approve", "success")
	return task, nil
}

// Revoke moves an Approved task back to Pending Approval and drops its staging entry.
// The already scheduled commit stays queued and finds nothing to do.
func (s *Service) Revoke(ctx context.Context, who *auth.Identity, taskID int64) (*models.Task, error) {
	log := s.log.WithField("task_id", taskID)

	unlock, err := s.staging.Lock(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %d: %w", taskID, err)
	}
	defer unlock()

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	from, err := s.machine.Run(lifecycle.TransitionTypeRevoke, task, s.now().UTC())
	if err != nil {
		return nil, s.rejected("revoke", err, ErrNotApproved)
	}
	if err := s.tasks.CompareAndSetStatus(ctx, task, from); err != nil {
		return nil, s.rejected("revoke", err, ErrNotApproved)
	}

	if err := s.staging.Delete(ctx, taskID); err != nil {
		log.WithError(err).Warn("failed to clear staging entry, the commit will discard it")
	}

	if who != nil {
		log = log.WithField("revoked_by", who.Username)
	}
	log.Info("task approval revoked")
	s.metrics.ApprovalAction("revoke", "success")
	return task, nil
}

// Commit finalizes or discards a staged approval. It is safe to run more than once.
func (s *Service) Commit(ctx context.Context, taskID int64) (Outcome, error) {
	start := s.now()
	defer func() { s.metrics.Duration("commit", s.now().Sub(start)) }()
	log := s.log.WithField("task_id", taskID)

	unlock, err := s.staging.Lock(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("failed to lock task %d: %w", taskID, err)
	}
	defer unlock()

	if _, err := s.staging.Get(ctx, taskID); err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return s.finish(log, OutcomeNotFound), nil
		}
		return "", fmt.Errorf("failed to read staging entry of task %d: %w", taskID, err)
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.finish(log, s.clear(ctx, taskID, OutcomeDiscarded, log)), nil
	case err != nil:
		return "", err
	}

	if task.Status == models.StatusApproved {
		if err := s.tasks.MarkCommitted(ctx, taskID, s.now().UTC()); err != nil {
			return "", fmt.Errorf("failed to commit task %d: %w", taskID, err)
		}
		return s.finish(log, s.clear(ctx, taskID, OutcomeCommitted, log)), nil
	}

	if err := s.tasks.DeleteTask(ctx, taskID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to discard task %d: %w", taskID, err)
	}
	return s.finish(log.WithField("status", task.Status), s.clear(ctx, taskID, OutcomeDiscarded, log)), nil
}

// CommitHandler adapts Commit to the scheduler consumer.
func (s *Service) CommitHandler() scheduler.Handler {
	return func(ctx context.Context, job models.CommitJob) error {
		_, err := s.Commit(ctx, job.TaskID)
		return err
	}
}

// Pending lists the tasks waiting for a manager decision.
func (s *Service) Pending(ctx context.Context) ([]models.Task, error) {
	return s.tasks.ListTasksByStatus(ctx, models.StatusPendingApproval)
}

// Transition applies one of the non-approval lifecycle transitions by name.
func (s *Service) Transition(ctx context.Context, who *auth.Identity, taskID int64, name string) (*models.Task, error) {
	transition, ok := lifecycle.ParseTransition(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidTransition)
	}

	unlock, err := s.staging.Lock(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %d: %w", taskID, err)
	}
	defer unlock()

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	from, err := s.machine.Run(transition, task, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.tasks.CompareAndSetStatus(ctx, task, from); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, &lifecycle.TransitionError{Transition: transition, From: from}
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"task_id":    taskID,
		"transition": transition,
		"user":       username(who),
	}).Info("task transitioned")
	s.metrics.ApprovalAction(string(transition), "success")
	return task, nil
}

// rejected maps a disallowed transition or a lost compare-and-swap to sentinel.
func (s *Service) rejected(action string, err error, sentinel error) error {
	var te *lifecycle.TransitionError
	if errors.As(err, &te) || errors.Is(err, storage.ErrStatusConflict) {
		s.metrics.ApprovalAction(action, "rejected")
		return sentinel
	}
	return err
}

func (s *Service) rollback(ctx context.Context, task *models.Task, from models.TaskStatus, log logrus.FieldLogger) {
	to := task.Status
	task.Status = from
	task.UpdatedAt = s.now().UTC()
	if err := s.tasks.CompareAndSetStatus(ctx, task, to); err != nil {
		log.WithError(err).Error("failed to roll back task status")
	}
}

func (s *Service) clear(ctx context.Context, taskID int64, outcome Outcome, log logrus.FieldLogger) Outcome {
	if err := s.staging.Delete(ctx, taskID); err != nil {
		log.WithError(err).Warn("failed to clear staging entry, it will expire")
	}
	return outcome
}

func (s *Service) finish(log logrus.FieldLogger, outcome Outcome) Outcome {
	log.WithField("outcome", outcome).Info("deferred commit finished")
	s.metrics.CommitOutcome(string(outcome))
	return outcome
}

func username(who *auth.Identity) string {
	if who == nil {
		return ""
	}
	return who.Username
}
