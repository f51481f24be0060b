// Package scheduler delivers commit jobs once their delay has elapsed.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
)

// DefaultDelay is the time between an approval and its commit.
const DefaultDelay = 300 * time.Second

// Handler processes one due job. A returned error schedules a retry.
type Handler func(ctx context.Context, job models.CommitJob) error

// Scheduler enqueues a future commit job for a task.
type Scheduler interface {
	Schedule(ctx context.Context, taskID int64, delay time.Duration) error
}

// Consumer delivers due jobs to a handler until ctx is done.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
}

// PoolConfig holds consumer configuration.
type PoolConfig struct {
	Workers        int
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	ProcessTimeout time.Duration
}

// DefaultPoolConfig returns the default consumer configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:        3,
		MaxRetries:     5,
		BaseRetryDelay: time.Second,
		MaxRetryDelay:  time.Minute,
		ProcessTimeout: 30 * time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = d.BaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	return c
}

// retryDelay is BaseRetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func (c PoolConfig) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.MaxRetryDelay) {
		return c.MaxRetryDelay
	}
	return time.Duration(delay)
}

func newJob(taskID int64, now time.Time, delay time.Duration) models.CommitJob {
	return models.CommitJob{
		TaskID:      taskID,
		ScheduledAt: now.Add(delay).UTC(),
	}
}

func encodeJob(job models.CommitJob) ([]byte, error) {
	return json.Marshal(job)
}

func decodeJob(body []byte) (models.CommitJob, error) {
	var job models.CommitJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("invalid commit job payload: %w", err)
	}
	if job.TaskID == 0 {
		return job, fmt.Errorf("commit job without task id")
	}
	return job, nil
}
