// Package staging holds approval snapshots between the moment a task is approved and the
// moment its deferred commit runs. Entries expire on their own; the commit action consumes
// them and a revoke deletes them early.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
)

const (
	// DefaultTTL is how long an approval stays staged.
	DefaultTTL = 300 * time.Second
	// DefaultLockTTL bounds how long a crashed holder can keep a task locked.
	DefaultLockTTL = 30 * time.Second
	// DefaultLockWait is how long Lock waits for a busy task before giving up.
	DefaultLockWait = 5 * time.Second
)

var (
	ErrNotFound    = errors.New("staging entry not found")
	ErrLockTimeout = errors.New("timed out waiting for task lock")
)

// Store is a TTL keyed store of staging entries plus a per-task advisory lock shared by
// approve, revoke and commit.
type Store interface {
	Put(ctx context.Context, entry models.StagingEntry, ttl time.Duration) error
	Get(ctx context.Context, taskID int64) (*models.StagingEntry, error)
	Delete(ctx context.Context, taskID int64) error
	Lock(ctx context.Context, taskID int64) (unlock func(), err error)
}

// Key returns the staging key of a task.
func Key(taskID int64) string {
	return fmt.Sprintf("task:%d", taskID)
}

func lockKey(taskID int64) string {
	return fmt.Sprintf("lock:task:%d", taskID)
}
