package storage

import (
	"context"
	"errors"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned by compare-and-swap updates whose expected status no longer matches.
	ErrStatusConflict = errors.New("task status changed concurrently")
	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("already exists")
)

// TaskStore persists projects and tasks.
type TaskStore interface {
	CreateProject(ctx context.Context, p *models.Project) error
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	// CompareAndSetStatus writes t's status, updated_at and committed_at only if the stored
	// status still equals from.
	CompareAndSetStatus(ctx context.Context, t *models.Task, from models.TaskStatus) error
	// MarkCommitted sets committed_at on a task that is still Approved.
	MarkCommitted(ctx context.Context, id int64, at time.Time) error
	DeleteTask(ctx context.Context, id int64) error
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	// DeleteCompletedBefore removes Completed tasks created at or before cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// RevocationStore is the append-only record of revoked token hashes.
type RevocationStore interface {
	AddRevokedToken(ctx context.Context, tokenHash string) error
	HasRevokedToken(ctx context.Context, tokenHash string) (bool, error)
}

// Store is everything the services need from the relational backend.
type Store interface {
	TaskStore
	UserStore
	RevocationStore
	Ping(ctx context.Context) error
	Close() error
}
