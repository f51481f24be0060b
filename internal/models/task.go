package models

import "time"

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	StatusPending         TaskStatus = "Pending"
	StatusInProgress      TaskStatus = "In Progress"
	StatusCompleted       TaskStatus = "Completed"
	StatusPendingApproval TaskStatus = "Pending Approval"
	StatusApproved        TaskStatus = "Approved"
)

// Priority of a task
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Task represents a unit of work inside a project
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     time.Time  `json:"due_date"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	ProjectID   int64      `json:"project_id"`
	AssignedTo  *int64     `json:"assigned_to,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"` // set once a deferred commit finalizes the approval
}

// Project groups tasks
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// StagingEntry is the snapshot kept in the staging store between approval and commit.
// It marks intent only; the commit decision is always taken on the live task row.
type StagingEntry struct {
	TaskID      int64      `json:"task_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StagedAt    time.Time  `json:"staged_at"`
}

// NewStagingEntry snapshots the fields of a task at approval time
func NewStagingEntry(t *Task, now time.Time) StagingEntry {
	return StagingEntry{
		TaskID:      t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		StagedAt:    now,
	}
}

// CommitJob is the payload of a deferred commit message
type CommitJob struct {
	TaskID      int64     `json:"task_id"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduled_at"`
}
