package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
)

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO projects (name, description, created_by, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Name, p.Description, p.CreatedBy, p.CreatedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	query := `
		INSERT INTO tasks
			(title, description, due_date, priority, status, project_id, assigned_to, created_by, created_at, updated_at, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		t.Title,
		t.Description,
		t.DueDate,
		t.Priority,
		t.Status,
		t.ProjectID,
		t.AssignedTo,
		t.CreatedBy,
		t.CreatedAt,
		t.UpdatedAt,
		t.CommittedAt,
	).Scan(&t.ID)
}

const taskColumns = `id, title, description, due_date, priority, status, project_id, assigned_to, created_by, created_at, updated_at, committed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		assignedTo  sql.NullInt64
		committedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.DueDate,
		&t.Priority,
		&t.Status,
		&t.ProjectID,
		&assignedTo,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&committedAt,
	)
	if err != nil {
		return nil, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.Int64
	}
	if committedAt.Valid {
		t.CommittedAt = &committedAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// conflictOrMissing explains why a guarded update touched no rows.
func (s *PostgresStore) conflictOrMissing(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, t *models.Task, from models.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, updated_at = $3, committed_at = $4 WHERE id = $1 AND status = $5`,
		t.ID, t.Status, t.UpdatedAt, t.CommittedAt, from)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.conflictOrMissing(ctx, t.ID)
	}
	return nil
}

func (s *PostgresStore) MarkCommitted(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET committed_at = $2 WHERE id = $1 AND status = $3`,
		id, at, models.StatusApproved)
	if err != nil {
		return fmt.Errorf("failed to commit task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY due_date, id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status = $1 AND created_at <= $2`, models.StatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed tasks: %w", err)
	}
	return res.RowsAffected()
}
