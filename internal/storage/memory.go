package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
)

// MemoryStore is a process local Store for single-process mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]models.User
	projects map[int64]models.Project
	tasks    map[int64]models.Task
	revoked  map[string]time.Time
	lastID   int64
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		users:    make(map[int64]models.User),
		projects: make(map[int64]models.Project),
		tasks:    make(map[int64]models.Task),
		revoked:  make(map[string]time.Time),
		now:      now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

// nextID must be called with mu held.
func (s *MemoryStore) nextID() int64 {
	s.lastID++
	return s.lastID
}

func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	if u.ID == 0 {
		u.ID = s.nextID()
	} else if u.ID > s.lastID {
		s.lastID = u.ID
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.ID == 0 {
		p.ID = s.nextID()
	} else if p.ID > s.lastID {
		s.lastID = p.ID
	}
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) CreateTask(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
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
	if t.ID == 0 {
		t.ID = s.nextID()
	} else if t.ID > s.lastID {
		s.lastID = t.ID
	}
	s.tasks[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id int64) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, t *models.Task, from models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrStatusConflict
	}
	stored.Status = t.Status
	stored.UpdatedAt = t.UpdatedAt
	stored.CommittedAt = t.CommittedAt
	s.tasks[t.ID] = stored
	return nil
}

func (s *MemoryStore) MarkCommitted(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != models.StatusApproved {
		return ErrStatusConflict
	}
	stored.CommittedAt = &at
	s.tasks[id] = stored
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) ListTasksByStatus(_ context.Context, status models.TaskStatus) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := []models.Task{}
	for _, t := range s.tasks {
		if t.Status == status {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].DueDate.Equal(tasks[j].DueDate) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].DueDate.Before(tasks[j].DueDate)
	})
	return tasks, nil
}

func (s *MemoryStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Status == models.StatusCompleted && !t.CreatedAt.After(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AddRevokedToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.revoked[tokenHash]; !ok {
		s.revoked[tokenHash] = s.now().UTC()
	}
	return nil
}

func (s *MemoryStore) HasRevokedToken(_ context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.revoked[tokenHash]
	return ok, nil
}
