package staging

import (
	"context"
	"sync"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
)

type memoryEntry struct {
	entry      models.StagingEntry
	expiration time.Time
}

// taskLock is a per task mutex; refs counts holders and waiters so idle locks can be dropped.
type taskLock struct {
	ch   chan struct{}
	refs int
}

// MemoryStore is a process local Store used in single-process mode and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[int64]memoryEntry
	locks map[int64]*taskLock
	now   func() time.Time
	wait  time.Duration
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		items: make(map[int64]memoryEntry),
		locks: make(map[int64]*taskLock),
		now:   now,
		wait:  DefaultLockWait,
	}
}

func (s *MemoryStore) Put(_ context.Context, entry models.StagingEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[entry.TaskID] = memoryEntry{
		entry:      entry,
		expiration: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, taskID int64) (*models.StagingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lookup(taskID)
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(taskID int64) (*models.StagingEntry, error) {
	item, exists := s.items[taskID]
	if !exists {
		return nil, ErrNotFound
	}
	if s.now().After(item.expiration) {
		delete(s.items, taskID)
		return nil, ErrNotFound
	}
	entry := item.entry
	return &entry, nil
}

func (s *MemoryStore) Delete(_ context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, taskID)
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, taskID int64) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &taskLock{ch: make(chan struct{}, 1)}
		s.locks[taskID] = l
	}
	l.refs++
	s.mu.Unlock()

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.releaseRef(taskID, l)
		return nil, ctx.Err()
	case <-timer.C:
		s.releaseRef(taskID, l)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.releaseRef(taskID, l)
		})
	}, nil
}

func (s *MemoryStore) releaseRef(taskID int64, l *taskLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 && s.locks[taskID] == l {
		delete(s.locks, taskID)
	}
}

// lockCount returns the number of lock entries currently tracked.
func (s *MemoryStore) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for _, item := range s.items {
		if !now.After(item.expiration) {
			n++
		}
	}
	return n
}
