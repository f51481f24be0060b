package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
	"github.com/sirupsen/logrus"
)

type delayedJob struct {
	due time.Time
	seq uint64
	job models.CommitJob
}

// jobHeap orders jobs by due time, then by insertion order.
type jobHeap []delayedJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(delayedJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryScheduler is an in-process Scheduler and Consumer backed by a delay heap and a
// single worker. Pending jobs are lost when the process exits.
type MemoryScheduler struct {
	mu   sync.Mutex
	jobs jobHeap
	seq  uint64
	wake chan struct{}
	cfg  PoolConfig
	log  logrus.FieldLogger
}

func NewMemoryScheduler(cfg PoolConfig, log logrus.FieldLogger) *MemoryScheduler {
	return &MemoryScheduler{
		wake: make(chan struct{}, 1),
		cfg:  cfg.withDefaults(),
		log:  log,
	}
}

func (s *MemoryScheduler) Schedule(_ context.Context, taskID int64, delay time.Duration) error {
	s.push(newJob(taskID, time.Now(), delay), delay)
	return nil
}

func (s *MemoryScheduler) push(job models.CommitJob, delay time.Duration) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.jobs, delayedJob{due: time.Now().Add(delay), seq: s.seq, job: job})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of jobs not yet delivered.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Len()
}

// next pops the earliest job if it is due, otherwise reports how long to wait.
func (s *MemoryScheduler) next(now time.Time) (models.CommitJob, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs.Len() == 0 {
		return models.CommitJob{}, -1, false
	}
	head := s.jobs[0]
	if head.due.After(now) {
		return models.CommitJob{}, head.due.Sub(now), false
	}
	heap.Pop(&s.jobs)
	return head.job, 0, true
}

func (s *MemoryScheduler) Run(ctx context.Context, handler Handler) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		job, wait, ok := s.next(time.Now())
		if ok {
			s.deliver(ctx, job, handler)
			continue
		}

		var fire <-chan time.Time
		if wait >= 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-fire:
		}
	}
}

func (s *MemoryScheduler) deliver(ctx context.Context, job models.CommitJob, handler Handler) {
	log := s.log.WithFields(logrus.Fields{"task_id": job.TaskID, "attempt": job.Attempt})

	processCtx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	err := handler(processCtx, job)
	cancel()
	if err == nil {
		return
	}

	job.Attempt++
	if job.Attempt > s.cfg.MaxRetries {
		log.WithError(err).Errorf("commit job dropped after %d retries", s.cfg.MaxRetries)
		return
	}
	delay := s.cfg.retryDelay(job.Attempt)
	log.WithError(err).Warnf("commit job failed, retrying in %v", delay)
	s.push(job, delay)
}
