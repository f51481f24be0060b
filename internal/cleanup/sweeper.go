// Package cleanup removes Completed tasks once they are older than the retention period.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetention = 2 * 24 * time.Hour
	// DefaultSchedule runs the sweep every night at 03:00.
	DefaultSchedule = "0 0 3 * * *"
)

type Config struct {
	Retention time.Duration
	// Schedule is a six field cron expression (with seconds) or a descriptor like "@every 1h".
	Schedule string
	Location *time.Location
}

// Sweeper wraps the cron job deleting old Completed tasks.
type Sweeper struct {
	tasks     storage.TaskStore
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	log       logrus.FieldLogger
	metrics   metrics.API
	now       func() time.Time
}

func NewSweeper(tasks storage.TaskStore, cfg Config, log logrus.FieldLogger, m metrics.API) *Sweeper {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Sweeper{
		tasks:     tasks,
		retention: cfg.Retention,
		schedule:  cfg.Schedule,
		cron:      cron.New(cron.WithLocation(cfg.Location), cron.WithSeconds()),
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Sweep deletes Completed tasks created at or before now minus the retention.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.tasks.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed tasks: %w", err)
	}
	s.metrics.TasksSwept(n)
	s.log.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff}).Info("completed task sweep finished")
	return n, nil
}

// Start registers the sweep and starts the cron scheduler. Each run is bounded by ctx.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := s.Sweep(runCtx); err != nil {
			s.log.WithError(err).Error("completed task sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
