package app

import (
	"context"
	"errors"
	"time"

	"github.com/providentiaww/taskflow/internal/approval"
	"github.com/providentiaww/taskflow/internal/cleanup"
	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/sirupsen/logrus"
)

// ErrConsumerExited is reported when the commit consumer returns while its context is still live.
var ErrConsumerExited = errors.New("commit consumer exited")

// Worker is the running commit consumer and completed task sweeper.
type Worker struct {
	sweeper *cleanup.Sweeper
	done    chan error
}

// Done delivers the consumer result once it stops: nil after ctx is cancelled, an error when
// the consumer failed on its own. Callers exit on an error so the process can be restarted.
func (w *Worker) Done() <-chan error {
	return w.done
}

// Stop stops the sweeper. The consumer stops with the context passed to StartWorker.
func (w *Worker) Stop() {
	w.sweeper.Stop()
}

// StartWorker starts the completed task sweeper and runs the commit consumer in the
// background until ctx is done or the consumer fails.
func StartWorker(ctx context.Context, cfg *config.Config, b *Backends, svc *approval.Service,
	m metrics.API, loc *time.Location, log logrus.FieldLogger) (*Worker, error) {
	sweeper := cleanup.NewSweeper(b.Store, cleanup.Config{
		Retention: cfg.CleanupConfig.Retention(),
		Schedule:  cfg.CleanupConfig.Schedule,
		Location:  loc,
	}, log.WithField("pkg", "cleanup"), m)
	if err := sweeper.Start(ctx); err != nil {
		return nil, err
	}

	w := &Worker{sweeper: sweeper, done: make(chan error, 1)}
	go func() {
		err := b.Consumer.Run(ctx, svc.CommitHandler())
		if err == nil && ctx.Err() == nil {
			err = ErrConsumerExited
		}
		if err != nil {
			log.WithError(err).Error("commit consumer stopped")
		}
		w.done <- err
	}()
	return w, nil
}
