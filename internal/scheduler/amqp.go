package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/providentiaww/taskflow/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DefaultQueuePrefix names the commit queues when no prefix is configured.
const DefaultQueuePrefix = "taskflow.commit"

// Queue names derived from a prefix. Jobs wait in a delay queue whose queue level TTL matches
// their delay, then RabbitMQ dead-letters them into the ready queue. Every message in one delay
// queue shares the same TTL, so expiry order is arrival order and a short retry never waits
// behind a longer commit delay.
func readyQueue(prefix string) string { return prefix + ".ready" }

func delayQueue(prefix string, delay time.Duration) string {
	return prefix + ".delay." + strconv.FormatInt(delayMillis(delay), 10)
}

// delayMillis renders a delay as the millisecond TTL RabbitMQ expects.
func delayMillis(delay time.Duration) int64 {
	if delay < 0 {
		return 0
	}
	return delay.Milliseconds()
}

func declareReadyQueue(ch *amqp.Channel, prefix string) error {
	if _, err := ch.QueueDeclare(readyQueue(prefix), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", readyQueue(prefix), err)
	}
	return nil
}

func declareDelayQueue(ch *amqp.Channel, prefix string, delay time.Duration) error {
	args := amqp.Table{
		"x-message-ttl":             delayMillis(delay),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": readyQueue(prefix),
	}
	if _, err := ch.QueueDeclare(delayQueue(prefix, delay), true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare %s: %w", delayQueue(prefix, delay), err)
	}
	return nil
}

// Dial connects to RabbitMQ.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// AMQPScheduler publishes commit jobs into per delay queues.
type AMQPScheduler struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	prefix   string
	declared map[string]bool
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewAMQPScheduler opens a channel on conn and declares the queues.
func NewAMQPScheduler(conn *amqp.Connection, prefix string, log logrus.FieldLogger) (*AMQPScheduler, error) {
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareReadyQueue(ch, prefix); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AMQPScheduler{
		ch:       ch,
		prefix:   prefix,
		declared: map[string]bool{},
		log:      log,
		now:      time.Now,
	}, nil
}

func (s *AMQPScheduler) Schedule(ctx context.Context, taskID int64, delay time.Duration) error {
	return s.publish(ctx, newJob(taskID, s.now(), delay), delay)
}

func (s *AMQPScheduler) publish(ctx context.Context, job models.CommitJob, delay time.Duration) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := readyQueue(s.prefix)
	if delayMillis(delay) > 0 {
		queue = delayQueue(s.prefix, delay)
		if !s.declared[queue] {
			if err := declareDelayQueue(s.ch, s.prefix, delay); err != nil {
				return err
			}
			s.declared[queue] = true
		}
	}

	err = s.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish commit job for task %d: %w", job.TaskID, err)
	}
	s.log.WithFields(logrus.Fields{
		"task_id": job.TaskID,
		"attempt": job.Attempt,
		"delay":   delay.String(),
		"queue":   queue,
	}).Debug("commit job scheduled")
	return nil
}

// Close closes the publishing channel.
func (s *AMQPScheduler) Close() error {
	return s.ch.Close()
}

// AMQPConsumer consumes the ready queue with a pool of workers.
type AMQPConsumer struct {
	conn    *amqp.Connection
	prefix  string
	cfg     PoolConfig
	log     logrus.FieldLogger
	publish func(ctx context.Context, job models.CommitJob, delay time.Duration) error
}

// NewAMQPConsumer creates a consumer. Failed jobs are re-published through sched.
func NewAMQPConsumer(conn *amqp.Connection, sched *AMQPScheduler, cfg PoolConfig, log logrus.FieldLogger) *AMQPConsumer {
	return &AMQPConsumer{
		conn:    conn,
		prefix:  sched.prefix,
		cfg:     cfg.withDefaults(),
		log:     log,
		publish: sched.publish,
	}
}

// Run blocks until ctx is done or the broker closes the delivery stream.
func (c *AMQPConsumer) Run(ctx context.Context, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := declareReadyQueue(ch, c.prefix); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Workers, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(readyQueue(c.prefix), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", readyQueue(c.prefix), err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	closed := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := c.log.WithField("worker", id)
			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						closed <- struct{}{}
						return
					}
					c.process(workerCtx, log, d, handler)
				}
			}
		}(i + 1)
	}
	c.log.Infof("commit consumer started with %d workers on %s", c.cfg.Workers, readyQueue(c.prefix))

	select {
	case <-ctx.Done():
		cancel()
		wg.Wait()
		return nil
	case <-closed:
		cancel()
		wg.Wait()
		return fmt.Errorf("delivery channel closed by broker")
	}
}

func (c *AMQPConsumer) process(ctx context.Context, log logrus.FieldLogger, d amqp.Delivery, handler Handler) {
	job, err := decodeJob(d.Body)
	if err != nil {
		log.WithError(err).Error("dropping malformed commit job")
		if err := d.Nack(false, false); err != nil {
			log.WithError(err).Warn("failed to nack message")
		}
		return
	}
	log = log.WithFields(logrus.Fields{"task_id": job.TaskID, "attempt": job.Attempt})

	processCtx, cancel := context.WithTimeout(ctx, c.cfg.ProcessTimeout)
	err = handler(processCtx, job)
	cancel()

	if err == nil {
		if err := d.Ack(false); err != nil {
			log.WithError(err).Warn("failed to ack message")
		}
		return
	}

	job.Attempt++
	if job.Attempt > c.cfg.MaxRetries {
		log.WithError(err).Errorf("commit job dropped after %d retries", c.cfg.MaxRetries)
		if err := d.Ack(false); err != nil {
			log.WithError(err).Warn("failed to ack message")
		}
		return
	}

	delay := c.cfg.retryDelay(job.Attempt)
	if perr := c.publish(ctx, job, delay); perr != nil {
		log.WithError(perr).Error("failed to re-publish commit job, requeueing")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Warn("failed to nack message")
		}
		return
	}
	log.WithError(err).Warnf("commit job failed, retrying in %v", delay)
	if err := d.Ack(false); err != nil {
		log.WithError(err).Warn("failed to ack message")
	}
}
