package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the lock only if it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps staging entries and task locks in Redis.
type RedisStore struct {
	client   redis.UniversalClient
	log      logrus.FieldLogger
	lockTTL  time.Duration
	lockWait time.Duration
	poll     time.Duration
}

// NewRedisClient parses a redis:// URL and verifies the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps client. Zero lock durations fall back to the package defaults.
func NewRedisStore(client redis.UniversalClient, log logrus.FieldLogger, lockTTL, lockWait time.Duration) *RedisStore {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &RedisStore{
		client:   client,
		log:      log,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		poll:     50 * time.Millisecond,
	}
}

func (s *RedisStore) Put(ctx context.Context, entry models.StagingEntry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(entry.TaskID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to stage task %d: %w", entry.TaskID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID int64) (*models.StagingEntry, error) {
	val, err := s.client.Get(ctx, Key(taskID)).Result()
	return decodeEntry(taskID, val, err)
}

func decodeEntry(taskID int64, val string, err error) (*models.StagingEntry, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staging entry for task %d: %w", taskID, err)
	}
	var entry models.StagingEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("corrupt staging entry for task %d: %w", taskID, err)
	}
	return &entry, nil
}

func (s *RedisStore) Delete(ctx context.Context, taskID int64) error {
	if err := s.client.Del(ctx, Key(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to clear staging entry for task %d: %w", taskID, err)
	}
	return nil
}

// Lock takes the per-task lock with SET NX PX, polling until it is free, lockWait
// elapses or ctx is done.
func (s *RedisStore) Lock(ctx context.Context, taskID int64) (func(), error) {
	key := lockKey(taskID)
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to lock task %d: %w", taskID, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
	}

	return func() {
		// The caller's context may already be cancelled; release must still happen.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
			s.log.WithError(err).WithField("task_id", taskID).Warn("failed to release task lock")
		}
	}, nil
}
