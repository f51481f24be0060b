// Package config loads process configuration from the environment and the access policy file.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type LogConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

const LogFormatJSON = "json"

type DBConfig struct {
	URL             string        `envconfig:"DATABASE_URL" default:""`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	SeedFile        string        `envconfig:"SEED_FILE" default:""`
}

type StagingConfig struct {
	RedisURL string        `envconfig:"REDIS_URL" default:""`
	TTL      time.Duration `envconfig:"STAGING_TTL" default:"300s"`
	LockTTL  time.Duration `envconfig:"TASK_LOCK_TTL" default:"30s"`
	LockWait time.Duration `envconfig:"TASK_LOCK_WAIT" default:"5s"`
}

type CommitConfig struct {
	AMQPURL        string        `envconfig:"AMQP_URL" default:""`
	QueuePrefix    string        `envconfig:"COMMIT_QUEUE_PREFIX" default:"taskflow.commit"`
	Delay          time.Duration `envconfig:"COMMIT_DELAY" default:"300s"`
	Grace          time.Duration `envconfig:"COMMIT_GRACE" default:"30s"`
	Workers        int           `envconfig:"COMMIT_WORKERS" default:"3"`
	MaxRetries     int           `envconfig:"COMMIT_MAX_RETRIES" default:"5"`
	BaseRetryDelay time.Duration `envconfig:"COMMIT_RETRY_BASE" default:"1s"`
	MaxRetryDelay  time.Duration `envconfig:"COMMIT_RETRY_MAX" default:"1m"`
	ProcessTimeout time.Duration `envconfig:"COMMIT_PROCESS_TIMEOUT" default:"30s"`
}

type TokenConfig struct {
	Secret          string        `envconfig:"TOKEN_SECRET" default:""`
	Issuer          string        `envconfig:"TOKEN_ISSUER" default:"taskflow"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
}

type AccessConfig struct {
	PolicyFile  string   `envconfig:"ACCESS_POLICY_FILE" default:""`
	TimeZone    string   `envconfig:"TIME_ZONE" default:"UTC"`
	LoginStart  string   `envconfig:"LOGIN_WINDOW_START" default:"01:00"`
	LoginEnd    string   `envconfig:"LOGIN_WINDOW_END" default:"20:00"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

type CleanupConfig struct {
	RetentionDays int    `envconfig:"TASK_RETENTION_DAYS" default:"2"`
	Schedule      string `envconfig:"CLEANUP_SCHEDULE" default:"0 0 3 * * *"`
}

// Config is the full process configuration.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	// RunWorker runs the commit consumer inside the API process.
	RunWorker bool `envconfig:"RUN_COMMIT_WORKER" default:"false"`

	LogConfig     LogConfig
	DBConfig      DBConfig
	StagingConfig StagingConfig
	CommitConfig  CommitConfig
	TokenConfig   TokenConfig
	AccessConfig  AccessConfig
	CleanupConfig CleanupConfig
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &cfg, nil
}

// Location resolves TIME_ZONE.
func (c *AccessConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Retention converts the retention in days to a duration.
func (c *CleanupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
