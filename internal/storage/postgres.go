package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/sirupsen/logrus"
)

// PoolSettings bounds the database connection pool.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, applies pool limits and creates the schema if needed.
func NewPostgresStore(ctx context.Context, connectionString string, pool PoolSettings, log logrus.FieldLogger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 25
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 5
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Info("connected to postgres")

	store := &PostgresStore{db: db, log: log}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(150) NOT NULL UNIQUE,
		email VARCHAR(254) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'User',
		password_hash TEXT NOT NULL,
		access_start VARCHAR(5) NOT NULL DEFAULT '',
		access_end VARCHAR(5) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS projects (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due_date TIMESTAMPTZ NOT NULL,
		priority VARCHAR(10) NOT NULL DEFAULT 'Medium',
		status VARCHAR(20) NOT NULL DEFAULT 'Pending',
		project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		assigned_to BIGINT REFERENCES users(id) ON DELETE SET NULL,
		created_by BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		committed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		id BIGSERIAL PRIMARY KEY,
		token_hash CHAR(64) NOT NULL UNIQUE,
		revoked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Ping tests the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (username, email, role, password_hash, access_start, access_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		u.Username,
		u.Email,
		u.Role,
		u.PasswordHash,
		u.AccessStart,
		u.AccessEnd,
		u.CreatedAt,
	).Scan(&u.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
	}
	return err
}

const userColumns = `id, username, email, role, password_hash, access_start, access_end, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.PasswordHash, &u.AccessStart, &u.AccessEnd, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) AddRevokedToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_hash, revoked_at) VALUES ($1, NOW()) ON CONFLICT (token_hash) DO NOTHING`,
		tokenHash)
	return err
}

func (s *PostgresStore) HasRevokedToken(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_hash = $1)`,
		tokenHash).Scan(&exists)
	return exists, err
}
