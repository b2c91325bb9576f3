package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/ashureev/synthtutor/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to keep SQLITE_BUSY rare
	retry   shared.RetryPolicy
	now     func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers alongside the single writer.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS resume_records (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		topic_a TEXT NOT NULL,
		topic_b TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resume_saved ON resume_records(saved_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveResume creates or replaces a device's resume record.
// Lock contention is retried with exponential backoff.
func (s *SQLiteStore) SaveResume(ctx context.Context, userID string, rec domain.ResponseRecord) error {
	query := `
	INSERT INTO resume_records (user_id, name, topic_a, topic_b, saved_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		topic_a = excluded.topic_a,
		topic_b = excluded.topic_b,
		saved_at = excluded.saved_at,
		updated_at = excluded.updated_at`

	savedAt := rec.Timestamp
	if savedAt.IsZero() {
		savedAt = s.now()
	}

	return shared.RetryOnConflict(ctx, s.retry, "save resume record", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			userID, rec.Name, rec.Responses.TopicA, rec.Responses.TopicB,
			savedAt.UnixMilli(), s.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert resume record: %w", err)
		}
		return nil
	})
}

// LoadResume retrieves a device's resume record if it is still fresh.
func (s *SQLiteStore) LoadResume(ctx context.Context, userID string, maxAge time.Duration) (domain.ResponseRecord, error) {
	if maxAge <= 0 {
		maxAge = DefaultResumeMaxAge
	}
	query := `
		SELECT name, topic_a, topic_b, saved_at
		FROM resume_records WHERE user_id = ? AND saved_at >= ?`

	threshold := s.now().Add(-maxAge).UnixMilli()
	row := s.db.QueryRowContext(ctx, query, userID, threshold)

	var rec domain.ResponseRecord
	var savedAt int64
	err := row.Scan(&rec.Name, &rec.Responses.TopicA, &rec.Responses.TopicB, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ResponseRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.ResponseRecord{}, fmt.Errorf("scan resume record: %w", err)
	}
	rec.Timestamp = time.UnixMilli(savedAt)
	return rec, nil
}

// PurgeStaleResumes removes records older than maxAge.
func (s *SQLiteStore) PurgeStaleResumes(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultResumeMaxAge
	}
	threshold := s.now().Add(-maxAge).UnixMilli()

	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "purge resume records", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, `DELETE FROM resume_records WHERE saved_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("purge resume records: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
