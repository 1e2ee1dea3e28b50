package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/cvpost/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		text_chars INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_finished_at ON attempts(finished_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status);
	CREATE INDEX IF NOT EXISTS idx_attempts_fingerprint ON attempts(fingerprint);
	`
	_, err := db.Exec(schema)
	return err
}

const attemptColumns = `id, file_name, kind, status, error_message, text_chars, fingerprint, started_at, finished_at`

// RecordAttempt inserts a finished attempt. Recording the same ID again replaces it.
func (s *SQLiteStorage) RecordAttempt(ctx context.Context, a *models.Attempt) error {
	if a.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if a.FinishedAt.IsZero() {
		a.FinishedAt = time.Now()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = a.FinishedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FileName, a.Kind, a.Status, a.ErrorMessage, a.TextChars, a.Fingerprint, a.StartedAt.UTC(), a.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *SQLiteStorage) GetAttempt(ctx context.Context, id string) (*models.Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAttempts returns attempts newest first, filtered by q.Status and q.Fingerprint when set.
func (s *SQLiteStorage) ListAttempts(ctx context.Context, q *models.AttemptQuery) ([]*models.Attempt, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ` + attemptColumns + ` FROM attempts`
	var where []string
	args := []any{}
	if q.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, q.Status)
	}
	if q.Fingerprint != "" {
		where = append(where, `fingerprint = ?`)
		args = append(args, q.Fingerprint)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY finished_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountAttempts returns the number of attempts with the given status, or all attempts
// when status is empty.
func (s *SQLiteStorage) CountAttempts(ctx context.Context, status string) (int64, error) {
	var count int64
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE status = ?`, status).Scan(&count)
	}
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (*models.Attempt, error) {
	var a models.Attempt
	if err := r.Scan(&a.ID, &a.FileName, &a.Kind, &a.Status, &a.ErrorMessage, &a.TextChars, &a.Fingerprint, &a.StartedAt, &a.FinishedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
