package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable ActionStore: a client-resident write-ahead file.
// SQLite in WAL mode with a single writer connection keeps appends cheap and
// the file consistent across crashes.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// NewSQLiteStore opens (or creates) the queue file at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queued_actions (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT UNIQUE NOT NULL,
		action_type     TEXT NOT NULL,
		target_path     TEXT NOT NULL,
		http_method     TEXT NOT NULL,
		payload         BLOB,
		status          TEXT NOT NULL,
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		next_attempt_at TIMESTAMP NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		CHECK(status IN ('pending', 'in-flight', 'failed', 'completed')),
		CHECK(attempt_count >= 0)
	);
	CREATE INDEX IF NOT EXISTS idx_queued_actions_status ON queued_actions(status, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, a *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_actions
			(id, action_type, target_path, http_method, payload, status, attempt_count, last_error, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ActionType, a.TargetPath, a.Method, a.Payload, a.Status,
		a.AttemptCount, a.LastError, a.NextAttemptAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanAction(row)
}

func (s *SQLiteStore) OldestPending(ctx context.Context) (*Action, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE status = ? ORDER BY seq LIMIT 1`, ActionStatusPending)
	a, err := scanAction(row)
	if errors.Is(err, ErrActionNotFound) {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) MarkInFlight(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE queued_actions SET status = ?, updated_at = ? WHERE id = ?`,
		ActionStatusInFlight, time.Now(), id)
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE queued_actions SET status = ?, updated_at = ? WHERE id = ?`,
		ActionStatusCompleted, time.Now(), id)
}

func (s *SQLiteStore) MarkPending(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error {
	return s.exec(ctx, `
		UPDATE queued_actions
		SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, ActionStatusPending, attempts, nextAttempt, lastError, time.Now(), id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return s.exec(ctx, `
		UPDATE queued_actions
		SET status = ?, attempt_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, ActionStatusFailed, attempts, lastError, time.Now(), id)
}

func (s *SQLiteStore) ResetInFlight(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE queued_actions SET status = ?, updated_at = ? WHERE status = ?`,
		ActionStatusPending, time.Now(), ActionStatusInFlight)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM queued_actions WHERE id = ?`, id)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status string) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE status = ? ORDER BY seq`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneCompleted(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM queued_actions
		WHERE status = ? AND seq NOT IN (
			SELECT seq FROM queued_actions WHERE status = ? ORDER BY seq DESC LIMIT ?
		)
	`, ActionStatusCompleted, ActionStatusCompleted, keep)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrActionNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, action_type, target_path, http_method, payload, status,
	       attempt_count, last_error, next_attempt_at, created_at, updated_at
	FROM queued_actions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*Action, error) {
	var a Action
	err := row.Scan(
		&a.ID, &a.ActionType, &a.TargetPath, &a.Method, &a.Payload, &a.Status,
		&a.AttemptCount, &a.LastError, &a.NextAttemptAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
