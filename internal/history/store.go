// Package history records login attempts in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peterje/steamsession/internal/models"
)

// ErrNotFound is returned when an attempt does not exist.
var ErrNotFound = errors.New("attempt not found")

// reasonAbandoned marks attempts left open by a previous run.
const reasonAbandoned = "abandoned: service stopped before the attempt finished"

// Store reads and writes the login_attempts table.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened and migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Begin inserts a new attempt in the launching state.
func (s *Store) Begin(ctx context.Context, id, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO login_attempts (id, username, state, started_at) VALUES (?, ?, 'launching', ?)`,
		id, username, at.UTC())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// SetState records the latest state of an open attempt.
func (s *Store) SetState(ctx context.Context, id, state string) error {
	return s.update(ctx, `UPDATE login_attempts SET state = ? WHERE id = ? AND finished_at IS NULL`, state, id)
}

// MarkCodeRequested notes that a Steam Guard code was asked for.
func (s *Store) MarkCodeRequested(ctx context.Context, id string) error {
	return s.update(ctx, `UPDATE login_attempts SET code_requested = 1 WHERE id = ?`, id)
}

// Finish closes an attempt with its outcome.
func (s *Store) Finish(ctx context.Context, id string, success bool, reason string, at time.Time) error {
	return s.update(ctx,
		`UPDATE login_attempts SET success = ?, reason = ?, finished_at = ? WHERE id = ? AND finished_at IS NULL`,
		success, reason, at.UTC(), id)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one attempt.
func (s *Store) Get(ctx context.Context, id string) (models.Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, state, success, reason, code_requested, started_at, finished_at
		FROM login_attempts WHERE id = ?`, id)
	a, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Attempt{}, ErrNotFound
	}
	return a, err
}

// List returns the most recent attempts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]models.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, state, success, reason, code_requested, started_at, finished_at
		FROM login_attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []models.Attempt{}
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// MarkAbandoned closes every attempt still open from a previous run and
// returns how many were closed.
func (s *Store) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE login_attempts SET state = 'terminated', reason = ?, finished_at = ? WHERE finished_at IS NULL`,
		reasonAbandoned, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark abandoned: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (models.Attempt, error) {
	var a models.Attempt
	var finished sql.NullTime
	if err := row.Scan(&a.ID, &a.Username, &a.State, &a.Success, &a.Reason, &a.CodeRequested, &a.StartedAt, &finished); err != nil {
		return models.Attempt{}, err
	}
	if finished.Valid {
		t := finished.Time
		a.FinishedAt = &t
	}
	return a, nil
}
