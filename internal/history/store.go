// Package history persists query executions to a local SQLite database.
// Controllers record every run so the UI can show recent activity and
// re-run past statements.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an execution record does not exist.
var ErrNotFound = errors.New("history: execution not found")

// Status describes the outcome of a recorded execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Execution is a single recorded query run.
type Execution struct {
	ID         string    `json:"id"`
	Profile    string    `json:"profile"`
	SQL        string    `json:"sql"`
	Status     Status    `json:"status"`
	RowCount   int       `json:"rowCount"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Store is a SQLite-backed execution history.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewStore creates an unopened store. Call Open before use.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// Open opens the SQLite database at path and runs pending migrations.
// Use ":memory:" for an in-memory database.
func (s *Store) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping history database: %w", err)
	}

	if err := MigrateWithDB(db); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.path = path
	s.logger.Debug("history store opened", slog.String("path", path))
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores an execution and returns it with its generated ID.
func (s *Store) Record(ctx context.Context, exec Execution) (*Execution, error) {
	if s.db == nil {
		return nil, fmt.Errorf("history database not opened")
	}

	exec.ID = uuid.New().String()
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, profile, sql_text, status, row_count, duration_ms, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Profile, exec.SQL, string(exec.Status),
		exec.RowCount, exec.DurationMs, exec.Error, exec.ExecutedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	s.logger.Debug("execution recorded",
		slog.String("id", exec.ID),
		slog.String("profile", exec.Profile),
		slog.String("status", string(exec.Status)))
	return &exec, nil
}

// Get retrieves a single execution by ID.
func (s *Store) Get(ctx context.Context, id string) (*Execution, error) {
	if s.db == nil {
		return nil, fmt.Errorf("history database not opened")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, profile, sql_text, status, row_count, duration_ms, error, executed_at
		FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// List returns the most recent executions, newest first. A limit of
// zero or less applies a default of 50.
func (s *Store) List(ctx context.Context, limit int) ([]*Execution, error) {
	if s.db == nil {
		return nil, fmt.Errorf("history database not opened")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile, sql_text, status, row_count, duration_ms, error, executed_at
		FROM executions ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return execs, nil
}

// Prune deletes executions older than the cutoff and returns the
// number removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("history database not opened")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE executed_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned executions: %w", err)
	}
	if n > 0 {
		s.logger.Debug("history pruned", slog.Int64("removed", n))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var (
		exec   Execution
		status string
	)
	if err := row.Scan(&exec.ID, &exec.Profile, &exec.SQL, &status,
		&exec.RowCount, &exec.DurationMs, &exec.Error, &exec.ExecutedAt); err != nil {
		return nil, err
	}
	exec.Status = Status(status)
	return &exec, nil
}
