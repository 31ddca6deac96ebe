// Package history records finished runs in SQLite or PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Run is one recorded execution.
type Run struct {
	ExecutionID string    `json:"execution_id" yaml:"execution_id"`
	Team        string    `json:"team" yaml:"team"`
	Group       string    `json:"group" yaml:"group"`
	Job         string    `json:"job" yaml:"job"`
	ExitCode    int       `json:"exit_code" yaml:"exit_code"`
	Duration    int64     `json:"duration_seconds" yaml:"duration_seconds"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	Cause       string    `json:"cause" yaml:"cause"`
	Host        string    `json:"host" yaml:"host"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run *Run) error
	Recent(ctx context.Context, job string, limit int) ([]Run, error)
	Close() error
}

// Open returns the store for driver ("sqlite3" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite3", "sqlite", "":
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}

// ErrNoExecutionID is returned when a run has no identifier.
var ErrNoExecutionID = errors.New("execution id is required")

// sqlStore holds the queries shared by both drivers. Statements are written
// with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dollars bool
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	execution_id TEXT PRIMARY KEY,
	team TEXT NOT NULL,
	grp TEXT NOT NULL,
	job TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	duration_seconds BIGINT NOT NULL,
	attempts INTEGER NOT NULL,
	cause TEXT NOT NULL,
	host TEXT,
	finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_job_finished ON runs(job, finished_at);
`

func (s *sqlStore) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqlStore) rebind(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record inserts or replaces the run with the same execution id.
func (s *sqlStore) Record(ctx context.Context, run *Run) error {
	if run.ExecutionID == "" {
		return ErrNoExecutionID
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs
		(execution_id, team, grp, job, exit_code, duration_seconds, attempts, cause, host, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			exit_code = excluded.exit_code,
			duration_seconds = excluded.duration_seconds,
			attempts = excluded.attempts,
			cause = excluded.cause,
			finished_at = excluded.finished_at
	`), run.ExecutionID, run.Team, run.Group, run.Job, run.ExitCode, run.Duration,
		run.Attempts, run.Cause, run.Host, run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ExecutionID, err)
	}
	return nil
}

// Recent returns the newest runs, optionally filtered by job.
func (s *sqlStore) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT execution_id, team, grp, job, exit_code, duration_seconds, attempts, cause, host, finished_at FROM runs`
	args := []any{}
	if job != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var host sql.NullString
		if err := rows.Scan(&r.ExecutionID, &r.Team, &r.Group, &r.Job, &r.ExitCode, &r.Duration,
			&r.Attempts, &r.Cause, &host, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Host = host.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
