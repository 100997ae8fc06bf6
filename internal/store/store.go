// Package store persists completed automation runs to Postgres. Archiving
// is strictly best-effort: the engine result a caller already holds is never
// invalidated by a failed write here.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultWriteTimeout bounds one archive write when the config leaves
// archive.write_timeout unset.
const defaultWriteTimeout = 10 * time.Second

// DBPool abstracts pgxpool.Pool so the store can run against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Run is one completed engine call headed for the archive. Steps is set for
// workflow runs only.
type Run struct {
	ID         uuid.UUID
	Operation  string
	TargetURL  string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  bool
	Request    any
	Result     any
	Steps      []schemas.StepOutcome
}

// RunSummary is one row of the recent-runs listing.
type RunSummary struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	TargetURL  string    `json:"target_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  bool      `json:"succeeded"`
}

// schemaStatements creates the archive tables. Idempotent so every startup
// can apply them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS automation_runs (
		id UUID PRIMARY KEY,
		operation TEXT NOT NULL,
		target_url TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		succeeded BOOLEAN NOT NULL,
		request JSONB NOT NULL DEFAULT '{}',
		result JSONB NOT NULL DEFAULT '{}'
	);`,
	`CREATE TABLE IF NOT EXISTS workflow_steps (
		run_id UUID NOT NULL REFERENCES automation_runs(id) ON DELETE CASCADE,
		step_index INTEGER NOT NULL,
		action TEXT NOT NULL,
		succeeded BOOLEAN NOT NULL,
		skipped BOOLEAN NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, step_index)
	);`,
}

var stepColumns = []string{"run_id", "step_index", "action", "succeeded", "skipped", "reason", "error"}

// Store provides the PostgreSQL run archive.
type Store struct {
	pool         DBPool
	log          *zap.Logger
	writeTimeout time.Duration
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, writeTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Store{
		pool:         pool,
		log:          logger.Named("store"),
		writeTimeout: writeTimeout,
	}, nil
}

// EnsureSchema applies the archive DDL. Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply archive schema: %w", err)
		}
	}
	return nil
}

// RecordRun persists one completed run and its workflow steps in a single
// transaction. The run has already finished when this is called, so the
// write runs on its own clock rather than the caller's context; a caller
// hitting Ctrl+C must not lose a result that was fully computed.
func (s *Store) RecordRun(run Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	request, err := marshalPayload(run.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request payload: %w", err)
	}
	result, err := marshalPayload(run.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed; anything
		// else is a real problem worth logging.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO automation_runs (id, operation, target_url, started_at, finished_at, succeeded, request, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
		run.ID.String(), run.Operation, run.TargetURL,
		run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Succeeded,
		request, result,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run row: %w", err)
	}

	if len(run.Steps) > 0 {
		if err := s.copySteps(ctx, tx, run); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("Archived automation run",
		zap.String("run_id", run.ID.String()),
		zap.String("operation", run.Operation),
		zap.Bool("succeeded", run.Succeeded),
		zap.Int("steps", len(run.Steps)),
	)
	return nil
}

func (s *Store) copySteps(ctx context.Context, tx pgx.Tx, run Run) error {
	rows := make([][]interface{}, len(run.Steps))
	for i, st := range run.Steps {
		rows[i] = []interface{}{
			run.ID.String(), st.Index, string(st.Action),
			st.Succeeded, st.Skipped, string(st.Reason), st.Error,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"workflow_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy workflow steps: %w", err)
	}
	if int(copyCount) != len(run.Steps) {
		return fmt.Errorf("mismatch in copied step count: expected %d, got %d", len(run.Steps), copyCount)
	}
	return nil
}

// RecentRuns lists the newest archived runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
        SELECT id, operation, target_url, started_at, finished_at, succeeded
        FROM automation_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Operation, &r.TargetURL, &r.StartedAt, &r.FinishedAt, &r.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return runs, nil
}

// marshalPayload renders a request or result for its JSONB column. Nil and
// JSON null collapse to an empty object so the column stays NOT NULL.
func marshalPayload(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return []byte("{}"), nil
	}
	return data, nil
}
