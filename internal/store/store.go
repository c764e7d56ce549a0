// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// defaultRecentLimit caps RecentRuns when the caller passes a non-positive limit.
const defaultRecentLimit = 20

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides a PostgreSQL backed archive of scenario runs.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const (
	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS runs (
            id         TEXT PRIMARY KEY,
            scenario   TEXT NOT NULL,
            target     TEXT NOT NULL,
            engine     TEXT NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            elapsed_ms BIGINT NOT NULL,
            status     TEXT NOT NULL
        );
    `
	sqlCreateRunSteps = `
        CREATE TABLE IF NOT EXISTS run_steps (
            run_id     TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
            step_index INT NOT NULL,
            name       TEXT NOT NULL,
            outcome    TEXT NOT NULL,
            record     JSONB NOT NULL,
            PRIMARY KEY (run_id, step_index)
        );
    `
)

// EnsureSchema creates the run history tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateRuns, sqlCreateRunSteps} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const sqlInsertRun = `
        INSERT INTO runs (id, scenario, target, engine, started_at, elapsed_ms, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `

// SaveRun archives one run and its step records inside a single transaction.
func (s *Store) SaveRun(ctx context.Context, run *schemas.RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run record must have an ID", schemas.ErrInvalidArgument)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// FIX: Use errors.Is to correctly check for pgx.ErrTxClosed, even if wrapped.
		// This prevents spurious error logs when Rollback is called on an already committed (closed) transaction.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.String("run_id", run.ID), zap.Error(rollbackErr))
		}
	}()

	// FIX: Ensure the timestamp is in UTC before insertion to prevent ambiguity.
	startedAtUTC := run.StartedAt.UTC()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		run.ID, run.Scenario, run.Target, run.Engine,
		startedAtUTC, run.Elapsed.Milliseconds(), string(run.Status),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if len(run.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, run.ID, run.Steps); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, runID string, steps []schemas.StepRecord) error {
	rows := make([][]interface{}, len(steps))
	for i, step := range steps {
		// The full record travels as JSONB so step detail survives schema drift.
		record, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("failed to encode step %q: %w", step.Name, err)
		}
		rows[i] = []interface{}{runID, i, step.Name, step.Outcome, record}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"run_steps"},
		[]string{"run_id", "step_index", "name", "outcome", "record"},
		pgx.CopyFromRows(rows),
	)

	if err != nil {
		return fmt.Errorf("failed to copy run steps: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied step count: expected %d, got %d", len(steps), copyCount)
	}

	return nil
}

// RunSteps returns the step records of one run in execution order.
func (s *Store) RunSteps(ctx context.Context, runID string) ([]schemas.StepRecord, error) {
	query := `
        SELECT record
        FROM run_steps
        WHERE run_id = $1
        ORDER BY step_index ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run steps: %w", err)
	}
	defer rows.Close()

	var steps []schemas.StepRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}

		var step schemas.StepRecord
		if err := json.Unmarshal(raw, &step); err != nil {
			return nil, fmt.Errorf("failed to decode step record: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return steps, nil
}

const (
	sqlRecentRuns = `
        SELECT id, scenario, target, engine, started_at, elapsed_ms, status
        FROM runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	sqlRecentRunsByScenario = `
        SELECT id, scenario, target, engine, started_at, elapsed_ms, status
        FROM runs
        WHERE scenario = $1
        ORDER BY started_at DESC
        LIMIT $2;
    `
)

// RecentRuns returns the newest runs first, optionally filtered by scenario name.
// Step records are not loaded; fetch them per run with RunSteps.
func (s *Store) RecentRuns(ctx context.Context, scenario string, limit int) ([]schemas.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := sqlRecentRuns
	args := []any{limit}
	if scenario != "" {
		query = sqlRecentRunsByScenario
		args = []any{scenario, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []schemas.RunRecord
	for rows.Next() {
		var run schemas.RunRecord
		var statusStr string
		var elapsedMS int64

		if err := rows.Scan(
			&run.ID, &run.Scenario, &run.Target, &run.Engine,
			&run.StartedAt, &elapsedMS, &statusStr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		run.Status = schemas.RunStatus(statusStr)
		run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return runs, nil
}
