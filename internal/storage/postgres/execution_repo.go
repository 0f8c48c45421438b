package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ExecutionRepo persists job_executions rows.
type ExecutionRepo struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewExecutionRepo creates a job_executions repository.
func NewExecutionRepo(db *sql.DB, logger arbor.ILogger) *ExecutionRepo {
	return &ExecutionRepo{db: db, logger: logger}
}

const executionColumns = `execution_id, targeting_id, run_index_base, task_count, parallelism,
	shards, workers_per_workflow, status, started_at, ended_at, metadata`

func (r *ExecutionRepo) scanExecution(row interface{ Scan(...any) error }) (*models.JobExecution, error) {
	e := &models.JobExecution{}
	var endedAt sql.NullTime
	var metadata []byte
	err := row.Scan(
		&e.ExecutionID, &e.TargetingID, &e.RunIndexBase, &e.TaskCount, &e.Parallelism,
		&e.Shards, &e.WorkersPerWorkflow, &e.Status, &e.StartedAt, &endedAt, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	if endedAt.Valid {
		e.EndedAt = &endedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode execution metadata: %w", err)
		}
	}
	return e, nil
}

// FindActive returns the running execution for (targeting_id, run_index_base),
// or ErrNotFound.
func (r *ExecutionRepo) FindActive(ctx context.Context, targetingID int64, runIndexBase int) (*models.JobExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM job_executions
		WHERE targeting_id = $1 AND run_index_base = $2 AND status = 'running'
		ORDER BY started_at DESC
		LIMIT 1
	`, targetingID, runIndexBase)
	return r.scanExecution(row)
}

// Insert creates a new running execution row.
func (r *ExecutionRepo) Insert(ctx context.Context, e *models.JobExecution) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode execution metadata: %w", err)
	}
	return withRetry(ctx, r.logger, "insert_execution", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO job_executions (`+executionColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, e.ExecutionID, e.TargetingID, e.RunIndexBase, e.TaskCount, e.Parallelism,
			e.Shards, e.WorkersPerWorkflow, e.Status, e.StartedAt, e.EndedAt, metadata)
		if err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		return nil
	})
}

// Get returns the execution row by id.
func (r *ExecutionRepo) Get(ctx context.Context, executionID string) (*models.JobExecution, error) {
	var out *models.JobExecution
	err := withRetry(ctx, r.logger, "get_execution", func() error {
		row := r.db.QueryRowContext(ctx, `
			SELECT `+executionColumns+` FROM job_executions WHERE execution_id = $1
		`, executionID)
		e, err := r.scanExecution(row)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// List returns recent executions, optionally filtered by status and
// targeting id.
func (r *ExecutionRepo) List(ctx context.Context, status string, targetingID int64, limit int) ([]*models.JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + executionColumns + ` FROM job_executions WHERE 1=1`
	args := []any{}
	idx := 1
	if status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, status)
		idx++
	}
	if targetingID > 0 {
		q += fmt.Sprintf(" AND targeting_id = $%d", idx)
		args = append(args, targetingID)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.JobExecution
	for rows.Next() {
		e, err := r.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateStatus transitions the row status. Terminal rows are never moved
// back to running: the WHERE clause refuses the transition and the update
// reports ErrNotFound so callers notice.
func (r *ExecutionRepo) UpdateStatus(ctx context.Context, executionID, status string, endedAt *time.Time) error {
	return withRetry(ctx, r.logger, "update_execution_status", func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE job_executions
			SET status = $2, ended_at = COALESCE($3, ended_at)
			WHERE execution_id = $1
			  AND NOT (status IN ('succeeded','failed','cancelled') AND $2 = 'running')
		`, executionID, status, endedAt)
		if err != nil {
			return fmt.Errorf("update execution status: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateMetadata deep-merges patch into the row metadata. The merge runs in
// a transaction with the row locked so concurrent patches do not lose keys.
func (r *ExecutionRepo) UpdateMetadata(ctx context.Context, executionID string, patch map[string]any) error {
	return withRetry(ctx, r.logger, "update_execution_metadata", func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin metadata update: %w", err)
		}
		defer tx.Rollback()

		var raw []byte
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(metadata, '{}'::jsonb) FROM job_executions
			WHERE execution_id = $1 FOR UPDATE
		`, executionID).Scan(&raw)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read execution metadata: %w", err)
		}

		base := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &base); err != nil {
				return fmt.Errorf("decode execution metadata: %w", err)
			}
		}
		merged, err := json.Marshal(DeepMerge(base, patch))
		if err != nil {
			return fmt.Errorf("encode merged metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE job_executions SET metadata = $2 WHERE execution_id = $1
		`, executionID, merged); err != nil {
			return fmt.Errorf("write execution metadata: %w", err)
		}
		return tx.Commit()
	})
}
