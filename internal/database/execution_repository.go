package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"geekcatalog/models"
)

// ExecutionRepository persists job executions and their checkpoints.
type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `id, job_name, instance_id, status, checkpoint, export_name, exit_message, created_at, started_at, ended_at`

func scanExecution(row interface{ Scan(dest ...any) error }) (*models.JobExecution, error) {
	var (
		exec    models.JobExecution
		status  string
		created int64
		started sql.NullInt64
		ended   sql.NullInt64
	)
	if err := row.Scan(&exec.ID, &exec.JobName, &exec.InstanceID, &status, &exec.Checkpoint, &exec.Export, &exec.ExitMessage, &created, &started, &ended); err != nil {
		return nil, err
	}
	exec.Status = models.ExecutionStatus(status)
	exec.CreatedAt = fromMillis(created)
	exec.StartedAt = timePtr(started)
	exec.EndedAt = timePtr(ended)
	return &exec, nil
}

// Create inserts a new execution row.
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.JobExecution) error {
	if exec.ID == "" || exec.JobName == "" || exec.InstanceID == "" {
		return errors.New("execution id, job name and instance id are required")
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.JobName, exec.InstanceID, string(exec.Status), exec.Checkpoint, exec.Export, exec.ExitMessage,
		toMillis(exec.CreatedAt), nullMillis(exec.StartedAt), nullMillis(exec.EndedAt))
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// Get loads an execution by id.
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.JobExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// UpdateStatus records a status transition. STARTED stamps started_at and
// terminal statuses stamp ended_at.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id string, status models.ExecutionStatus, message string) error {
	now := toMillis(time.Now())
	var res sql.Result
	var err error
	switch {
	case status == models.ExecutionStarted:
		res, err = r.db.ExecContext(ctx, `
			UPDATE job_executions SET status = ?, exit_message = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(status), message, now, id)
	case status.Running():
		res, err = r.db.ExecContext(ctx, `
			UPDATE job_executions SET status = ?, exit_message = ? WHERE id = ?`,
			string(status), message, id)
	default:
		res, err = r.db.ExecContext(ctx, `
			UPDATE job_executions SET status = ?, exit_message = ?, ended_at = ? WHERE id = ?`,
			string(status), message, now, id)
	}
	if err != nil {
		return fmt.Errorf("update execution %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveCheckpoint stores the number of input lines consumed so far.
func (r *ExecutionRepository) SaveCheckpoint(ctx context.Context, id string, checkpoint int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE job_executions SET checkpoint = ? WHERE id = ?`, checkpoint, id)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveExport records which export file the execution's checkpoint counts
// lines of.
func (r *ExecutionRepository) SaveExport(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE job_executions SET export_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("save export %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExportsInUse returns the export files a running or restartable instance
// still depends on: those named by the latest execution of an instance that
// is neither completed nor abandoned.
func (r *ExecutionRepository) ExportsInUse(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT e.export_name FROM job_executions e
		WHERE e.export_name != ''
		  AND e.status NOT IN (?, ?)
		  AND e.rowid = (
		      SELECT x.rowid FROM job_executions x
		      WHERE x.instance_id = e.instance_id
		      ORDER BY x.created_at DESC, x.rowid DESC
		      LIMIT 1)
		ORDER BY e.export_name`,
		string(models.ExecutionCompleted), string(models.ExecutionAbandoned))
	if err != nil {
		return nil, fmt.Errorf("list exports in use: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan export name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LatestForInstance returns the newest execution of an instance, or nil.
func (r *ExecutionRepository) LatestForInstance(ctx context.Context, instanceID string) (*models.JobExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM job_executions
		WHERE instance_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, instanceID)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest execution for %s: %w", instanceID, err)
	}
	return exec, nil
}

// ListByJob returns the most recent executions of a job, newest first.
func (r *ExecutionRepository) ListByJob(ctx context.Context, jobName string, limit int) ([]*models.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM job_executions
		WHERE job_name = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for %s: %w", jobName, err)
	}
	defer rows.Close()

	var out []*models.JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// MarkOrphaned fails every execution still recorded as running. It is used
// on startup, when no execution from a previous process can be alive.
func (r *ExecutionRepository) MarkOrphaned(ctx context.Context, message string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_executions SET status = ?, exit_message = ?, ended_at = ?
		WHERE status IN (?, ?, ?)`,
		string(models.ExecutionFailed), message, toMillis(time.Now()),
		string(models.ExecutionStarting), string(models.ExecutionStarted), string(models.ExecutionStopping))
	if err != nil {
		return 0, fmt.Errorf("mark orphaned executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
