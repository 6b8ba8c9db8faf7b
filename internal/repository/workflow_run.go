package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/google/uuid"
)

// WorkflowRunRepository persists runs and their per-action results. It implements the engine's
// run store, including the claim used to guarantee each run executes once.
type WorkflowRunRepository struct {
	db    *sql.DB
	clock core.Clock
}

const RUN_COLUMNS = ` id, workflow_id, tenant_id, trigger_event, trigger_snapshot, actions, status,
		       scheduled_at, due_at, started_at, completed_at, executor_id, error `

func NewWorkflowRunRepository(db *sql.DB, clock core.Clock) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db, clock: clock}
}

func scanRun(row rowScanner) (*domain.WorkflowRun, error) {
	var (
		run      domain.WorkflowRun
		snapshot string
		actions  string
		errText  sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.TenantID,
		&run.TriggerEvent,
		&snapshot,
		&actions,
		&run.Status,
		&run.ScheduledAt,
		&run.DueAt,
		&run.StartedAt,
		&run.CompletedAt,
		&run.ExecutorID,
		&errText,
	)
	if err != nil {
		return nil, err
	}
	run.Error = errText.String
	if err := json.Unmarshal([]byte(snapshot), &run.TriggerSnapshot); err != nil {
		return nil, fmt.Errorf("decode trigger snapshot for run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &run.Actions); err != nil {
		return nil, fmt.Errorf("decode actions for run %s: %w", run.ID, err)
	}
	return &run, nil
}

func (r *WorkflowRunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]domain.WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Create inserts a new run. The trigger snapshot and action list are stored as JSON copies.
func (r *WorkflowRunRepository) Create(ctx context.Context, run *domain.WorkflowRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	snapshot, err := json.Marshal(run.TriggerSnapshot)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(actionsOrEmpty(run.Actions))
	if err != nil {
		return err
	}
	query := `INSERT INTO workflow_runs (` + RUN_COLUMNS + `, modified) VALUES (` + placeholders(1, 14) + `)`
	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, run.TenantID, run.TriggerEvent, string(snapshot), string(actions),
		string(run.Status), formatDateInDatabase(run.ScheduledAt), formatDateInDatabase(run.DueAt),
		formatDateInDatabaseNull(run.StartedAt), formatDateInDatabaseNull(run.CompletedAt),
		run.ExecutorID, nullString(run.Error), formatDateInDatabase(r.clock.Now()))
	return err
}

func (r *WorkflowRunRepository) AppendActionResult(ctx context.Context, runID string, res domain.ActionResult) error {
	query := `INSERT INTO workflow_run_actions (run_id, position, action_type, status, error, started_at, finished_at)
		VALUES (` + placeholders(1, 7) + `)`
	_, err := r.db.ExecContext(ctx, query,
		runID, res.Position, string(res.ActionType), string(res.Status), nullString(res.Error),
		formatDateInDatabase(res.StartedAt), formatDateInDatabase(res.FinishedAt))
	return err
}

// Complete moves a running run to its terminal status.
func (r *WorkflowRunRepository) Complete(ctx context.Context, runID string, status domain.RunStatus, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run %s: status %q is not terminal", runID, status)
	}
	now := formatDateInDatabase(r.clock.Now())
	query := `UPDATE workflow_runs
		SET status = ` + placeholder(1) + `, completed_at = ` + placeholder(2) + `,
		    error = ` + placeholder(3) + `, modified = ` + placeholder(4) + `
		WHERE id = ` + placeholder(5) + ` AND status = ` + placeholder(6)
	res, err := r.db.ExecContext(ctx, query, string(status), now, nullString(errText), now, runID, string(domain.RunRunning))
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("complete run %s: no running run: %w", runID, err)
	}
	return nil
}

// ClaimRun atomically moves a scheduled run to running for executorID. Only one caller
// per run can get true.
func (r *WorkflowRunRepository) ClaimRun(ctx context.Context, runID string, executorID int64) (bool, error) {
	now := formatDateInDatabase(r.clock.Now())
	query := `UPDATE workflow_runs
		SET status = ` + placeholder(1) + `, executor_id = ` + placeholder(2) + `,
		    started_at = ` + placeholder(3) + `, modified = ` + placeholder(4) + `
		WHERE id = ` + placeholder(5) + ` AND status = ` + placeholder(6)
	res, err := r.db.ExecContext(ctx, query, string(domain.RunRunning), executorID, now, now, runID, string(domain.RunScheduled))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to claim run", "error", err, "run_id", runID, "executor_id", executorID)
		return false, err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// FindDueRuns returns scheduled runs whose due time is at or before now, oldest first.
func (r *WorkflowRunRepository) FindDueRuns(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowRun, error) {
	query := `SELECT ` + RUN_COLUMNS + ` FROM workflow_runs
		WHERE status = ` + placeholder(1) + `
		  AND ` + dateNotAfter("due_at", 2) + `
		ORDER BY due_at ASC
		LIMIT ` + placeholder(3)
	return r.queryRuns(ctx, query, string(domain.RunScheduled), formatDateInDatabase(now), limit)
}

// FindOrphanedRuns returns running runs untouched since cutoff whose executor has not
// heart-beaten since cutoff, plus running runs untouched since hardCutoff whatever their
// executor is doing.
func (r *WorkflowRunRepository) FindOrphanedRuns(ctx context.Context, cutoff, hardCutoff time.Time, limit int) ([]domain.WorkflowRun, error) {
	c := formatDateInDatabase(cutoff)
	query := `SELECT ` + RUN_COLUMNS + ` FROM workflow_runs
		WHERE status = ` + placeholder(1) + `
		  AND ((` + dateBefore("modified", 2) + `
		        AND executor_id NOT IN (
		            SELECT id
		            FROM executors
		            WHERE ` + dateAfter("last_active", 3) + `
		        ))
		       OR ` + dateBefore("modified", 4) + `)
		ORDER BY started_at ASC
		LIMIT ` + placeholder(5)
	return r.queryRuns(ctx, query, string(domain.RunRunning), c, c, formatDateInDatabase(hardCutoff), limit)
}

// FailRun marks a run failed if it is still running under executorID.
func (r *WorkflowRunRepository) FailRun(ctx context.Context, runID string, executorID int64, errText string) (bool, error) {
	now := formatDateInDatabase(r.clock.Now())
	query := `UPDATE workflow_runs
		SET status = ` + placeholder(1) + `, error = ` + placeholder(2) + `,
		    completed_at = ` + placeholder(3) + `, modified = ` + placeholder(4) + `
		WHERE id = ` + placeholder(5) + ` AND status = ` + placeholder(6) + ` AND executor_id = ` + placeholder(7)
	res, err := r.db.ExecContext(ctx, query, string(domain.RunFailed), errText, now, now, runID, string(domain.RunRunning), executorID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FindByID loads a run of the tenant together with its action results.
func (r *WorkflowRunRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.WorkflowRun, error) {
	query := `SELECT ` + RUN_COLUMNS + ` FROM workflow_runs
		WHERE tenant_id = ` + placeholder(1) + ` AND id = ` + placeholder(2)
	run, err := scanRun(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	results, err := r.FindActionResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.ActionResults = results
	return run, nil
}

// FindByWorkflow lists the newest runs of a workflow without their action results.
func (r *WorkflowRunRepository) FindByWorkflow(ctx context.Context, tenantID, workflowID string, limit int) ([]domain.WorkflowRun, error) {
	query := `SELECT ` + RUN_COLUMNS + ` FROM workflow_runs
		WHERE tenant_id = ` + placeholder(1) + ` AND workflow_id = ` + placeholder(2) + `
		ORDER BY scheduled_at DESC
		LIMIT ` + placeholder(3)
	return r.queryRuns(ctx, query, tenantID, workflowID, limit)
}

func (r *WorkflowRunRepository) FindActionResults(ctx context.Context, runID string) ([]domain.ActionResult, error) {
	query := `SELECT position, action_type, status, error, started_at, finished_at
		FROM workflow_run_actions
		WHERE run_id = ` + placeholder(1) + `
		ORDER BY position ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.ActionResult{}
	for rows.Next() {
		var (
			res     domain.ActionResult
			errText sql.NullString
		)
		if err := rows.Scan(&res.Position, &res.ActionType, &res.Status, &errText, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, err
		}
		res.Error = errText.String
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
