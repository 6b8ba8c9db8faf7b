package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/google/uuid"
)

type WorkflowRepository struct {
	db    *sql.DB
	clock core.Clock
}

const WORKFLOW_COLUMNS = ` id, tenant_id, name, description, trigger_type, event_name, trigger_tag_id,
		       delay_minutes, actions, active, is_system, created, modified `

func NewWorkflowRepository(db *sql.DB, clock core.Clock) *WorkflowRepository {
	return &WorkflowRepository{db: db, clock: clock}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var (
		wf          domain.Workflow
		description sql.NullString
		eventName   sql.NullString
		tagID       sql.NullString
		actions     string
	)
	err := row.Scan(
		&wf.ID,
		&wf.TenantID,
		&wf.Name,
		&description,
		&wf.TriggerType,
		&eventName,
		&tagID,
		&wf.DelayMinutes,
		&actions,
		&wf.Active,
		&wf.System,
		&wf.Created,
		&wf.Modified,
	)
	if err != nil {
		return nil, err
	}
	wf.Description = description.String
	wf.EventName = eventName.String
	wf.TriggerTagID = tagID.String
	if err := json.Unmarshal([]byte(actions), &wf.Actions); err != nil {
		return nil, fmt.Errorf("decode actions for workflow %s: %w", wf.ID, err)
	}
	return &wf, nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]domain.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return workflows, nil
}

// Save inserts wf, assigning an ID and timestamps when they are unset.
func (r *WorkflowRepository) Save(ctx context.Context, wf *domain.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := r.clock.Now()
	if wf.Created.IsZero() {
		wf.Created = now
	}
	wf.Modified = now
	actions, err := json.Marshal(actionsOrEmpty(wf.Actions))
	if err != nil {
		return err
	}
	query := `INSERT INTO workflows (` + WORKFLOW_COLUMNS + `) VALUES (` + placeholders(1, 13) + `)`
	_, err = r.db.ExecContext(ctx, query,
		wf.ID, wf.TenantID, wf.Name, nullString(wf.Description), string(wf.TriggerType),
		nullString(wf.EventName), nullString(wf.TriggerTagID), wf.DelayMinutes, string(actions),
		wf.Active, wf.System, formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Modified))
	return err
}

// Update overwrites the editable fields of an existing workflow. The system flag and creation
// time are never changed.
func (r *WorkflowRepository) Update(ctx context.Context, wf *domain.Workflow) error {
	wf.Modified = r.clock.Now()
	actions, err := json.Marshal(actionsOrEmpty(wf.Actions))
	if err != nil {
		return err
	}
	query := `UPDATE workflows SET
		name = ` + placeholder(1) + `,
		description = ` + placeholder(2) + `,
		trigger_type = ` + placeholder(3) + `,
		event_name = ` + placeholder(4) + `,
		trigger_tag_id = ` + placeholder(5) + `,
		delay_minutes = ` + placeholder(6) + `,
		actions = ` + placeholder(7) + `,
		active = ` + placeholder(8) + `,
		modified = ` + placeholder(9) + `
		WHERE tenant_id = ` + placeholder(10) + ` AND id = ` + placeholder(11)
	res, err := r.db.ExecContext(ctx, query,
		wf.Name, nullString(wf.Description), string(wf.TriggerType), nullString(wf.EventName),
		nullString(wf.TriggerTagID), wf.DelayMinutes, string(actions), wf.Active,
		formatDateInDatabase(wf.Modified), wf.TenantID, wf.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *WorkflowRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows
		WHERE tenant_id = ` + placeholder(1) + ` AND id = ` + placeholder(2)
	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return wf, err
}

// FindByName is used by seeding to keep system workflows idempotent per tenant.
func (r *WorkflowRepository) FindByName(ctx context.Context, tenantID, name string) (*domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows
		WHERE tenant_id = ` + placeholder(1) + ` AND name = ` + placeholder(2)
	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return wf, err
}

func (r *WorkflowRepository) FindAllByTenant(ctx context.Context, tenantID string) ([]domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows
		WHERE tenant_id = ` + placeholder(1) + ` ORDER BY created ASC`
	return r.queryWorkflows(ctx, query, tenantID)
}

// FindActiveByEvent returns active workflows of the tenant listening on eventName. Trigger shape
// is not checked here.
func (r *WorkflowRepository) FindActiveByEvent(ctx context.Context, tenantID, eventName string) ([]domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows
		WHERE tenant_id = ` + placeholder(1) + `
		  AND event_name = ` + placeholder(2) + `
		  AND active = ` + placeholder(3) + `
		ORDER BY created ASC`
	return r.queryWorkflows(ctx, query, tenantID, eventName, true)
}

// FindActiveByTag returns active workflows of the tenant triggered by tagID in the given direction.
func (r *WorkflowRepository) FindActiveByTag(ctx context.Context, tenantID, tagID string, triggerType domain.TriggerType) ([]domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows
		WHERE tenant_id = ` + placeholder(1) + `
		  AND trigger_tag_id = ` + placeholder(2) + `
		  AND trigger_type = ` + placeholder(3) + `
		  AND active = ` + placeholder(4) + `
		ORDER BY created ASC`
	return r.queryWorkflows(ctx, query, tenantID, tagID, string(triggerType), true)
}

func (r *WorkflowRepository) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	query := `UPDATE workflows SET active = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE tenant_id = ` + placeholder(3) + ` AND id = ` + placeholder(4)
	res, err := r.db.ExecContext(ctx, query, active, formatDateInDatabase(r.clock.Now()), tenantID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Delete removes a non-system workflow. Its run history is kept.
func (r *WorkflowRepository) Delete(ctx context.Context, tenantID, id string) error {
	wf, err := r.FindByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if wf.System {
		return domain.ErrSystemWorkflow
	}
	query := `DELETE FROM workflows WHERE tenant_id = ` + placeholder(1) + ` AND id = ` + placeholder(2) +
		` AND is_system = ` + placeholder(3)
	res, err := r.db.ExecContext(ctx, query, tenantID, id, false)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func actionsOrEmpty(a []domain.ActionSpec) []domain.ActionSpec {
	if a == nil {
		return []domain.ActionSpec{}
	}
	return a
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
