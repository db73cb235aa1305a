package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nicheperq/internal/domain"
)

// ErrWorkflowInUse marks a delete attempt against a workflow that any
// enrollment still references.
var ErrWorkflowInUse = errors.New("workflow has enrollments")

// ValidateSteps checks a workflow's step list at construction time: orders
// must be dense and 1-based, every action must carry its required parameters,
// and condition branch targets must name an existing step.
func ValidateSteps(steps []domain.WorkflowStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("workflow needs at least one step")
	}
	orders := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.StepOrder < 1 {
			return fmt.Errorf("step order %d: must be 1-based", s.StepOrder)
		}
		if orders[s.StepOrder] {
			return fmt.Errorf("step order %d: duplicate", s.StepOrder)
		}
		orders[s.StepOrder] = true
	}
	for i := 1; i <= len(steps); i++ {
		if !orders[i] {
			return fmt.Errorf("step order %d: missing; orders must be contiguous from 1", i)
		}
	}
	for _, s := range steps {
		if s.DelayDays < 0 {
			return fmt.Errorf("step %d: delay_days must not be negative", s.StepOrder)
		}
		switch s.Action {
		case domain.ActionSendMessage:
			if s.MessageType == "" {
				return fmt.Errorf("step %d: send_message requires message_type", s.StepOrder)
			}
		case domain.ActionUpdateStatus:
			if s.NewStatus == "" {
				return fmt.Errorf("step %d: update_status requires new_status", s.StepOrder)
			}
		case domain.ActionSetReminder:
			if s.ReminderDays <= 0 {
				return fmt.Errorf("step %d: set_reminder requires positive reminder_days", s.StepOrder)
			}
		case domain.ActionCondition:
			if s.ConditionType != domain.ConditionReplyReceived && s.ConditionType != domain.ConditionNoReply {
				return fmt.Errorf("step %d: unknown condition_type %q", s.StepOrder, s.ConditionType)
			}
			if s.BranchToOrder != 0 && !orders[s.BranchToOrder] {
				return fmt.Errorf("step %d: branch_to_order %d names no step", s.StepOrder, s.BranchToOrder)
			}
		default:
			return fmt.Errorf("step %d: unknown action %q", s.StepOrder, s.Action)
		}
	}
	return nil
}

// InsertWorkflow writes the workflow and its steps in one transaction.
func (r Repo) InsertWorkflow(ctx context.Context, w domain.Workflow) error {
	if err := ValidateSteps(w.Steps); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO workflows(id,owner_id,name,trigger_type,trigger_value,priority,is_active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OwnerID, w.Name, w.TriggerType, nullable(w.TriggerValue), w.Priority, boolInt(w.IsActive), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return err
	}
	for _, s := range w.Steps {
		if err := insertStep(ctx, tx, w.ID, s); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertStep(ctx context.Context, tx *sql.Tx, workflowID string, s domain.WorkflowStep) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps(id,workflow_id,step_order,action,delay_days,message_type,tone,new_status,reminder_days,condition_type,branch_to_order)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, workflowID, s.StepOrder, s.Action, s.DelayDays,
		nullable(s.MessageType), nullable(s.Tone), nullable(s.NewStatus),
		nullableInt(s.ReminderDays), nullable(s.ConditionType), nullableInt(s.BranchToOrder))
	return err
}

// ReplaceWorkflowSteps swaps in a new step list atomically.
func (r Repo) ReplaceWorkflowSteps(ctx context.Context, workflowID, now string, steps []domain.WorkflowStep) error {
	if err := ValidateSteps(steps); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_steps WHERE workflow_id=?`, workflowID); err != nil {
		return err
	}
	for _, s := range steps {
		if err := insertStep(ctx, tx, workflowID, s); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET updated_at=? WHERE id=?`, now, workflowID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const workflowColumns = `id,owner_id,name,trigger_type,COALESCE(trigger_value,''),priority,is_active,created_at,updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (domain.Workflow, error) {
	var w domain.Workflow
	var active int
	err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.TriggerType, &w.TriggerValue,
		&w.Priority, &active, &w.CreatedAt, &w.UpdatedAt)
	w.IsActive = active != 0
	return w, err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Steps, err = r.workflowSteps(ctx, w.ID)
	return w, err
}

func (r Repo) workflowSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workflow_id,step_order,action,delay_days,
COALESCE(message_type,''),COALESCE(tone,''),COALESCE(new_status,''),
COALESCE(reminder_days,0),COALESCE(condition_type,''),COALESCE(branch_to_order,0)
FROM workflow_steps WHERE workflow_id=? ORDER BY step_order`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []domain.WorkflowStep
	for rows.Next() {
		var s domain.WorkflowStep
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.StepOrder, &s.Action, &s.DelayDays,
			&s.MessageType, &s.Tone, &s.NewStatus, &s.ReminderDays, &s.ConditionType, &s.BranchToOrder); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r Repo) ListWorkflows(ctx context.Context, ownerID string) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows
WHERE owner_id=? ORDER BY priority, created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ActiveWorkflows returns the owner's enabled workflows with steps loaded, in
// deterministic match order: priority, then creation time, then id.
func (r Repo) ActiveWorkflows(ctx context.Context, ownerID string) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows
WHERE owner_id=? AND is_active=1 ORDER BY priority, created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Steps, err = r.workflowSteps(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetWorkflowActive enables or soft-disables a workflow. Disabling never
// touches existing enrollments; they keep running.
func (r Repo) SetWorkflowActive(ctx context.Context, id string, active bool, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflows SET is_active=?, updated_at=? WHERE id=?`, boolInt(active), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateWorkflowPriority(ctx context.Context, id string, priority int, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflows SET priority=?, updated_at=? WHERE id=?`, priority, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkflow removes a workflow and its steps. Workflows referenced by
// any enrollment row, active or not, are kept; deactivate those instead.
func (r Repo) DeleteWorkflow(ctx context.Context, id string) error {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM enrollments WHERE workflow_id=?`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrWorkflowInUse
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflows WHERE id=?`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
