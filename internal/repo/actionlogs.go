package repo

import (
	"context"
	"database/sql"
	"strings"

	"nicheperq/internal/domain"
)

const actionLogColumns = `id,owner_id,lead_id,COALESCE(enrollment_id,''),COALESCE(workflow_id,''),COALESCE(step_order,0),action_type,success,COALESCE(detail_json,''),created_at`

func scanActionLog(row interface{ Scan(...any) error }) (domain.ActionLog, error) {
	var l domain.ActionLog
	var success int
	err := row.Scan(&l.ID, &l.OwnerID, &l.LeadID, &l.EnrollmentID, &l.WorkflowID,
		&l.StepOrder, &l.ActionType, &success, &l.DetailJSON, &l.CreatedAt)
	l.Success = success != 0
	return l, err
}

type ActionLogFilters struct {
	OwnerID      string
	LeadID       string
	EnrollmentID string
	ActionType   string
	Limit        int
}

// ListActionLogs returns newest first.
func (r Repo) ListActionLogs(ctx context.Context, f ActionLogFilters) ([]domain.ActionLog, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.LeadID != "" {
		where = append(where, "lead_id=?")
		args = append(args, f.LeadID)
	}
	if f.EnrollmentID != "" {
		where = append(where, "enrollment_id=?")
		args = append(args, f.EnrollmentID)
	}
	if f.ActionType != "" {
		where = append(where, "action_type=?")
		args = append(args, f.ActionType)
	}
	query := `SELECT ` + actionLogColumns + ` FROM action_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ActionLog
	for rows.Next() {
		l, err := scanActionLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LastActionAtTx returns the created_at of the most recent successful log row
// for an enrollment's step action, or "" when none exists. The executor uses
// it as the redundant-send guard under at-least-once delivery.
func (r Repo) LastActionAtTx(ctx context.Context, tx *sql.Tx, enrollmentID string, stepOrder int, actionType string) (string, error) {
	var createdAt string
	err := tx.QueryRowContext(ctx, `SELECT created_at FROM action_logs
WHERE enrollment_id=? AND step_order=? AND action_type=? AND success=1
ORDER BY created_at DESC, id DESC LIMIT 1`, enrollmentID, stepOrder, actionType).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return createdAt, err
}

// ReplySince reports whether a processed reply signal for the lead exists at
// or after since.
func (r Repo) ReplySince(ctx context.Context, leadID, since string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM signals
WHERE lead_id=? AND kind=? AND processed_at IS NOT NULL AND received_at >= ?`,
		leadID, domain.SignalReply, since).Scan(&n)
	return n > 0, err
}

func (r Repo) ReplySinceTx(ctx context.Context, tx *sql.Tx, leadID, since string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM signals
WHERE lead_id=? AND kind=? AND processed_at IS NOT NULL AND received_at >= ?`,
		leadID, domain.SignalReply, since).Scan(&n)
	return n > 0, err
}
