package repo

import (
	"context"
	"database/sql"
	"strings"

	"nicheperq/internal/domain"
)

const enrollmentColumns = `id,lead_id,workflow_id,owner_id,status,current_step_order,next_action_at,enrolled_at,updated_at,COALESCE(metadata_json,'')`

func scanEnrollment(row interface{ Scan(...any) error }) (domain.Enrollment, error) {
	var e domain.Enrollment
	var nextAction sql.NullString
	err := row.Scan(&e.ID, &e.LeadID, &e.WorkflowID, &e.OwnerID, &e.Status,
		&e.CurrentStepOrder, &nextAction, &e.EnrolledAt, &e.UpdatedAt, &e.MetadataJSON)
	if nextAction.Valid {
		e.NextActionAt = &nextAction.String
	}
	return e, err
}

// InsertEnrollment relies on the partial unique index over active rows: a
// second active enrollment for the same lead and workflow fails here and the
// caller maps the conflict to its already-enrolled outcome.
func (r Repo) InsertEnrollment(ctx context.Context, e domain.Enrollment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO enrollments(id,lead_id,workflow_id,owner_id,status,current_step_order,next_action_at,enrolled_at,updated_at,metadata_json)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.LeadID, e.WorkflowID, e.OwnerID, e.Status, e.CurrentStepOrder,
		nullableStringPtr(e.NextActionAt), e.EnrolledAt, e.UpdatedAt, nullable(e.MetadataJSON))
	return err
}

func (r Repo) GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=?`, id)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) GetEnrollmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Enrollment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=?`, id)
	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// ActiveEnrollmentsForLead returns the lead's active enrollments across all
// workflows.
func (r Repo) ActiveEnrollmentsForLead(ctx context.Context, leadID string) ([]domain.Enrollment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments
WHERE lead_id=? AND status='active' ORDER BY enrolled_at, id`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

// DueEnrollments returns active enrollments whose next_action_at is at or
// before now, oldest due first, capped at limit.
func (r Repo) DueEnrollments(ctx context.Context, ownerID, now string, limit int) ([]domain.Enrollment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments
WHERE owner_id=? AND status='active' AND next_action_at IS NOT NULL AND next_action_at <= ?
ORDER BY next_action_at, id LIMIT ?`, ownerID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

type EnrollmentFilters struct {
	OwnerID    string
	LeadID     string
	WorkflowID string
	Status     string
	Limit      int
}

func (r Repo) ListEnrollments(ctx context.Context, f EnrollmentFilters) ([]domain.Enrollment, error) {
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
	if f.WorkflowID != "" {
		where = append(where, "workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY enrolled_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

func collectEnrollments(rows *sql.Rows) ([]domain.Enrollment, error) {
	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AdvanceEnrollmentTx moves the pointer to the next step and reschedules.
func (r Repo) AdvanceEnrollmentTx(ctx context.Context, tx *sql.Tx, id string, stepOrder int, nextActionAt *string, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE enrollments SET current_step_order=?, next_action_at=?, updated_at=? WHERE id=? AND status='active'`,
		stepOrder, nullableStringPtr(nextActionAt), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseEnrollmentTx sets a terminal status and clears the schedule.
func (r Repo) CloseEnrollmentTx(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE enrollments SET status=?, next_action_at=NULL, updated_at=? WHERE id=? AND status='active'`,
		status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CancelEnrollment(ctx context.Context, id, now string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.CloseEnrollmentTx(ctx, tx, id, domain.EnrollmentCancelled, now); err != nil {
		return err
	}
	return tx.Commit()
}
