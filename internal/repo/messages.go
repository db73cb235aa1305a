package repo

import (
	"context"
	"database/sql"
	"strings"

	"nicheperq/internal/domain"
)

const messageColumns = `id,owner_id,lead_id,COALESCE(enrollment_id,''),COALESCE(workflow_id,''),COALESCE(step_order,0),
COALESCE(message_type,''),COALESCE(tone,''),COALESCE(subject,''),COALESCE(body,''),status,COALESCE(provider_id,''),created_at,sent_at`

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var sentAt sql.NullString
	err := row.Scan(&m.ID, &m.OwnerID, &m.LeadID, &m.EnrollmentID, &m.WorkflowID, &m.StepOrder,
		&m.MessageType, &m.Tone, &m.Subject, &m.Body, &m.Status, &m.ProviderID, &m.CreatedAt, &sentAt)
	if sentAt.Valid {
		m.SentAt = &sentAt.String
	}
	return m, err
}

func (r Repo) InsertMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO messages(id,owner_id,lead_id,enrollment_id,workflow_id,step_order,message_type,tone,subject,body,status,provider_id,created_at,sent_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, m.LeadID, nullable(m.EnrollmentID), nullable(m.WorkflowID), nullableInt(m.StepOrder),
		nullable(m.MessageType), nullable(m.Tone), nullable(m.Subject), nullable(m.Body),
		m.Status, nullable(m.ProviderID), m.CreatedAt, nullableStringPtr(m.SentAt))
	return err
}

func (r Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

type MessageFilters struct {
	OwnerID string
	LeadID  string
	Status  string
	Limit   int
}

func (r Repo) ListMessages(ctx context.Context, f MessageFilters) ([]domain.Message, error) {
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
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + messageColumns + ` FROM messages`
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
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) MarkMessageSent(ctx context.Context, id, providerID, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE messages SET status=?, provider_id=?, sent_at=? WHERE id=?`,
		domain.MessageSent, nullable(providerID), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkMessageSentTx(ctx context.Context, tx *sql.Tx, id, providerID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE messages SET status=?, provider_id=?, sent_at=? WHERE id=?`,
		domain.MessageSent, nullable(providerID), now, id)
	return err
}

func (r Repo) MarkMessageFailedTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE messages SET status=? WHERE id=?`, domain.MessageFailed, id)
	return err
}
