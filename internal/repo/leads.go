package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nicheperq/internal/domain"
)

const leadColumns = `id,owner_id,name,email,contact_status,niche,last_contacted_at,next_follow_up_at,created_at`

func scanLead(row interface{ Scan(...any) error }) (domain.Lead, error) {
	var l domain.Lead
	var name, email, niche sql.NullString
	var lastContacted, nextFollowUp sql.NullString
	err := row.Scan(&l.ID, &l.OwnerID, &name, &email, &l.ContactStatus, &niche,
		&lastContacted, &nextFollowUp, &l.CreatedAt)
	if err != nil {
		return l, err
	}
	if name.Valid {
		l.Name = name.String
	}
	if email.Valid {
		l.Email = email.String
	}
	if niche.Valid {
		l.Niche = niche.String
	}
	if lastContacted.Valid {
		l.LastContactedAt = &lastContacted.String
	}
	if nextFollowUp.Valid {
		l.NextFollowUpAt = &nextFollowUp.String
	}
	return l, nil
}

func (r Repo) InsertLead(ctx context.Context, l domain.Lead) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO leads(`+leadColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.OwnerID, nullable(l.Name), nullable(l.Email), l.ContactStatus, nullable(l.Niche),
		nullableStringPtr(l.LastContactedAt), nullableStringPtr(l.NextFollowUpAt), l.CreatedAt)
	return err
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

type LeadFilters struct {
	OwnerID string
	Status  string
	Niche   string
	Limit   int
	After   string // cursor: created_at|id of the last seen lead
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "contact_status=?")
		args = append(args, f.Status)
	}
	if f.Niche != "" {
		where = append(where, "niche=?")
		args = append(args, f.Niche)
	}
	if f.After != "" {
		createdAt, id, ok := strings.Cut(f.After, "|")
		if !ok {
			return nil, fmt.Errorf("invalid cursor %q", f.After)
		}
		where = append(where, "(created_at, id) > (?, ?)")
		args = append(args, createdAt, id)
	}
	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// LeadCursor builds the pagination cursor for a lead.
func LeadCursor(l domain.Lead) string {
	return l.CreatedAt + "|" + l.ID
}

func (r Repo) UpdateLeadStatusTx(ctx context.Context, tx *sql.Tx, leadID, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET contact_status=? WHERE id=?`, status, leadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchLeadContactTx(ctx context.Context, tx *sql.Tx, leadID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE leads SET last_contacted_at=? WHERE id=?`, now, leadID)
	return err
}

func (r Repo) SetLeadReminderTx(ctx context.Context, tx *sql.Tx, leadID, dueAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE leads SET next_follow_up_at=? WHERE id=?`, dueAt, leadID)
	return err
}

// LeadsWithoutActiveEnrollment returns leads for an owner that hold no active
// enrollment in any workflow, oldest first, capped at limit.
func (r Repo) LeadsWithoutActiveEnrollment(ctx context.Context, ownerID string, limit int) ([]domain.Lead, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads
WHERE owner_id=?
  AND id NOT IN (SELECT lead_id FROM enrollments WHERE status='active')
ORDER BY created_at, id LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// InactiveLeads returns engaged leads with no active enrollment whose last
// contact is at or past the cutoff. Never-contacted leads qualify only once
// created_at passes the grace cutoff, so freshly imported leads are not swept
// immediately.
func (r Repo) InactiveLeads(ctx context.Context, ownerID string, engaged []string, cutoff, graceCutoff string, limit int) ([]domain.Lead, error) {
	if len(engaged) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(engaged))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{ownerID}
	for _, s := range engaged {
		args = append(args, s)
	}
	args = append(args, cutoff, graceCutoff, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads
WHERE owner_id=?
  AND contact_status IN (`+placeholders+`)
  AND id NOT IN (SELECT lead_id FROM enrollments WHERE status='active')
  AND ((last_contacted_at IS NOT NULL AND last_contacted_at <= ?)
       OR (last_contacted_at IS NULL AND created_at <= ?))
ORDER BY created_at, id LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}
