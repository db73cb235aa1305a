package repo

import (
	"context"
	"database/sql"

	"nicheperq/internal/domain"
)

const signalColumns = `id,owner_id,COALESCE(lead_id,''),COALESCE(message_id,''),kind,COALESCE(payload_json,''),received_at,processed_at`

func scanSignal(row interface{ Scan(...any) error }) (domain.Signal, error) {
	var s domain.Signal
	var processed sql.NullString
	err := row.Scan(&s.ID, &s.OwnerID, &s.LeadID, &s.MessageID, &s.Kind,
		&s.PayloadJSON, &s.ReceivedAt, &processed)
	if processed.Valid {
		s.ProcessedAt = &processed.String
	}
	return s, err
}

func (r Repo) InsertSignal(ctx context.Context, s domain.Signal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO signals(id,owner_id,lead_id,message_id,kind,payload_json,received_at,processed_at)
VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.OwnerID, nullable(s.LeadID), nullable(s.MessageID), s.Kind,
		nullable(s.PayloadJSON), s.ReceivedAt, nullableStringPtr(s.ProcessedAt))
	return err
}

func (r Repo) GetSignal(ctx context.Context, id string) (domain.Signal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id=?`, id)
	s, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// PendingSignals returns unprocessed signals oldest first, capped at limit.
func (r Repo) PendingSignals(ctx context.Context, ownerID string, limit int) ([]domain.Signal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+signalColumns+` FROM signals
WHERE owner_id=? AND processed_at IS NULL ORDER BY received_at, id LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) MarkSignalProcessedTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE signals SET processed_at=? WHERE id=? AND processed_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
