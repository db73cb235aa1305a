package actionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends action log rows inside the caller's transaction, so a log
// entry commits atomically with the state change it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Detail map[string]any

// Entry identifies the acted-on enrollment step. EnrollmentID, WorkflowID and
// StepOrder may be zero for lead-level entries such as signal processing.
type Entry struct {
	OwnerID      string
	LeadID       string
	EnrollmentID string
	WorkflowID   string
	StepOrder    int
	ActionType   string
	Success      bool
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry, detail Detail) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if detail == nil {
		detail = Detail{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal action detail: %w", err)
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO action_logs(owner_id,lead_id,enrollment_id,workflow_id,step_order,action_type,success,detail_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.OwnerID, e.LeadID, nullable(e.EnrollmentID), nullable(e.WorkflowID), nullableInt(e.StepOrder), e.ActionType, success, string(data), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
