package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"nicheperq/internal/actionlog"
	"nicheperq/internal/domain"
	"nicheperq/internal/outbound"
)

// ExecutionReport counts one tick's work.
type ExecutionReport struct {
	Executed  int `json:"executed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Completed int `json:"completed"`
}

// Tick executes every due enrollment once. Each enrollment runs in its own
// transaction so a failure on one cannot corrupt or abort the others; the
// batch is capped by config.
func (e Engine) Tick(ctx context.Context, ownerID string) (ExecutionReport, error) {
	var report ExecutionReport
	now := e.now().UTC()
	due, err := e.Repo.DueEnrollments(ctx, ownerID, now.Format(time.RFC3339), e.Config.Batch.Tick)
	if err != nil {
		return report, err
	}
	for _, enr := range due {
		outcome, err := e.executeEnrollment(ctx, enr, now)
		if err != nil {
			log.Printf("engine: enrollment %s step failed: %v", enr.ID, err)
			report.Failed++
			continue
		}
		switch outcome {
		case outcomeSkipped:
			report.Skipped++
		case outcomeCompleted:
			report.Executed++
			report.Completed++
		default:
			report.Executed++
		}
	}
	return report, nil
}

type tickOutcome int

const (
	outcomeExecuted tickOutcome = iota
	outcomeSkipped
	outcomeCompleted
)

func (e Engine) executeEnrollment(ctx context.Context, enr domain.Enrollment, now time.Time) (tickOutcome, error) {
	w, err := e.Repo.GetWorkflow(ctx, enr.WorkflowID)
	if err != nil {
		return 0, fmt.Errorf("load workflow: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Re-read inside the transaction; another invocation may have advanced
	// or closed this enrollment since the due query ran.
	enr, err = e.Repo.GetEnrollmentTx(ctx, tx, enr.ID)
	if err != nil {
		return 0, err
	}
	if enr.Status != domain.EnrollmentActive {
		return outcomeSkipped, nil
	}
	nowStr := now.Format(time.RFC3339)

	step := w.StepOf(enr.CurrentStepOrder)
	if step == nil {
		if err := e.Repo.CloseEnrollmentTx(ctx, tx, enr.ID, domain.EnrollmentCompleted, nowStr); err != nil {
			return 0, err
		}
		if err := e.Logs.Append(ctx, tx, logEntry(enr, "enrollment_completed", true), nil); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return outcomeCompleted, nil
	}

	// Redundant-execution guard: a delayed step that already ran within its
	// delay window was re-queued early; skip without advancing. Scoped to
	// this enrollment so parallel workflows cannot suppress each other.
	if step.DelayDays > 0 {
		lastAt, err := e.Repo.LastActionAtTx(ctx, tx, enr.ID, step.StepOrder, step.Action)
		if err != nil {
			return 0, err
		}
		if lastAt != "" {
			last, err := time.Parse(time.RFC3339, lastAt)
			if err == nil && now.Sub(last) < time.Duration(step.DelayDays)*24*time.Hour {
				return outcomeSkipped, nil
			}
		}
	}

	actionErr := e.performAction(ctx, tx, enr, w, *step, now)

	nextOrder := enr.CurrentStepOrder + 1
	if step.Action == domain.ActionCondition && actionErr == nil {
		hit, err := e.conditionHolds(ctx, tx, enr, *step)
		if err != nil {
			return 0, err
		}
		if hit && step.BranchToOrder != 0 {
			nextOrder = step.BranchToOrder
		}
	}

	var outcome tickOutcome
	if next := w.StepOf(nextOrder); next == nil {
		if err := e.Repo.CloseEnrollmentTx(ctx, tx, enr.ID, domain.EnrollmentCompleted, nowStr); err != nil {
			return 0, err
		}
		outcome = outcomeCompleted
	} else {
		nextAt := now.AddDate(0, 0, next.DelayDays).Format(time.RFC3339)
		if err := e.Repo.AdvanceEnrollmentTx(ctx, tx, enr.ID, nextOrder, &nextAt, nowStr); err != nil {
			return 0, err
		}
		outcome = outcomeExecuted
	}

	detail := actionlog.Detail{"next_order": nextOrder}
	if actionErr != nil {
		detail["error"] = actionErr.Error()
	}
	entry := logEntry(enr, step.Action, actionErr == nil)
	if err := e.Logs.Append(ctx, tx, entry, detail); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if actionErr != nil {
		// Logged and advanced; the step is not retried automatically.
		log.Printf("engine: enrollment %s step %d %s failed: %v", enr.ID, step.StepOrder, step.Action, actionErr)
	}
	return outcome, nil
}

func (e Engine) performAction(ctx context.Context, tx *sql.Tx, enr domain.Enrollment, w domain.Workflow, step domain.WorkflowStep, now time.Time) error {
	switch step.Action {
	case domain.ActionSendMessage:
		return e.sendMessage(ctx, tx, enr, w, step, now)
	case domain.ActionUpdateStatus:
		return e.Repo.UpdateLeadStatusTx(ctx, tx, enr.LeadID, step.NewStatus)
	case domain.ActionSetReminder:
		dueAt := now.AddDate(0, 0, step.ReminderDays).Format(time.RFC3339)
		return e.Repo.SetLeadReminderTx(ctx, tx, enr.LeadID, dueAt)
	case domain.ActionCondition:
		return nil
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// sendMessage drafts copy for the lead and, when the owner's plan allows
// automatic sending, dispatches it immediately. Drafts for other plans stay
// queued for manual approval. last_contacted_at moves only on an actual send.
func (e Engine) sendMessage(ctx context.Context, tx *sql.Tx, enr domain.Enrollment, w domain.Workflow, step domain.WorkflowStep, now time.Time) error {
	lead, err := e.Repo.GetLeadTx(ctx, tx, enr.LeadID)
	if err != nil {
		return err
	}
	draft, err := e.Generator.Generate(ctx, outbound.GenerateRequest{
		LeadID:      lead.ID,
		LeadName:    lead.Name,
		LeadEmail:   lead.Email,
		Niche:       lead.Niche,
		Status:      lead.ContactStatus,
		MessageType: step.MessageType,
		Tone:        step.Tone,
	})
	if err != nil {
		return fmt.Errorf("generate message: %w", err)
	}
	msg := domain.Message{
		ID:           newID(),
		OwnerID:      enr.OwnerID,
		LeadID:       lead.ID,
		EnrollmentID: enr.ID,
		WorkflowID:   w.ID,
		StepOrder:    step.StepOrder,
		MessageType:  step.MessageType,
		Tone:         step.Tone,
		Subject:      draft.Subject,
		Body:         draft.Body,
		Status:       domain.MessageDraft,
		CreatedAt:    now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertMessageTx(ctx, tx, msg); err != nil {
		return err
	}

	plan, err := e.Repo.OwnerPlan(ctx, enr.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve owner plan: %w", err)
	}
	if !e.Config.AutoSendAllowed(plan) {
		return nil
	}

	result, err := e.Dispatcher.Send(ctx, outbound.SendRequest{
		MessageID: msg.ID,
		LeadID:    lead.ID,
		To:        lead.Email,
		Subject:   draft.Subject,
		Body:      draft.Body,
	})
	if err != nil {
		if markErr := e.Repo.MarkMessageFailedTx(ctx, tx, msg.ID); markErr != nil {
			return markErr
		}
		return fmt.Errorf("dispatch message: %w", err)
	}
	nowStr := now.Format(time.RFC3339)
	if err := e.Repo.MarkMessageSentTx(ctx, tx, msg.ID, result.ProviderID, nowStr); err != nil {
		return err
	}
	return e.Repo.TouchLeadContactTx(ctx, tx, lead.ID, nowStr)
}

// conditionHolds evaluates a condition step's predicate against signals
// received since enrollment.
func (e Engine) conditionHolds(ctx context.Context, tx *sql.Tx, enr domain.Enrollment, step domain.WorkflowStep) (bool, error) {
	replied, err := e.Repo.ReplySinceTx(ctx, tx, enr.LeadID, enr.EnrolledAt)
	if err != nil {
		return false, err
	}
	switch step.ConditionType {
	case domain.ConditionReplyReceived:
		return replied, nil
	case domain.ConditionNoReply:
		return !replied, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", step.ConditionType)
	}
}
