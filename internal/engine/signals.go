package engine

import (
	"context"
	"database/sql"
	"log"
	"time"

	"nicheperq/internal/actionlog"
	"nicheperq/internal/domain"
)

// RecordSignal stores an inbound provider signal, resolving the lead through
// the referenced outbound message when the payload carries no lead id.
func (e Engine) RecordSignal(ctx context.Context, s domain.Signal) (domain.Signal, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.ReceivedAt == "" {
		s.ReceivedAt = e.nowString()
	}
	if s.LeadID == "" && s.MessageID != "" {
		msg, err := e.Repo.GetMessage(ctx, s.MessageID)
		if err != nil {
			return domain.Signal{}, err
		}
		s.LeadID = msg.LeadID
		if s.OwnerID == "" {
			s.OwnerID = msg.OwnerID
		}
	}
	if err := e.Repo.InsertSignal(ctx, s); err != nil {
		return domain.Signal{}, err
	}
	return s, nil
}

// ProcessSignals consumes pending signals oldest first. A reply bumps an
// early-stage lead into the conversation status, and when the lead's active
// enrollment is parked on a reply_received condition the pointer jumps to the
// branch target with next_action_at = now, so the next tick runs it without
// waiting out the original delay. Open and click signals are only marked
// processed. Returns the number of signals processed.
func (e Engine) ProcessSignals(ctx context.Context, ownerID string) (int, error) {
	signals, err := e.Repo.PendingSignals(ctx, ownerID, e.Config.Batch.Signals)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, s := range signals {
		if err := e.processSignal(ctx, s); err != nil {
			log.Printf("engine: signal %s failed: %v", s.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (e Engine) processSignal(ctx context.Context, s domain.Signal) error {
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.Kind != domain.SignalReply || s.LeadID == "" {
		if err := e.Repo.MarkSignalProcessedTx(ctx, tx, s.ID, nowStr); err != nil {
			return err
		}
		return tx.Commit()
	}

	lead, err := e.Repo.GetLeadTx(ctx, tx, s.LeadID)
	if err != nil {
		return err
	}
	statusChanged := false
	if e.Config.EarlyStage(lead.ContactStatus) {
		if err := e.Repo.UpdateLeadStatusTx(ctx, tx, lead.ID, e.Config.Statuses.Reply); err != nil {
			return err
		}
		if err := e.Repo.TouchLeadContactTx(ctx, tx, lead.ID, nowStr); err != nil {
			return err
		}
		statusChanged = true
	}

	branched, err := e.branchOnReply(ctx, tx, lead.ID, nowStr)
	if err != nil {
		return err
	}

	entry := actionlog.Entry{
		OwnerID:    s.OwnerID,
		LeadID:     lead.ID,
		ActionType: "signal_" + s.Kind,
		Success:    true,
	}
	detail := actionlog.Detail{"status_changed": statusChanged, "branched": branched}
	if err := e.Logs.Append(ctx, tx, entry, detail); err != nil {
		return err
	}
	if err := e.Repo.MarkSignalProcessedTx(ctx, tx, s.ID, nowStr); err != nil {
		return err
	}
	return tx.Commit()
}

// branchOnReply short-circuits the lead's active enrollments parked on a
// reply_received condition. Besides the executor this is the only mutator of
// current_step_order.
func (e Engine) branchOnReply(ctx context.Context, tx *sql.Tx, leadID, nowStr string) (bool, error) {
	enrollments, err := e.Repo.ActiveEnrollmentsForLead(ctx, leadID)
	if err != nil {
		return false, err
	}
	branched := false
	for _, enr := range enrollments {
		w, err := e.Repo.GetWorkflow(ctx, enr.WorkflowID)
		if err != nil {
			return false, err
		}
		step := w.StepOf(enr.CurrentStepOrder)
		if step == nil || step.Action != domain.ActionCondition || step.ConditionType != domain.ConditionReplyReceived {
			continue
		}
		target := step.BranchToOrder
		if target == 0 {
			target = enr.CurrentStepOrder + 1
		}
		if w.StepOf(target) == nil {
			if err := e.Repo.CloseEnrollmentTx(ctx, tx, enr.ID, domain.EnrollmentCompleted, nowStr); err != nil {
				return false, err
			}
		} else {
			if err := e.Repo.AdvanceEnrollmentTx(ctx, tx, enr.ID, target, &nowStr, nowStr); err != nil {
				return false, err
			}
		}
		branched = true
	}
	return branched, nil
}
