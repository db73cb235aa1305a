package engine

import (
	"context"
	"fmt"

	"nicheperq/internal/actionlog"
	"nicheperq/internal/domain"
	"nicheperq/internal/outbound"
)

func outboundSendRequest(msg domain.Message, lead domain.Lead) outbound.SendRequest {
	return outbound.SendRequest{
		MessageID: msg.ID,
		LeadID:    lead.ID,
		To:        lead.Email,
		Subject:   msg.Subject,
		Body:      msg.Body,
	}
}

// ApproveMessage dispatches a queued draft on behalf of the owner. This is
// the manual path for plans without automatic sending, and the resend path
// after a failed dispatch.
func (e Engine) ApproveMessage(ctx context.Context, messageID string) (domain.Message, error) {
	msg, err := e.Repo.GetMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.Status == domain.MessageSent {
		return domain.Message{}, fmt.Errorf("message %s already sent", msg.ID)
	}
	lead, err := e.Repo.GetLead(ctx, msg.LeadID)
	if err != nil {
		return domain.Message{}, err
	}

	result, sendErr := e.Dispatcher.Send(ctx, outboundSendRequest(msg, lead))
	nowStr := e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	if sendErr != nil {
		if err := e.Repo.MarkMessageFailedTx(ctx, tx, msg.ID); err != nil {
			return domain.Message{}, err
		}
	} else {
		if err := e.Repo.MarkMessageSentTx(ctx, tx, msg.ID, result.ProviderID, nowStr); err != nil {
			return domain.Message{}, err
		}
		if err := e.Repo.TouchLeadContactTx(ctx, tx, lead.ID, nowStr); err != nil {
			return domain.Message{}, err
		}
	}
	entry := actionlog.Entry{
		OwnerID:      msg.OwnerID,
		LeadID:       msg.LeadID,
		EnrollmentID: msg.EnrollmentID,
		WorkflowID:   msg.WorkflowID,
		StepOrder:    msg.StepOrder,
		ActionType:   "message_approved",
		Success:      sendErr == nil,
	}
	detail := actionlog.Detail{"message_id": msg.ID}
	if sendErr != nil {
		detail["error"] = sendErr.Error()
	}
	if err := e.Logs.Append(ctx, tx, entry, detail); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	if sendErr != nil {
		return domain.Message{}, fmt.Errorf("dispatch message: %w", sendErr)
	}
	return e.Repo.GetMessage(ctx, msg.ID)
}
