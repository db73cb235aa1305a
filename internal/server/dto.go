package server

import (
	"nicheperq/internal/domain"
	"nicheperq/internal/engine"
)

// Request payloads

type CreateLeadRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   *string `json:"name,omitempty"`
	Email  *string `json:"email,omitempty"`
	Niche  *string `json:"niche,omitempty"`
	Status *string `json:"status,omitempty" enum:"new,contacted,attempted,qualified,in_conversation,closed,lost"`
}

type UpdateLeadRequest struct {
	Status string `json:"status" enum:"new,contacted,attempted,qualified,in_conversation,closed,lost"`
}

type BulkLeadsRequest struct {
	Leads []CreateLeadRequest `json:"leads"`
}

type WorkflowStepRequest struct {
	Order         int    `json:"order"`
	Action        string `json:"action" enum:"send_message,update_status,set_reminder,condition"`
	DelayDays     int    `json:"delay_days,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	Tone          string `json:"tone,omitempty"`
	NewStatus     string `json:"new_status,omitempty"`
	ReminderDays  int    `json:"reminder_days,omitempty"`
	ConditionType string `json:"condition_type,omitempty" enum:"reply_received,no_reply"`
	BranchToOrder int    `json:"branch_to_order,omitempty"`
}

type CreateWorkflowRequest struct {
	ID           *string               `json:"id,omitempty"`
	Name         string                `json:"name"`
	TriggerType  string                `json:"trigger_type" enum:"status_equals,niche_equals,lead_imported,inactive_for_days"`
	TriggerValue *string               `json:"trigger_value,omitempty"`
	Priority     *int                  `json:"priority,omitempty"`
	Steps        []WorkflowStepRequest `json:"steps"`
}

type UpdateWorkflowRequest struct {
	IsActive *bool `json:"is_active,omitempty"`
	Priority *int  `json:"priority,omitempty"`
}

type ReplaceStepsRequest struct {
	Steps []WorkflowStepRequest `json:"steps"`
}

type CreateEnrollmentRequest struct {
	LeadID     string `json:"lead_id"`
	WorkflowID string `json:"workflow_id"`
	Reason     string `json:"reason,omitempty"`
}

type SignalRequest struct {
	ID        *string        `json:"id,omitempty"`
	LeadID    *string        `json:"lead_id,omitempty"`
	MessageID *string        `json:"message_id,omitempty"`
	Kind      string         `json:"kind" enum:"reply,open,click"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	OwnerID string `json:"owner_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EnrollmentCreatedResponse struct {
	Enrollment      *domain.Enrollment `json:"enrollment,omitempty"`
	AlreadyEnrolled bool               `json:"already_enrolled"`
}

type RunResponse struct {
	Summary engine.Summary `json:"summary"`
}

type EnrollPhaseResponse struct {
	Enrolled int `json:"enrolled"`
}

type paginatedLeads struct {
	Items  []domain.Lead `json:"items"`
	Cursor string        `json:"cursor,omitempty"`
}

type BulkLeadsResponse struct {
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Items   []domain.Lead `json:"items"`
}

func stepFromRequest(req WorkflowStepRequest) domain.WorkflowStep {
	return domain.WorkflowStep{
		StepOrder:     req.Order,
		Action:        req.Action,
		DelayDays:     req.DelayDays,
		MessageType:   req.MessageType,
		Tone:          req.Tone,
		NewStatus:     req.NewStatus,
		ReminderDays:  req.ReminderDays,
		ConditionType: req.ConditionType,
		BranchToOrder: req.BranchToOrder,
	}
}

func stepsFromRequest(reqs []WorkflowStepRequest) []domain.WorkflowStep {
	steps := make([]domain.WorkflowStep, 0, len(reqs))
	for _, r := range reqs {
		steps = append(steps, stepFromRequest(r))
	}
	return steps
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
