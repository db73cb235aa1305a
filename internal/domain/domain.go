package domain

// Lead statuses the engine reads and writes. The funnel order matters for the
// early-stage and engaged sets in config.
const (
	LeadStatusNew            = "new"
	LeadStatusContacted      = "contacted"
	LeadStatusAttempted      = "attempted"
	LeadStatusQualified      = "qualified"
	LeadStatusInConversation = "in_conversation"
	LeadStatusClosed         = "closed"
	LeadStatusLost           = "lost"
)

// Workflow trigger types.
const (
	TriggerStatusEquals    = "status_equals"
	TriggerNicheEquals     = "niche_equals"
	TriggerLeadImported    = "lead_imported"
	TriggerInactiveForDays = "inactive_for_days"
)

// Step actions.
const (
	ActionSendMessage  = "send_message"
	ActionUpdateStatus = "update_status"
	ActionSetReminder  = "set_reminder"
	ActionCondition    = "condition"
)

// Condition types for condition steps.
const (
	ConditionReplyReceived = "reply_received"
	ConditionNoReply       = "no_reply"
)

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentCancelled = "cancelled"
)

// Signal kinds arriving from the message provider.
const (
	SignalReply = "reply"
	SignalOpen  = "open"
	SignalClick = "click"
)

// Message statuses.
const (
	MessageDraft  = "draft"
	MessageSent   = "sent"
	MessageFailed = "failed"
)

type Owner struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Plan      string `json:"plan" enum:"free,starter,pro"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Lead struct {
	ID              string  `json:"id"`
	OwnerID         string  `json:"owner_id"`
	Name            string  `json:"name,omitempty"`
	Email           string  `json:"email,omitempty"`
	Niche           string  `json:"niche,omitempty"`
	ContactStatus   string  `json:"contact_status"`
	LastContactedAt *string `json:"last_contacted_at,omitempty" format:"date-time"`
	NextFollowUpAt  *string `json:"next_follow_up_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type Workflow struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Name         string         `json:"name"`
	TriggerType  string         `json:"trigger_type" enum:"status_equals,niche_equals,lead_imported,inactive_for_days"`
	TriggerValue string         `json:"trigger_value,omitempty"`
	Priority     int            `json:"priority"`
	IsActive     bool           `json:"is_active"`
	Steps        []WorkflowStep `json:"steps,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

// WorkflowStep carries action-specific parameters; only the fields relevant
// to its action are set. Validated at construction, not at execution.
type WorkflowStep struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	StepOrder  int    `json:"step_order"`
	Action     string `json:"action" enum:"send_message,update_status,set_reminder,condition"`
	DelayDays  int    `json:"delay_days"`

	MessageType string `json:"message_type,omitempty"`
	Tone        string `json:"tone,omitempty"`

	NewStatus string `json:"new_status,omitempty"`

	ReminderDays int `json:"reminder_days,omitempty"`

	ConditionType string `json:"condition_type,omitempty" enum:"reply_received,no_reply"`
	BranchToOrder int    `json:"branch_to_order,omitempty"`
}

type Enrollment struct {
	ID               string  `json:"id"`
	LeadID           string  `json:"lead_id"`
	WorkflowID       string  `json:"workflow_id"`
	OwnerID          string  `json:"owner_id"`
	Status           string  `json:"status" enum:"active,completed,cancelled"`
	CurrentStepOrder int     `json:"current_step_order"`
	NextActionAt     *string `json:"next_action_at,omitempty" format:"date-time"`
	EnrolledAt       string  `json:"enrolled_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
	MetadataJSON     string  `json:"metadata_json,omitempty"`
}

// ActionLog is append-only; rows are never mutated after insert.
type ActionLog struct {
	ID           int64  `json:"id"`
	OwnerID      string `json:"owner_id"`
	LeadID       string `json:"lead_id"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	StepOrder    int    `json:"step_order,omitempty"`
	ActionType   string `json:"action_type"`
	Success      bool   `json:"success"`
	DetailJSON   string `json:"detail_json,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Signal struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	LeadID      string  `json:"lead_id,omitempty"`
	MessageID   string  `json:"message_id,omitempty"`
	Kind        string  `json:"kind" enum:"reply,open,click"`
	PayloadJSON string  `json:"payload_json,omitempty"`
	ReceivedAt  string  `json:"received_at" format:"date-time"`
	ProcessedAt *string `json:"processed_at,omitempty" format:"date-time"`
}

type Message struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	LeadID       string  `json:"lead_id"`
	EnrollmentID string  `json:"enrollment_id,omitempty"`
	WorkflowID   string  `json:"workflow_id,omitempty"`
	StepOrder    int     `json:"step_order,omitempty"`
	MessageType  string  `json:"message_type,omitempty"`
	Tone         string  `json:"tone,omitempty"`
	Subject      string  `json:"subject,omitempty"`
	Body         string  `json:"body,omitempty"`
	Status       string  `json:"status" enum:"draft,sent,failed"`
	ProviderID   string  `json:"provider_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	SentAt       *string `json:"sent_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StepOf returns the step with the given 1-based order, or nil.
func (w Workflow) StepOf(order int) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].StepOrder == order {
			return &w.Steps[i]
		}
	}
	return nil
}
