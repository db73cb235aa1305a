package nicheperqsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Nicheperq HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Lead represents the API lead model (partial).
type Lead struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	Niche           string `json:"niche,omitempty"`
	ContactStatus   string `json:"contact_status"`
	LastContactedAt string `json:"last_contacted_at,omitempty"`
	NextFollowUpAt  string `json:"next_follow_up_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// WorkflowStep represents one ordered step of a workflow.
type WorkflowStep struct {
	Order         int    `json:"order"`
	Action        string `json:"action"`
	DelayDays     int    `json:"delay_days,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	Tone          string `json:"tone,omitempty"`
	NewStatus     string `json:"new_status,omitempty"`
	ReminderDays  int    `json:"reminder_days,omitempty"`
	ConditionType string `json:"condition_type,omitempty"`
	BranchToOrder int    `json:"branch_to_order,omitempty"`
}

// Workflow represents the API workflow model.
type Workflow struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	Name         string `json:"name"`
	TriggerType  string `json:"trigger_type"`
	TriggerValue string `json:"trigger_value,omitempty"`
	Priority     int    `json:"priority"`
	IsActive     bool   `json:"is_active"`
	Steps        []struct {
		StepOrder     int    `json:"step_order"`
		Action        string `json:"action"`
		DelayDays     int    `json:"delay_days"`
		MessageType   string `json:"message_type,omitempty"`
		Tone          string `json:"tone,omitempty"`
		NewStatus     string `json:"new_status,omitempty"`
		ReminderDays  int    `json:"reminder_days,omitempty"`
		ConditionType string `json:"condition_type,omitempty"`
		BranchToOrder int    `json:"branch_to_order,omitempty"`
	} `json:"steps,omitempty"`
}

// Enrollment represents a lead's progress through a workflow.
type Enrollment struct {
	ID               string `json:"id"`
	LeadID           string `json:"lead_id"`
	WorkflowID       string `json:"workflow_id"`
	OwnerID          string `json:"owner_id"`
	Status           string `json:"status"`
	CurrentStepOrder int    `json:"current_step_order"`
	NextActionAt     string `json:"next_action_at,omitempty"`
	EnrolledAt       string `json:"enrolled_at"`
}

// Message represents an outbound message.
type Message struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	LeadID       string `json:"lead_id"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	MessageType  string `json:"message_type,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body,omitempty"`
	Status       string `json:"status"`
	ProviderID   string `json:"provider_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// Signal represents an inbound provider signal.
type Signal struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	LeadID      string `json:"lead_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Kind        string `json:"kind"`
	ReceivedAt  string `json:"received_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// ActionLog represents an action log entry.
type ActionLog struct {
	ID           int64  `json:"id"`
	OwnerID      string `json:"owner_id"`
	LeadID       string `json:"lead_id,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	StepOrder    int    `json:"step_order,omitempty"`
	ActionType   string `json:"action_type"`
	Success      bool   `json:"success"`
	DetailJSON   string `json:"detail_json,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// RunSummary reports what one engine pass did.
type RunSummary struct {
	Enrolled         int      `json:"enrolled"`
	StepsExecuted    int      `json:"steps_executed"`
	StepsFailed      int      `json:"steps_failed"`
	Completed        int      `json:"completed"`
	SignalsProcessed int      `json:"signals_processed"`
	SweepEnrolled    int      `json:"sweep_enrolled"`
	Errors           []string `json:"errors,omitempty"`
}

// EnrollmentCreated wraps the enroll response; AlreadyEnrolled is true when
// the lead already had an active enrollment in the workflow.
type EnrollmentCreated struct {
	Enrollment      *Enrollment `json:"enrollment,omitempty"`
	AlreadyEnrolled bool        `json:"already_enrolled"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedLeads wraps lead list responses with cursors.
type PaginatedLeads struct {
	Items  []Lead `json:"items"`
	Cursor string `json:"cursor,omitempty"`
}

// Run triggers one full engine pass.
func (c *Client) Run(ctx context.Context) (RunSummary, error) {
	var resp struct {
		Summary RunSummary `json:"summary"`
	}
	err := c.do(ctx, http.MethodPost, "v0/run", nil, &resp)
	return resp.Summary, err
}

// CreateLead imports a lead.
func (c *Client) CreateLead(ctx context.Context, name, email, niche, status string) (Lead, error) {
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	if email != "" {
		body["email"] = email
	}
	if niche != "" {
		body["niche"] = niche
	}
	if status != "" {
		body["status"] = status
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "v0/leads", body, &resp)
	return resp, err
}

// Leads returns a page of leads.
func (c *Client) Leads(ctx context.Context, limit int, cursor string) (PaginatedLeads, error) {
	endpoint := "v0/leads"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedLeads
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetLead fetches a lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, "v0/leads/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateWorkflow creates a workflow with its step list.
func (c *Client) CreateWorkflow(ctx context.Context, name, triggerType, triggerValue string, steps []WorkflowStep) (Workflow, error) {
	body := map[string]any{
		"name":         name,
		"trigger_type": triggerType,
		"steps":        steps,
	}
	if triggerValue != "" {
		body["trigger_value"] = triggerValue
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "v0/workflows", body, &resp)
	return resp, err
}

// Workflows lists workflows.
func (c *Client) Workflows(ctx context.Context) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, "v0/workflows", nil, &resp)
	return resp, err
}

// Enroll enrolls a lead into a workflow. A repeat call while the first
// enrollment is still active reports AlreadyEnrolled instead of failing.
func (c *Client) Enroll(ctx context.Context, leadID, workflowID, reason string) (EnrollmentCreated, error) {
	body := map[string]any{
		"lead_id":     leadID,
		"workflow_id": workflowID,
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp EnrollmentCreated
	err := c.do(ctx, http.MethodPost, "v0/enrollments", body, &resp)
	return resp, err
}

// Enrollments lists enrollments, optionally filtered by lead.
func (c *Client) Enrollments(ctx context.Context, leadID string) ([]Enrollment, error) {
	endpoint := "v0/enrollments"
	if leadID != "" {
		endpoint = fmt.Sprintf("%s?lead_id=%s", endpoint, url.QueryEscape(leadID))
	}
	var resp []Enrollment
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CancelEnrollment cancels an active enrollment.
func (c *Client) CancelEnrollment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/enrollments/"+url.PathEscape(id), nil, nil)
}

// RecordSignal records an inbound signal; the next run processes it.
func (c *Client) RecordSignal(ctx context.Context, leadID, messageID, kind string, payload map[string]any) (Signal, error) {
	body := map[string]any{"kind": kind}
	if leadID != "" {
		body["lead_id"] = leadID
	}
	if messageID != "" {
		body["message_id"] = messageID
	}
	if payload != nil {
		body["payload"] = payload
	}
	var resp Signal
	err := c.do(ctx, http.MethodPost, "v0/signals", body, &resp)
	return resp, err
}

// Messages lists outbound messages, optionally filtered by status.
func (c *Client) Messages(ctx context.Context, status string) ([]Message, error) {
	endpoint := "v0/messages"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Message
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApproveMessage dispatches a queued draft.
func (c *Client) ApproveMessage(ctx context.Context, id string) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, "v0/messages/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp, err
}

// ActionLogs returns recent action log entries.
func (c *Client) ActionLogs(ctx context.Context, limit int) ([]ActionLog, error) {
	endpoint := "v0/action-logs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []ActionLog
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
