package engine

import (
	"context"
	"errors"
	"strings"

	"nicheperq/internal/actionlog"
	"nicheperq/internal/domain"
)

// LeadCreateOptions are parameters for importing a lead.
type LeadCreateOptions struct {
	ID     string
	Name   string
	Email  string
	Niche  string
	Status string
}

func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	if e.Config == nil {
		return domain.Lead{}, errors.New("config not loaded")
	}
	if opts.Status == "" {
		opts.Status = domain.LeadStatusNew
	}
	if opts.ID == "" {
		opts.ID = newID()
	}
	now := e.nowString()
	lead := domain.Lead{
		ID:            opts.ID,
		OwnerID:       e.Config.Owner.ID,
		Name:          strings.TrimSpace(opts.Name),
		Email:         strings.TrimSpace(opts.Email),
		Niche:         strings.TrimSpace(opts.Niche),
		ContactStatus: opts.Status,
		CreatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOwner(ctx, tx, lead.OwnerID, e.Config.Owner.Plan, now); err != nil {
		return domain.Lead{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO leads(id,owner_id,name,email,contact_status,niche,created_at) VALUES (?,?,?,?,?,?,?)`,
		lead.ID, lead.OwnerID, nullable(lead.Name), nullable(lead.Email), lead.ContactStatus, nullable(lead.Niche), lead.CreatedAt); err != nil {
		return domain.Lead{}, err
	}
	entry := actionlog.Entry{
		OwnerID:    lead.OwnerID,
		LeadID:     lead.ID,
		ActionType: "lead_imported",
		Success:    true,
	}
	if err := e.Logs.Append(ctx, tx, entry, actionlog.Detail{"status": lead.ContactStatus}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

// UpdateLeadStatus moves a lead to a new funnel status and logs the manual
// change alongside the engine's own transitions.
func (e Engine) UpdateLeadStatus(ctx context.Context, leadID, status string) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	lead, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if err := e.Repo.UpdateLeadStatusTx(ctx, tx, lead.ID, status); err != nil {
		return domain.Lead{}, err
	}
	entry := actionlog.Entry{
		OwnerID:    lead.OwnerID,
		LeadID:     lead.ID,
		ActionType: "status_updated",
		Success:    true,
	}
	if err := e.Logs.Append(ctx, tx, entry, actionlog.Detail{"from": lead.ContactStatus, "to": status}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	lead.ContactStatus = status
	return lead, nil
}

// WorkflowCreateOptions are parameters for creating a workflow with its steps.
type WorkflowCreateOptions struct {
	ID           string
	Name         string
	TriggerType  string
	TriggerValue string
	Priority     int
	Steps        []domain.WorkflowStep
}

func (e Engine) CreateWorkflow(ctx context.Context, opts WorkflowCreateOptions) (domain.Workflow, error) {
	if e.Config == nil {
		return domain.Workflow{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Workflow{}, errors.New("workflow name required")
	}
	switch opts.TriggerType {
	case domain.TriggerStatusEquals, domain.TriggerNicheEquals:
		if strings.TrimSpace(opts.TriggerValue) == "" {
			return domain.Workflow{}, errors.New("trigger value required")
		}
	case domain.TriggerLeadImported, domain.TriggerInactiveForDays:
	default:
		return domain.Workflow{}, errors.New("unknown trigger type " + opts.TriggerType)
	}
	if opts.ID == "" {
		opts.ID = newID()
	}
	if opts.Priority == 0 {
		opts.Priority = 100
	}
	now := e.nowString()
	w := domain.Workflow{
		ID:           opts.ID,
		OwnerID:      e.Config.Owner.ID,
		Name:         strings.TrimSpace(opts.Name),
		TriggerType:  opts.TriggerType,
		TriggerValue: strings.TrimSpace(opts.TriggerValue),
		Priority:     opts.Priority,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i := range opts.Steps {
		if opts.Steps[i].ID == "" {
			opts.Steps[i].ID = newID()
		}
		opts.Steps[i].WorkflowID = w.ID
	}
	w.Steps = opts.Steps
	if err := e.ensureOwnerRow(ctx); err != nil {
		return domain.Workflow{}, err
	}
	if err := e.Repo.InsertWorkflow(ctx, w); err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

func (e Engine) ensureOwnerRow(ctx context.Context) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOwner(ctx, tx, e.Config.Owner.ID, e.Config.Owner.Plan, e.nowString()); err != nil {
		return err
	}
	return tx.Commit()
}

// InitOwner seeds the owner row and its stored config.
func (e Engine) InitOwner(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ownerID := e.Config.Owner.ID
	if err := e.Repo.EnsureOwner(ctx, tx, ownerID, e.Config.Owner.Plan, e.nowString()); err != nil {
		return err
	}
	if err := e.Repo.UpsertOwnerConfigTx(ctx, tx, ownerID, e.Config); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
