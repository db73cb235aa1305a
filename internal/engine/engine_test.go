package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nicheperq/internal/config"
	"nicheperq/internal/db"
	"nicheperq/internal/domain"
	"nicheperq/internal/engine"
	"nicheperq/internal/migrate"
	"nicheperq/internal/outbound"
	"nicheperq/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("owner-1")
	eng := engine.New(conn, cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	if err := eng.InitOwner(ctx); err != nil {
		t.Fatalf("init owner: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, clock: &now}
}

func outreachWorkflow(t *testing.T, env *testEnv) domain.Workflow {
	t.Helper()
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name:        "new lead outreach",
		TriggerType: domain.TriggerLeadImported,
		Steps: []domain.WorkflowStep{
			{StepOrder: 1, Action: domain.ActionSendMessage, DelayDays: 0, MessageType: "initial_outreach"},
			{StepOrder: 2, Action: domain.ActionUpdateStatus, DelayDays: 3, NewStatus: domain.LeadStatusAttempted},
		},
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return w
}

func TestEnrollSingleActivePerWorkflow(t *testing.T) {
	env := newTestEnv(t)
	w := outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if _, err := env.Engine.Enroll(env.Ctx, lead, w, engine.EnrollMetadata{Reason: "manual"}); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	_, err = env.Engine.Enroll(env.Ctx, lead, w, engine.EnrollMetadata{Reason: "manual"})
	if !errors.Is(err, engine.ErrAlreadyEnrolled) {
		t.Fatalf("expected ErrAlreadyEnrolled, got %v", err)
	}
}

func TestEnrollMatchingIdempotent(t *testing.T) {
	env := newTestEnv(t)
	outreachWorkflow(t, env)
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.EnrollMatching(env.Ctx, "owner-1")
	if err != nil || n != 1 {
		t.Fatalf("first pass: n=%d err=%v", n, err)
	}
	n, err = env.Engine.EnrollMatching(env.Ctx, "owner-1")
	if err != nil || n != 0 {
		t.Fatalf("second pass should enroll nothing: n=%d err=%v", n, err)
	}
}

func TestTriggerPriorityOrder(t *testing.T) {
	env := newTestEnv(t)
	steps := func() []domain.WorkflowStep {
		return []domain.WorkflowStep{
			{StepOrder: 1, Action: domain.ActionUpdateStatus, NewStatus: domain.LeadStatusContacted},
		}
	}
	if _, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name: "fallback", TriggerType: domain.TriggerLeadImported, Priority: 200, Steps: steps(),
	}); err != nil {
		t.Fatal(err)
	}
	preferred, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name: "preferred", TriggerType: domain.TriggerStatusEquals, TriggerValue: domain.LeadStatusNew, Priority: 10, Steps: steps(),
	})
	if err != nil {
		t.Fatal(err)
	}
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if n, err := env.Engine.EnrollMatching(env.Ctx, "owner-1"); err != nil || n != 1 {
		t.Fatalf("enroll: n=%d err=%v", n, err)
	}
	enrollments, err := env.Engine.Repo.ListEnrollments(env.Ctx, repo.EnrollmentFilters{LeadID: lead.ID})
	if err != nil || len(enrollments) != 1 {
		t.Fatalf("list enrollments: %v (%d)", err, len(enrollments))
	}
	if enrollments[0].WorkflowID != preferred.ID {
		t.Fatalf("expected lowest-priority-number workflow to win, got %s", enrollments[0].WorkflowID)
	}
}

func TestRunOutreachLifecycle(t *testing.T) {
	env := newTestEnv(t)
	outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	// Pass 1: enrolls and runs step 1 in the same pass (delay 0).
	sum, err := env.Engine.Run(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Enrolled != 1 || sum.StepsExecuted != 1 {
		t.Fatalf("pass 1: %+v", sum)
	}
	msgs, err := env.Engine.Repo.ListMessages(env.Ctx, repo.MessageFilters{LeadID: lead.ID})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages: %v (%d)", err, len(msgs))
	}
	if msgs[0].Status != domain.MessageDraft {
		t.Fatalf("free plan must queue a draft, got %s", msgs[0].Status)
	}
	enrollments, _ := env.Engine.Repo.ListEnrollments(env.Ctx, repo.EnrollmentFilters{LeadID: lead.ID})
	if enrollments[0].CurrentStepOrder != 2 {
		t.Fatalf("expected pointer at step 2, got %d", enrollments[0].CurrentStepOrder)
	}
	wantNext := env.clock.Add(3 * 24 * time.Hour).Format(time.RFC3339)
	if enrollments[0].NextActionAt == nil || *enrollments[0].NextActionAt != wantNext {
		t.Fatalf("next_action_at = %v, want %s", enrollments[0].NextActionAt, wantNext)
	}

	// Immediate second pass: step 2 is not due yet.
	sum, err = env.Engine.Run(env.Ctx)
	if err != nil || sum.StepsExecuted != 0 || sum.Enrolled != 0 {
		t.Fatalf("idle pass: %+v err=%v", sum, err)
	}

	// Three days later step 2 runs, updates the status, and completes.
	env.advance(3 * 24 * time.Hour)
	sum, err = env.Engine.Run(env.Ctx)
	if err != nil || sum.StepsExecuted != 1 || sum.Completed != 1 {
		t.Fatalf("final pass: %+v err=%v", sum, err)
	}
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil || got.ContactStatus != domain.LeadStatusAttempted {
		t.Fatalf("lead status = %s err=%v", got.ContactStatus, err)
	}
	enrollments, _ = env.Engine.Repo.ListEnrollments(env.Ctx, repo.EnrollmentFilters{LeadID: lead.ID})
	if enrollments[0].Status != domain.EnrollmentCompleted {
		t.Fatalf("enrollment status = %s", enrollments[0].Status)
	}

	// Completed enrollments are never picked up again.
	sum, err = env.Engine.Run(env.Ctx)
	if err != nil || sum.StepsExecuted != 0 {
		t.Fatalf("post-completion pass: %+v err=%v", sum, err)
	}
}

func TestDelayedStepGuard(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name:        "two sends",
		TriggerType: domain.TriggerLeadImported,
		Steps: []domain.WorkflowStep{
			{StepOrder: 1, Action: domain.ActionSendMessage, MessageType: "initial_outreach"},
			{StepOrder: 2, Action: domain.ActionSendMessage, DelayDays: 3, MessageType: "follow_up"},
			{StepOrder: 3, Action: domain.ActionUpdateStatus, NewStatus: domain.LeadStatusAttempted},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	enr, err := env.Engine.Enroll(env.Ctx, lead, w, engine.EnrollMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Tick(env.Ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	env.advance(3 * 24 * time.Hour)
	report, err := env.Engine.Tick(env.Ctx, "owner-1")
	if err != nil || report.Executed != 1 {
		t.Fatalf("follow_up tick: %+v err=%v", report, err)
	}

	// Simulate an overlapping invoker re-queuing the already-run step.
	if _, err := env.Engine.DB.Exec(`UPDATE enrollments SET current_step_order=2, next_action_at=? WHERE id=?`,
		env.clock.Format(time.RFC3339), enr.ID); err != nil {
		t.Fatal(err)
	}
	report, err = env.Engine.Tick(env.Ctx, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Executed != 0 {
		t.Fatalf("guard should skip without advancing: %+v", report)
	}
	msgs, _ := env.Engine.Repo.ListMessages(env.Ctx, repo.MessageFilters{LeadID: lead.ID})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestReplyShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name:        "outreach with branch",
		TriggerType: domain.TriggerLeadImported,
		Steps: []domain.WorkflowStep{
			{StepOrder: 1, Action: domain.ActionSendMessage, MessageType: "initial_outreach"},
			{StepOrder: 2, Action: domain.ActionCondition, DelayDays: 5, ConditionType: domain.ConditionReplyReceived, BranchToOrder: 4},
			{StepOrder: 3, Action: domain.ActionSendMessage, MessageType: "follow_up"},
			{StepOrder: 4, Action: domain.ActionUpdateStatus, NewStatus: domain.LeadStatusQualified},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Run(env.Ctx); err != nil {
		t.Fatal(err)
	}

	env.advance(24 * time.Hour)
	if _, err := env.Engine.RecordSignal(env.Ctx, domain.Signal{
		OwnerID: "owner-1", LeadID: lead.ID, Kind: domain.SignalReply,
	}); err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.Run(env.Ctx)
	if err != nil || sum.SignalsProcessed != 1 {
		t.Fatalf("signal pass: %+v err=%v", sum, err)
	}

	// The reply jumped the pointer to step 4, which ran in the same pass.
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil || got.ContactStatus != domain.LeadStatusQualified {
		t.Fatalf("lead status = %s err=%v", got.ContactStatus, err)
	}
	enrollments, _ := env.Engine.Repo.ListEnrollments(env.Ctx, repo.EnrollmentFilters{LeadID: lead.ID})
	if enrollments[0].Status != domain.EnrollmentCompleted {
		t.Fatalf("enrollment status = %s", enrollments[0].Status)
	}
	msgs, _ := env.Engine.Repo.ListMessages(env.Ctx, repo.MessageFilters{LeadID: lead.ID})
	if len(msgs) != 1 {
		t.Fatalf("follow_up must not run after a reply; got %d messages", len(msgs))
	}
}

func TestReplyBumpsEarlyStageStatus(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada", Status: domain.LeadStatusContacted})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordSignal(env.Ctx, domain.Signal{
		OwnerID: "owner-1", LeadID: lead.ID, Kind: domain.SignalReply,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ProcessSignals(env.Ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil || got.ContactStatus != domain.LeadStatusInConversation {
		t.Fatalf("lead status = %s err=%v", got.ContactStatus, err)
	}

	// A qualified lead keeps its status on reply.
	qualified, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Bo", Status: domain.LeadStatusQualified})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordSignal(env.Ctx, domain.Signal{
		OwnerID: "owner-1", LeadID: qualified.ID, Kind: domain.SignalReply,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ProcessSignals(env.Ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetLead(env.Ctx, qualified.ID)
	if got.ContactStatus != domain.LeadStatusQualified {
		t.Fatalf("qualified lead status moved to %s", got.ContactStatus)
	}
}

func TestSweepInactive(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name:         "reengage",
		TriggerType:  domain.TriggerInactiveForDays,
		TriggerValue: "7",
		Steps: []domain.WorkflowStep{
			{StepOrder: 1, Action: domain.ActionSendMessage, MessageType: "reengage"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	now := *env.clock
	stale := now.AddDate(0, 0, -10).Format(time.RFC3339)
	if err := env.Engine.Repo.InsertLead(env.Ctx, domain.Lead{
		ID:              "lead-stale",
		OwnerID:         "owner-1",
		Name:            "Ada",
		ContactStatus:   domain.LeadStatusContacted,
		LastContactedAt: &stale,
		CreatedAt:       now.AddDate(0, 0, -30).Format(time.RFC3339),
	}); err != nil {
		t.Fatal(err)
	}
	fresh := now.AddDate(0, 0, -2).Format(time.RFC3339)
	if err := env.Engine.Repo.InsertLead(env.Ctx, domain.Lead{
		ID:              "lead-fresh",
		OwnerID:         "owner-1",
		Name:            "Bo",
		ContactStatus:   domain.LeadStatusContacted,
		LastContactedAt: &fresh,
		CreatedAt:       now.AddDate(0, 0, -30).Format(time.RFC3339),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := env.Engine.SweepInactive(env.Ctx, "owner-1")
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	enrollments, err := env.Engine.Repo.ListEnrollments(env.Ctx, repo.EnrollmentFilters{LeadID: "lead-stale"})
	if err != nil || len(enrollments) != 1 {
		t.Fatalf("enrollments: %v (%d)", err, len(enrollments))
	}
	if !strings.Contains(enrollments[0].MetadataJSON, `"reason":"inactivity"`) {
		t.Fatalf("metadata = %s", enrollments[0].MetadataJSON)
	}

	// The actively enrolled lead is excluded from the next sweep.
	n, err = env.Engine.SweepInactive(env.Ctx, "owner-1")
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

type failingDispatcher struct{}

func (failingDispatcher) Send(context.Context, outbound.SendRequest) (outbound.SendResult, error) {
	return outbound.SendResult{}, errors.New("provider unavailable")
}

func TestFailedDispatchStillAdvances(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.UpdateOwnerPlan(env.Ctx, "owner-1", "pro"); err != nil {
		t.Fatal(err)
	}
	env.Engine.Dispatcher = failingDispatcher{}
	outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.Run(env.Ctx)
	if err != nil || sum.StepsExecuted != 1 {
		t.Fatalf("run: %+v err=%v", sum, err)
	}
	msgs, _ := env.Engine.Repo.ListMessages(env.Ctx, repo.MessageFilters{LeadID: lead.ID})
	if len(msgs) != 1 || msgs[0].Status != domain.MessageFailed {
		t.Fatalf("messages: %+v", msgs)
	}
	enrollments, _ := env.Engine.Repo.ListEnrollments(env.Ctx, repo.EnrollmentFilters{LeadID: lead.ID})
	if enrollments[0].CurrentStepOrder != 2 {
		t.Fatalf("failed send must still advance, pointer at %d", enrollments[0].CurrentStepOrder)
	}
	logs, err := env.Engine.Repo.ListActionLogs(env.Ctx, repo.ActionLogFilters{
		EnrollmentID: enrollments[0].ID,
		ActionType:   domain.ActionSendMessage,
	})
	if err != nil || len(logs) != 1 {
		t.Fatalf("action logs: %v (%d)", err, len(logs))
	}
	if logs[0].Success {
		t.Fatalf("expected success=false log entry")
	}
}

func TestAutoSendPlanGating(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.UpdateOwnerPlan(env.Ctx, "owner-1", "pro"); err != nil {
		t.Fatal(err)
	}
	outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Run(env.Ctx); err != nil {
		t.Fatal(err)
	}
	msgs, _ := env.Engine.Repo.ListMessages(env.Ctx, repo.MessageFilters{LeadID: lead.ID})
	if len(msgs) != 1 || msgs[0].Status != domain.MessageSent {
		t.Fatalf("pro plan should auto-send: %+v", msgs)
	}
	if msgs[0].ProviderID == "" {
		t.Fatalf("expected provider id on sent message")
	}
	got, _ := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if got.LastContactedAt == nil {
		t.Fatalf("last_contacted_at should move on send")
	}
}

func TestApproveMessage(t *testing.T) {
	env := newTestEnv(t)
	outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Run(env.Ctx); err != nil {
		t.Fatal(err)
	}
	msgs, _ := env.Engine.Repo.ListMessages(env.Ctx, repo.MessageFilters{LeadID: lead.ID})
	if len(msgs) != 1 || msgs[0].Status != domain.MessageDraft {
		t.Fatalf("expected one draft: %+v", msgs)
	}
	sent, err := env.Engine.ApproveMessage(env.Ctx, msgs[0].ID)
	if err != nil || sent.Status != domain.MessageSent {
		t.Fatalf("approve: %+v err=%v", sent, err)
	}
	if _, err := env.Engine.ApproveMessage(env.Ctx, msgs[0].ID); err == nil {
		t.Fatalf("approving a sent message must fail")
	}
}

func TestUpdateLeadStatusLogged(t *testing.T) {
	env := newTestEnv(t)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := env.Engine.UpdateLeadStatus(env.Ctx, lead.ID, domain.LeadStatusQualified)
	if err != nil || updated.ContactStatus != domain.LeadStatusQualified {
		t.Fatalf("update: %+v err=%v", updated, err)
	}
	logs, err := env.Engine.Repo.ListActionLogs(env.Ctx, repo.ActionLogFilters{
		LeadID:     lead.ID,
		ActionType: "status_updated",
	})
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs: %v (%d)", err, len(logs))
	}
}

func TestDeleteWorkflowInUse(t *testing.T) {
	env := newTestEnv(t)
	w := outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	enr, err := env.Engine.Enroll(env.Ctx, lead, w, engine.EnrollMetadata{Reason: "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.DeleteWorkflow(env.Ctx, w.ID); !errors.Is(err, repo.ErrWorkflowInUse) {
		t.Fatalf("expected ErrWorkflowInUse, got %v", err)
	}
	// Cancelled enrollments still count as references.
	if err := env.Engine.CancelEnrollment(env.Ctx, enr.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.DeleteWorkflow(env.Ctx, w.ID); !errors.Is(err, repo.ErrWorkflowInUse) {
		t.Fatalf("expected ErrWorkflowInUse after cancel, got %v", err)
	}

	unused, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		Name:        "unused",
		TriggerType: domain.TriggerLeadImported,
		Steps: []domain.WorkflowStep{
			{StepOrder: 1, Action: domain.ActionSetReminder, ReminderDays: 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.DeleteWorkflow(env.Ctx, unused.ID); err != nil {
		t.Fatalf("delete unused: %v", err)
	}
	if _, err := env.Engine.Repo.GetWorkflow(env.Ctx, unused.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelEnrollment(t *testing.T) {
	env := newTestEnv(t)
	w := outreachWorkflow(t, env)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	enr, err := env.Engine.Enroll(env.Ctx, lead, w, engine.EnrollMetadata{Reason: "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.CancelEnrollment(env.Ctx, enr.ID); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetEnrollment(env.Ctx, enr.ID)
	if err != nil || got.Status != domain.EnrollmentCancelled {
		t.Fatalf("enrollment status = %s err=%v", got.Status, err)
	}
	// Cancelled enrollments free the slot for re-enrollment.
	if _, err := env.Engine.Enroll(env.Ctx, lead, w, engine.EnrollMetadata{Reason: "manual"}); err != nil {
		t.Fatalf("re-enroll after cancel: %v", err)
	}
}
