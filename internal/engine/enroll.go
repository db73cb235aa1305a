package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"nicheperq/internal/domain"
	"nicheperq/internal/repo"
)

// EnrollMetadata records why an enrollment was created.
type EnrollMetadata struct {
	Reason       string `json:"reason,omitempty"`
	DaysInactive int    `json:"days_inactive,omitempty"`
}

// Enroll creates an active enrollment for the lead in the workflow and
// schedules its first step. A lead that already holds an active enrollment in
// the workflow yields ErrAlreadyEnrolled; the store's unique index backs the
// check, so overlapping invocations cannot produce a duplicate.
func (e Engine) Enroll(ctx context.Context, lead domain.Lead, w domain.Workflow, meta EnrollMetadata) (domain.Enrollment, error) {
	first := w.StepOf(1)
	if first == nil {
		return domain.Enrollment{}, fmt.Errorf("workflow %s has no steps", w.ID)
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	nextAt := now.AddDate(0, 0, first.DelayDays).Format(time.RFC3339)

	var metaJSON string
	if meta != (EnrollMetadata{}) {
		data, err := json.Marshal(meta)
		if err != nil {
			return domain.Enrollment{}, err
		}
		metaJSON = string(data)
	}

	enr := domain.Enrollment{
		ID:               newID(),
		LeadID:           lead.ID,
		WorkflowID:       w.ID,
		OwnerID:          w.OwnerID,
		Status:           domain.EnrollmentActive,
		CurrentStepOrder: 1,
		NextActionAt:     &nextAt,
		EnrolledAt:       nowStr,
		UpdatedAt:        nowStr,
		MetadataJSON:     metaJSON,
	}
	if err := e.Repo.InsertEnrollment(ctx, enr); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Enrollment{}, ErrAlreadyEnrolled
		}
		return domain.Enrollment{}, err
	}
	return enr, nil
}

// EnrollMatching is the trigger-enrollment phase: it scans leads without an
// active enrollment, matches each against the owner's active workflows in
// priority order, and enrolls on first match. Returns the number of new
// enrollments. Per-lead failures are logged and skipped.
func (e Engine) EnrollMatching(ctx context.Context, ownerID string) (int, error) {
	workflows, err := e.Repo.ActiveWorkflows(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if len(workflows) == 0 {
		return 0, nil
	}
	leads, err := e.Repo.LeadsWithoutActiveEnrollment(ctx, ownerID, e.Config.Batch.Enroll)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC()
	enrolled := 0
	for _, lead := range leads {
		w := e.MatchTrigger(lead, workflows, now)
		if w == nil {
			continue
		}
		meta := EnrollMetadata{Reason: "trigger:" + w.TriggerType}
		if _, err := e.Enroll(ctx, lead, *w, meta); err != nil {
			if err == ErrAlreadyEnrolled {
				continue
			}
			log.Printf("engine: enroll lead %s in workflow %s failed: %v", lead.ID, w.ID, err)
			continue
		}
		enrolled++
	}
	return enrolled, nil
}

// CancelEnrollment cancels an active enrollment and logs the decision.
func (e Engine) CancelEnrollment(ctx context.Context, enrollmentID string) error {
	enr, err := e.Repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.CloseEnrollmentTx(ctx, tx, enr.ID, domain.EnrollmentCancelled, e.nowString()); err != nil {
		return err
	}
	entry := logEntry(enr, "enrollment_cancelled", true)
	if err := e.Logs.Append(ctx, tx, entry, nil); err != nil {
		return err
	}
	return tx.Commit()
}
