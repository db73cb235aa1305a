package engine

import (
	"context"
	"log"
	"time"

	"nicheperq/internal/domain"
)

// SweepInactive enrolls engaged-but-stale leads into the owner's first
// inactive_for_days workflow. The sweep excludes leads that already hold an
// active enrollment anywhere, so it never competes with running workflows.
// Returns the number of new enrollments.
func (e Engine) SweepInactive(ctx context.Context, ownerID string) (int, error) {
	workflows, err := e.Repo.ActiveWorkflows(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	var target *domain.Workflow
	for i := range workflows {
		if workflows[i].TriggerType == domain.TriggerInactiveForDays {
			target = &workflows[i]
			break
		}
	}
	if target == nil {
		return 0, nil
	}

	now := e.now().UTC()
	threshold := e.Config.Inactivity.ThresholdDays
	cutoff := now.AddDate(0, 0, -threshold).Format(time.RFC3339)
	graceCutoff := now.AddDate(0, 0, -e.Config.Inactivity.NewLeadGraceDays).Format(time.RFC3339)

	leads, err := e.Repo.InactiveLeads(ctx, ownerID, e.Config.Statuses.Engaged, cutoff, graceCutoff, e.Config.Batch.Sweep)
	if err != nil {
		return 0, err
	}
	enrolled := 0
	for _, lead := range leads {
		meta := EnrollMetadata{Reason: "inactivity", DaysInactive: daysInactive(lead, now)}
		if _, err := e.Enroll(ctx, lead, *target, meta); err != nil {
			if err == ErrAlreadyEnrolled {
				continue
			}
			log.Printf("engine: sweep enroll lead %s failed: %v", lead.ID, err)
			continue
		}
		enrolled++
	}
	return enrolled, nil
}

func daysInactive(lead domain.Lead, now time.Time) int {
	ref := lead.CreatedAt
	if lead.LastContactedAt != nil {
		ref = *lead.LastContactedAt
	}
	t, err := time.Parse(time.RFC3339, ref)
	if err != nil {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}
