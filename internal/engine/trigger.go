package engine

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"nicheperq/internal/domain"
)

// MatchTrigger evaluates the workflow list against a lead and returns the
// first workflow whose trigger matches, or nil. Callers pass workflows in
// match order (priority, creation time, id) so the result is deterministic.
func (e Engine) MatchTrigger(lead domain.Lead, workflows []domain.Workflow, now time.Time) *domain.Workflow {
	for i := range workflows {
		w := &workflows[i]
		if !w.IsActive {
			continue
		}
		ok, err := e.triggerMatches(lead, *w, now)
		if err != nil {
			// Malformed trigger: skip this workflow, keep evaluating others.
			log.Printf("engine: workflow %s trigger invalid: %v", w.ID, err)
			continue
		}
		if ok {
			return w
		}
	}
	return nil
}

func (e Engine) triggerMatches(lead domain.Lead, w domain.Workflow, now time.Time) (bool, error) {
	switch w.TriggerType {
	case domain.TriggerStatusEquals:
		return lead.ContactStatus == w.TriggerValue, nil
	case domain.TriggerNicheEquals:
		return lead.Niche != "" && lead.Niche == w.TriggerValue, nil
	case domain.TriggerLeadImported:
		return lead.ContactStatus == domain.LeadStatusNew, nil
	case domain.TriggerInactiveForDays:
		days, err := strconv.Atoi(w.TriggerValue)
		if err != nil || days <= 0 {
			return false, fmt.Errorf("invalid inactive_for_days value %q", w.TriggerValue)
		}
		return e.leadInactiveFor(lead, days, now), nil
	default:
		return false, fmt.Errorf("unknown trigger type %q", w.TriggerType)
	}
}

// leadInactiveFor reports whether the lead has gone at least days without
// contact. Never-contacted leads count once they outlive the new-lead grace
// window, so a freshly imported lead is not immediately "inactive".
func (e Engine) leadInactiveFor(lead domain.Lead, days int, now time.Time) bool {
	if lead.LastContactedAt != nil {
		last, err := time.Parse(time.RFC3339, *lead.LastContactedAt)
		if err != nil {
			return false
		}
		return now.Sub(last) >= time.Duration(days)*24*time.Hour
	}
	created, err := time.Parse(time.RFC3339, lead.CreatedAt)
	if err != nil {
		return false
	}
	grace := e.Config.Inactivity.NewLeadGraceDays
	return now.Sub(created) >= time.Duration(grace)*24*time.Hour
}
