package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"nicheperq/internal/actionlog"
	"nicheperq/internal/config"
	"nicheperq/internal/domain"
	"nicheperq/internal/outbound"
	"nicheperq/internal/repo"
)

// ErrAlreadyEnrolled marks an enrollment attempt against a lead that already
// holds an active enrollment in the workflow. Callers treat it as a skip, not
// a failure.
var ErrAlreadyEnrolled = errors.New("lead already enrolled in workflow")

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Logs       actionlog.Writer
	Config     *config.Config
	Generator  outbound.Generator
	Dispatcher outbound.Dispatcher
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Logs:       actionlog.Writer{DB: db},
		Config:     cfg,
		Generator:  outbound.TemplateGenerator{},
		Dispatcher: outbound.NoopDispatcher{},
		Now:        time.Now,
	}
	if cfg != nil {
		timeout := time.Duration(cfg.Sending.TimeoutSeconds) * time.Second
		if cfg.Sending.GeneratorURL != "" {
			e.Generator = outbound.NewHTTPGenerator(cfg.Sending.GeneratorURL, timeout)
		}
		if cfg.Sending.DispatcherURL != "" {
			e.Dispatcher = outbound.NewHTTPDispatcher(cfg.Sending.DispatcherURL, timeout)
		}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Summary counts what one Run invocation did. Errors holds per-item failures
// that were isolated and logged rather than aborting the pass.
type Summary struct {
	Enrolled         int      `json:"enrolled"`
	StepsExecuted    int      `json:"steps_executed"`
	StepsFailed      int      `json:"steps_failed"`
	Completed        int      `json:"completed"`
	SignalsProcessed int      `json:"signals_processed"`
	SweepEnrolled    int      `json:"sweep_enrolled"`
	Errors           []string `json:"errors,omitempty"`
}

func (s *Summary) addError(stage string, err error) {
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// Run executes one full engine pass for the configured owner: trigger
// enrollment over leads without an active enrollment, then pending signals,
// the inactivity sweep, and finally due-step execution. Each phase isolates
// per-item errors; a phase-level failure is recorded and the pass continues.
func (e Engine) Run(ctx context.Context) (Summary, error) {
	if e.Config == nil {
		return Summary{}, errors.New("config not loaded")
	}
	ownerID := e.Config.Owner.ID
	var sum Summary

	enrolled, err := e.EnrollMatching(ctx, ownerID)
	sum.Enrolled = enrolled
	if err != nil {
		sum.addError("enroll", err)
	}

	processed, err := e.ProcessSignals(ctx, ownerID)
	sum.SignalsProcessed = processed
	if err != nil {
		sum.addError("signals", err)
	}

	swept, err := e.SweepInactive(ctx, ownerID)
	sum.SweepEnrolled = swept
	sum.Enrolled += swept
	if err != nil {
		sum.addError("sweep", err)
	}

	tick, err := e.Tick(ctx, ownerID)
	sum.StepsExecuted = tick.Executed
	sum.StepsFailed = tick.Failed
	sum.Completed = tick.Completed
	if err != nil {
		sum.addError("tick", err)
	}

	if len(sum.Errors) > 0 {
		log.Printf("engine: run finished with %d error(s)", len(sum.Errors))
	}
	return sum, nil
}

func newID() string {
	return uuid.NewString()
}

func logEntry(enr domain.Enrollment, actionType string, success bool) actionlog.Entry {
	return actionlog.Entry{
		OwnerID:      enr.OwnerID,
		LeadID:       enr.LeadID,
		EnrollmentID: enr.ID,
		WorkflowID:   enr.WorkflowID,
		StepOrder:    enr.CurrentStepOrder,
		ActionType:   actionType,
		Success:      success,
	}
}
