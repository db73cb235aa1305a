package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nicheperq/internal/domain"
	"nicheperq/internal/engine"
	"nicheperq/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"enrollment not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Nicheperq API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Nicheperq API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRun(group, cfg.Engine)
	registerLeads(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerEnrollments(group, cfg.Engine)
	registerSignals(group, cfg.Engine)
	registerMessages(group, cfg.Engine)
	registerActionLogs(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrAlreadyEnrolled) {
		return newAPIError(http.StatusConflict, "already_enrolled", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "already"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// ownerFromContext resolves the authenticated owner and checks it matches the
// engine's configured owner. A mismatching principal is treated as not found
// rather than forbidden, so resource existence leaks nothing.
func ownerFromContext(ctx context.Context, e engine.Engine) (string, huma.StatusError) {
	ownerID, authErr := ownerIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if e.Config != nil && e.Config.Owner.ID != "" && ownerID != e.Config.Owner.ID {
		return "", newAPIError(http.StatusNotFound, "not_found", "unknown owner", nil)
	}
	return ownerID, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Nicheperq API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRun(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run",
		Method:      http.MethodPost,
		Path:        "/run",
		Summary:     "Run one engine pass",
		Description: "Enrolls matching leads, processes pending signals, sweeps inactive leads, and executes due steps. Per-item errors are embedded in the summary; only infrastructure faults fail the request.",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		if _, authErr := ownerFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		sum, err := e.Run(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: RunResponse{Summary: sum}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enroll-matching",
		Method:      http.MethodPost,
		Path:        "/enroll",
		Summary:     "Run the trigger-enrollment phase only",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body EnrollPhaseResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		enrolled, err := e.EnrollMatching(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EnrollPhaseResponse `json:"body"`
		}{Body: EnrollPhaseResponse{Enrolled: enrolled}}, nil
	})
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Import lead",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateLeadRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		if _, authErr := ownerFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		lead, err := e.CreateLead(ctx, engine.LeadCreateOptions{
			ID:     stringOrEmpty(input.Body.ID),
			Name:   stringOrEmpty(input.Body.Name),
			Email:  stringOrEmpty(input.Body.Email),
			Niche:  stringOrEmpty(input.Body.Niche),
			Status: stringOrEmpty(input.Body.Status),
		})
		if err != nil {
			if repo.IsUniqueViolation(err) {
				return nil, newAPIError(http.StatusConflict, "conflict", "lead already exists", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bulk-import-leads",
		Method:        http.MethodPost,
		Path:          "/leads/bulk",
		Summary:       "Import a batch of leads",
		Description:   "Per-item failures (duplicates, validation) are skipped, not fatal.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body BulkLeadsRequest `json:"body"`
	}) (*struct {
		Body BulkLeadsResponse `json:"body"`
	}, error) {
		if _, authErr := ownerFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		if len(input.Body.Leads) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "leads is required", nil)
		}
		out := BulkLeadsResponse{Items: []domain.Lead{}}
		for _, item := range input.Body.Leads {
			lead, err := e.CreateLead(ctx, engine.LeadCreateOptions{
				ID:     stringOrEmpty(item.ID),
				Name:   stringOrEmpty(item.Name),
				Email:  stringOrEmpty(item.Email),
				Niche:  stringOrEmpty(item.Niche),
				Status: stringOrEmpty(item.Status),
			})
			if err != nil {
				out.Skipped++
				continue
			}
			out.Created++
			out.Items = append(out.Items, lead)
		}
		return &struct {
			Body BulkLeadsResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead",
		Method:      http.MethodPatch,
		Path:        "/leads/{lead_id}",
		Summary:     "Update a lead's funnel status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LeadID string            `path:"lead_id"`
		Body   UpdateLeadRequest `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		lead, err := e.Repo.GetLead(ctx, input.LeadID)
		if err != nil {
			return nil, handleError(err)
		}
		if lead.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "lead not found", nil)
		}
		updated, err := e.UpdateLeadStatus(ctx, lead.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Niche  string `query:"niche"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedLeads `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		leads, err := e.Repo.ListLeads(ctx, repo.LeadFilters{
			OwnerID: ownerID,
			Status:  input.Status,
			Niche:   input.Niche,
			Limit:   limit,
			After:   input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		body := paginatedLeads{Items: leads}
		if body.Items == nil {
			body.Items = []domain.Lead{}
		}
		if len(leads) == limit {
			body.Cursor = repo.LeadCursor(leads[len(leads)-1])
		}
		return &struct {
			Body paginatedLeads `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		LeadID string `path:"lead_id"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		lead, err := e.Repo.GetLead(ctx, input.LeadID)
		if err != nil {
			return nil, handleError(err)
		}
		if lead.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "lead not found", nil)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: lead}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		if _, authErr := ownerFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkflowCreateOptions{
			ID:           stringOrEmpty(input.Body.ID),
			Name:         input.Body.Name,
			TriggerType:  input.Body.TriggerType,
			TriggerValue: stringOrEmpty(input.Body.TriggerValue),
			Steps:        stepsFromRequest(input.Body.Steps),
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		w, err := e.CreateWorkflow(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Workflow `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		workflows, err := e.Repo.ListWorkflows(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		if workflows == nil {
			workflows = []domain.Workflow{}
		}
		return &struct {
			Body []domain.Workflow `json:"body"`
		}{Body: workflows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Get workflow with steps",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if w.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "workflow not found", nil)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workflow",
		Method:      http.MethodPatch,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Activate, deactivate, or reprioritize a workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string                `path:"workflow_id"`
		Body       UpdateWorkflowRequest `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if w.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "workflow not found", nil)
		}
		now := nowString(e)
		if input.Body.IsActive != nil {
			if err := e.Repo.SetWorkflowActive(ctx, w.ID, *input.Body.IsActive, now); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Priority != nil {
			if err := e.Repo.UpdateWorkflowPriority(ctx, w.ID, *input.Body.Priority, now); err != nil {
				return nil, handleError(err)
			}
		}
		w, err = e.Repo.GetWorkflow(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-workflow-steps",
		Method:      http.MethodPut,
		Path:        "/workflows/{workflow_id}/steps",
		Summary:     "Replace a workflow's step list",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string              `path:"workflow_id"`
		Body       ReplaceStepsRequest `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if w.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "workflow not found", nil)
		}
		steps := stepsFromRequest(input.Body.Steps)
		for i := range steps {
			steps[i].ID = newRequestID()
			steps[i].WorkflowID = w.ID
		}
		if err := e.Repo.ReplaceWorkflowSteps(ctx, w.ID, nowString(e), steps); err != nil {
			return nil, handleError(err)
		}
		w, err = e.Repo.GetWorkflow(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-workflow",
		Method:      http.MethodDelete,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Delete a workflow",
		Description: "Rejected with a conflict while any enrollment references the workflow; deactivate instead.",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if w.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "workflow not found", nil)
		}
		if err := e.Repo.DeleteWorkflow(ctx, w.ID); err != nil {
			if errors.Is(err, repo.ErrWorkflowInUse) {
				return nil, newAPIError(http.StatusConflict, "conflict", "workflow has enrollments; deactivate it instead", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"deleted": true}}, nil
	})
}

func registerEnrollments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-enrollment",
		Method:        http.MethodPost,
		Path:          "/enrollments",
		Summary:       "Enroll a lead into a workflow",
		Description:   "Already-enrolled leads yield already_enrolled=true with no new row, not an error.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateEnrollmentRequest `json:"body"`
	}) (*struct {
		Body EnrollmentCreatedResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		lead, err := e.Repo.GetLead(ctx, input.Body.LeadID)
		if err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.GetWorkflow(ctx, input.Body.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		if lead.OwnerID != ownerID || w.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "lead or workflow not found", nil)
		}
		reason := input.Body.Reason
		if reason == "" {
			reason = "manual"
		}
		enr, err := e.Enroll(ctx, lead, w, engine.EnrollMetadata{Reason: reason})
		if err != nil {
			if errors.Is(err, engine.ErrAlreadyEnrolled) {
				return &struct {
					Body EnrollmentCreatedResponse `json:"body"`
				}{Body: EnrollmentCreatedResponse{AlreadyEnrolled: true}}, nil
			}
			return nil, handleError(err)
		}
		return &struct {
			Body EnrollmentCreatedResponse `json:"body"`
		}{Body: EnrollmentCreatedResponse{Enrollment: &enr}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-enrollments",
		Method:      http.MethodGet,
		Path:        "/enrollments",
		Summary:     "List enrollments",
	}, func(ctx context.Context, input *struct {
		LeadID     string `query:"lead_id"`
		WorkflowID string `query:"workflow_id"`
		Status     string `query:"status" enum:"active,completed,cancelled,"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Enrollment `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		enrollments, err := e.Repo.ListEnrollments(ctx, repo.EnrollmentFilters{
			OwnerID:    ownerID,
			LeadID:     input.LeadID,
			WorkflowID: input.WorkflowID,
			Status:     input.Status,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if enrollments == nil {
			enrollments = []domain.Enrollment{}
		}
		return &struct {
			Body []domain.Enrollment `json:"body"`
		}{Body: enrollments}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-enrollment",
		Method:      http.MethodGet,
		Path:        "/enrollments/{enrollment_id}",
		Summary:     "Get enrollment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EnrollmentID string `path:"enrollment_id"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		enr, err := e.Repo.GetEnrollment(ctx, input.EnrollmentID)
		if err != nil {
			return nil, handleError(err)
		}
		if enr.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "enrollment not found", nil)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-enrollment",
		Method:      http.MethodDelete,
		Path:        "/enrollments/{enrollment_id}",
		Summary:     "Cancel an active enrollment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EnrollmentID string `path:"enrollment_id"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		enr, err := e.Repo.GetEnrollment(ctx, input.EnrollmentID)
		if err != nil {
			return nil, handleError(err)
		}
		if enr.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "enrollment not found", nil)
		}
		if err := e.CancelEnrollment(ctx, enr.ID); err != nil {
			return nil, handleError(err)
		}
		enr, err = e.Repo.GetEnrollment(ctx, enr.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})
}

func registerSignals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-signal",
		Method:        http.MethodPost,
		Path:          "/signals",
		Summary:       "Record an inbound provider signal",
		Description:   "Signals are queued and consumed by the next engine pass; lead resolution falls back to the referenced outbound message.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body SignalRequest `json:"body"`
	}) (*struct {
		Body domain.Signal `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.LeadID == nil && input.Body.MessageID == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "lead_id or message_id is required", nil)
		}
		var payloadJSON string
		if input.Body.Payload != nil {
			data, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
			}
			payloadJSON = string(data)
		}
		s, err := e.RecordSignal(ctx, domain.Signal{
			ID:          stringOrEmpty(input.Body.ID),
			OwnerID:     ownerID,
			LeadID:      stringOrEmpty(input.Body.LeadID),
			MessageID:   stringOrEmpty(input.Body.MessageID),
			Kind:        input.Body.Kind,
			PayloadJSON: payloadJSON,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Signal `json:"body"`
		}{Body: s}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/messages",
		Summary:     "List messages",
	}, func(ctx context.Context, input *struct {
		LeadID string `query:"lead_id"`
		Status string `query:"status" enum:"draft,sent,failed,"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Message `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		messages, err := e.Repo.ListMessages(ctx, repo.MessageFilters{
			OwnerID: ownerID,
			LeadID:  input.LeadID,
			Status:  input.Status,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if messages == nil {
			messages = []domain.Message{}
		}
		return &struct {
			Body []domain.Message `json:"body"`
		}{Body: messages}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-message",
		Method:      http.MethodGet,
		Path:        "/messages/{message_id}",
		Summary:     "Get message",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MessageID string `path:"message_id"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		msg, err := e.Repo.GetMessage(ctx, input.MessageID)
		if err != nil {
			return nil, handleError(err)
		}
		if msg.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "message not found", nil)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-message",
		Method:      http.MethodPost,
		Path:        "/messages/{message_id}/approve",
		Summary:     "Approve and dispatch a queued draft",
		Errors:      []int{http.StatusConflict, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MessageID string `path:"message_id"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		msg, err := e.Repo.GetMessage(ctx, input.MessageID)
		if err != nil {
			return nil, handleError(err)
		}
		if msg.OwnerID != ownerID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "message not found", nil)
		}
		sent, err := e.ApproveMessage(ctx, msg.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: sent}, nil
	})
}

func registerActionLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-action-logs",
		Method:      http.MethodGet,
		Path:        "/action-logs",
		Summary:     "List action log entries, newest first",
	}, func(ctx context.Context, input *struct {
		LeadID       string `query:"lead_id"`
		EnrollmentID string `query:"enrollment_id"`
		ActionType   string `query:"action_type"`
		Limit        int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ActionLog `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		logs, err := e.Repo.ListActionLogs(ctx, repo.ActionLogFilters{
			OwnerID:      ownerID,
			LeadID:       input.LeadID,
			EnrollmentID: input.EnrollmentID,
			ActionType:   input.ActionType,
			Limit:        normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if logs == nil {
			logs = []domain.ActionLog{}
		}
		return &struct {
			Body []domain.ActionLog `json:"body"`
		}{Body: logs}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		Description:   "The plaintext key is returned once and stored only as a hash.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		plaintext := newRequestID() + newRequestID()
		key := domain.APIKey{
			ID:      newRequestID(),
			OwnerID: ownerID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(plaintext),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:        stored.ID,
			Name:      stored.Name,
			Key:       plaintext,
			CreatedAt: stored.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		if keys == nil {
			keys = []domain.APIKey{}
		}
		for i := range keys {
			keys[i].KeyHash = ""
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		if _, authErr := ownerFromContext(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"deleted": true}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated owner",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Owner `json:"body"`
	}, error) {
		ownerID, authErr := ownerFromContext(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		owner, err := e.Repo.GetOwner(ctx, ownerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Owner `json:"body"`
		}{Body: owner}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		ownerID := strings.TrimSpace(input.Body.OwnerID)
		if ownerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, ownerID)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func nowString(e engine.Engine) string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func newRequestID() string {
	return uuid.NewString()
}
