package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"nicheperq/internal/config"
	"nicheperq/internal/db"
	"nicheperq/internal/domain"
	"nicheperq/internal/engine"
	"nicheperq/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("owner-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := e.InitOwner(context.Background()); err != nil {
		t.Fatalf("init owner: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func devToken(t *testing.T, srv *testServer, ownerID string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"owner_id": ownerID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/leads", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status %d", res.StatusCode)
	}

	// A valid token for a different owner must not see this workspace.
	other := devToken(t, srv, "someone-else")
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/leads", nil, other)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign owner status %d", res.StatusCode)
	}
}

func TestOutreachOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := devToken(t, srv, "owner-1")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"name":         "new lead outreach",
		"trigger_type": "lead_imported",
		"steps": []map[string]any{
			{"order": 1, "action": "send_message", "message_type": "initial_outreach"},
			{"order": 2, "action": "update_status", "delay_days": 3, "new_status": "attempted"},
		},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/leads", map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create lead status %d: %s", res.StatusCode, string(data))
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/run", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Summary.Enrolled != 1 || run.Summary.StepsExecuted != 1 {
		t.Fatalf("run summary: %+v", run.Summary)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/messages?status=draft", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list messages status %d", res.StatusCode)
	}
	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].LeadID != lead.ID {
		t.Fatalf("messages: %+v", msgs)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/messages/"+msgs[0].ID+"/approve", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var sent domain.Message
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("unmarshal sent: %v", err)
	}
	if sent.Status != domain.MessageSent {
		t.Fatalf("message status %s", sent.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/action-logs", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("action logs status %d", res.StatusCode)
	}
	var logs []domain.ActionLog
	if err := json.Unmarshal(data, &logs); err != nil {
		t.Fatalf("unmarshal logs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatalf("expected action log entries")
	}
}

func TestEnrollmentConflictOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := devToken(t, srv, "owner-1")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"name":          "qualified nurture",
		"trigger_type":  "status_equals",
		"trigger_value": "qualified",
		"steps": []map[string]any{
			{"order": 1, "action": "set_reminder", "reminder_days": 2},
		},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow status %d: %s", res.StatusCode, string(data))
	}
	var w domain.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/leads", map[string]any{"name": "Ada"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create lead status %d: %s", res.StatusCode, string(data))
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}

	enrollBody := map[string]any{"lead_id": lead.ID, "workflow_id": w.ID}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/enrollments", enrollBody, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("enroll status %d: %s", res.StatusCode, string(data))
	}
	var first EnrollmentCreatedResponse
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal enroll: %v", err)
	}
	if first.AlreadyEnrolled || first.Enrollment == nil {
		t.Fatalf("first enroll: %+v", first)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/enrollments", enrollBody, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("repeat enroll status %d: %s", res.StatusCode, string(data))
	}
	var second EnrollmentCreatedResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal repeat enroll: %v", err)
	}
	if !second.AlreadyEnrolled || second.Enrollment != nil {
		t.Fatalf("repeat enroll: %+v", second)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/enrollments/"+first.Enrollment.ID, nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(data))
	}
	var cancelled domain.Enrollment
	if err := json.Unmarshal(data, &cancelled); err != nil {
		t.Fatalf("unmarshal cancelled: %v", err)
	}
	if cancelled.Status != domain.EnrollmentCancelled {
		t.Fatalf("cancelled status %s", cancelled.Status)
	}
}

func TestSignalOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := devToken(t, srv, "owner-1")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/leads", map[string]any{
		"name":   "Ada",
		"status": "contacted",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create lead status %d: %s", res.StatusCode, string(data))
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/signals", map[string]any{
		"lead_id": lead.ID,
		"kind":    "reply",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record signal status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/run", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var run RunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Summary.SignalsProcessed != 1 {
		t.Fatalf("run summary: %+v", run.Summary)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/leads/"+lead.ID, nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get lead status %d", res.StatusCode)
	}
	var got domain.Lead
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}
	if got.ContactStatus != domain.LeadStatusInConversation {
		t.Fatalf("lead status %s", got.ContactStatus)
	}
}

func TestBulkLeadImport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := devToken(t, srv, "owner-1")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/leads/bulk", map[string]any{
		"leads": []map[string]any{
			{"id": "bulk-1", "name": "Ada"},
			{"id": "bulk-2", "name": "Bo"},
			{"id": "bulk-1", "name": "duplicate"},
		},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("bulk status %d: %s", res.StatusCode, string(data))
	}
	var out BulkLeadsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal bulk: %v", err)
	}
	if out.Created != 2 || out.Skipped != 1 {
		t.Fatalf("bulk result: %+v", out)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/leads/bulk-1", map[string]any{
		"status": "qualified",
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}
	if lead.ContactStatus != domain.LeadStatusQualified {
		t.Fatalf("lead status %s", lead.ContactStatus)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := devToken(t, srv, "owner-1")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"name": "ci",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create apikey status %d: %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal apikey: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("expected plaintext key in create response")
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/leads", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("apikey list status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/leads", nil, map[string]string{
		"X-Api-Key": "not-a-key",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad apikey status %d", res.StatusCode)
	}
}
