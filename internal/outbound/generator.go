package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"
)

// GenerateRequest carries the lead and step context a generator needs to
// draft a message.
type GenerateRequest struct {
	LeadID      string `json:"lead_id"`
	LeadName    string `json:"lead_name,omitempty"`
	LeadEmail   string `json:"lead_email,omitempty"`
	Niche       string `json:"niche,omitempty"`
	Status      string `json:"status"`
	MessageType string `json:"message_type"`
	Tone        string `json:"tone,omitempty"`
}

type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Generator drafts outreach copy for a send_message step.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Draft, error)
}

// HTTPGenerator posts the request to an external drafting service and expects
// a Draft back as JSON.
type HTTPGenerator struct {
	URL    string
	Client *http.Client
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGenerator{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req GenerateRequest) (Draft, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Draft{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(data))
	if err != nil {
		return Draft{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	res, err := g.Client.Do(httpReq)
	if err != nil {
		return Draft{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Draft{}, fmt.Errorf("generator status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var draft Draft
	if err := json.NewDecoder(res.Body).Decode(&draft); err != nil {
		return Draft{}, fmt.Errorf("decode generator response: %w", err)
	}
	if strings.TrimSpace(draft.Body) == "" {
		return Draft{}, fmt.Errorf("generator returned empty body")
	}
	return draft, nil
}

// TemplateGenerator is the built-in fallback used when no generator service
// is configured. Copy is deliberately plain; the draft stays editable before
// approval.
type TemplateGenerator struct{}

var draftTemplates = map[string]*template.Template{
	"initial_outreach": template.Must(template.New("initial").Parse(
		"Hi {{or .LeadName \"there\"}},\n\nI work with {{or .Niche \"businesses like yours\"}} and noticed you might be a fit for what we do. Open to a quick chat this week?\n")),
	"follow_up": template.Must(template.New("follow_up").Parse(
		"Hi {{or .LeadName \"there\"}},\n\nJust circling back on my earlier note. Happy to share a couple of examples relevant to {{or .Niche \"your space\"}} if useful.\n")),
	"reengage": template.Must(template.New("reengage").Parse(
		"Hi {{or .LeadName \"there\"}},\n\nIt has been a while since we last spoke. Anything changed on your side? I'd love to pick the conversation back up.\n")),
}

var draftSubjects = map[string]string{
	"initial_outreach": "Quick question",
	"follow_up":        "Following up",
	"reengage":         "Picking this back up",
}

func (TemplateGenerator) Generate(_ context.Context, req GenerateRequest) (Draft, error) {
	tmpl, ok := draftTemplates[req.MessageType]
	if !ok {
		tmpl = draftTemplates["follow_up"]
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return Draft{}, err
	}
	subject, ok := draftSubjects[req.MessageType]
	if !ok {
		subject = draftSubjects["follow_up"]
	}
	return Draft{Subject: subject, Body: buf.String()}, nil
}
