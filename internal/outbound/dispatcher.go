package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SendRequest is the payload posted to the message provider.
type SendRequest struct {
	MessageID string `json:"message_id"`
	LeadID    string `json:"lead_id"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

type SendResult struct {
	ProviderID string `json:"provider_id"`
}

// Dispatcher hands a drafted message to the delivery provider.
type Dispatcher interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// HTTPDispatcher posts to a provider endpoint.
type HTTPDispatcher struct {
	URL    string
	Client *http.Client
}

func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDispatcher{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (d *HTTPDispatcher) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return SendResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Nicheperq-Message", req.MessageID)
	res, err := d.Client.Do(httpReq)
	if err != nil {
		return SendResult{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return SendResult{}, fmt.Errorf("dispatcher status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var result SendResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return SendResult{}, fmt.Errorf("decode dispatcher response: %w", err)
	}
	return result, nil
}

// NoopDispatcher accepts everything without delivering. Used when no provider
// is configured, so drafts still move through the sent state in local setups.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(_ context.Context, req SendRequest) (SendResult, error) {
	return SendResult{ProviderID: "noop-" + req.MessageID}, nil
}
