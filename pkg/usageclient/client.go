/**
 * @description
 * This package provides a client for the usage-service's internal quota API.
 * Collaborating services (ai-service, test-service) embed it to ask for
 * admission before running a gated operation and to record usage after the
 * operation succeeds.
 */
package usageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the usage service's internal API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new usage service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckQuotaResponse is the usage-service's admission decision.
type CheckQuotaResponse struct {
	State             string          `json:"state"`
	Allowed           bool            `json:"allowed"`
	Limit             json.RawMessage `json:"limit"`
	Remaining         json.RawMessage `json:"remaining"`
	ResetAt           time.Time       `json:"reset_at"`
	RetryAfterSeconds int64           `json:"retry_after_seconds,omitempty"`
	UpgradeHint       string          `json:"upgrade_hint,omitempty"`
	Degraded          bool            `json:"degraded,omitempty"`
	AuditRecorded     bool            `json:"audit_recorded,omitempty"`
}

type quotaRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
	Minutes  int64  `json:"minutes,omitempty"`
}

// CheckQuota asks the usage-service whether the user may consume the resource.
// Call it before the protected operation; a 429 decodes into Allowed=false
// rather than an error. Transport failures return an error and the caller
// decides its own degradation policy.
func (c *Client) CheckQuota(ctx context.Context, userID, resource string) (*CheckQuotaResponse, error) {
	var decision CheckQuotaResponse
	status, err := c.post(ctx, "/internal/quota/check", quotaRequest{UserID: userID, Resource: resource}, &decision)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusTooManyRequests {
		return nil, fmt.Errorf("usage service returned error status %d", status)
	}
	return &decision, nil
}

// RecordUsage tells the usage-service that the protected operation succeeded.
// Best-effort from the caller's perspective: a failure here must not fail the
// user's already-completed operation.
func (c *Client) RecordUsage(ctx context.Context, userID, resource string) error {
	status, err := c.post(ctx, "/internal/quota/record", quotaRequest{UserID: userID, Resource: resource}, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("usage service returned error status %d", status)
	}
	return nil
}

// RecordStudyMinutes records study time, which is never gated.
func (c *Client) RecordStudyMinutes(ctx context.Context, userID string, minutes int64) error {
	status, err := c.post(ctx, "/internal/quota/record", quotaRequest{UserID: userID, Resource: "study_time", Minutes: minutes}, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("usage service returned error status %d", status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) (int, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("usage service base url is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request to usage service: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 500 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
