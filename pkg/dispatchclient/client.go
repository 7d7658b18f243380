/**
 * @description
 * Client for triggering the reminder dispatch sweep on the API service.
 */
package dispatchclient

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

// Summary mirrors the counters returned by the dispatch endpoint.
type Summary struct {
	DispatchDate         string `json:"dispatch_date"`
	Evaluated            int    `json:"evaluated"`
	Due                  int    `json:"due"`
	NotificationsCreated int    `json:"notifications_created"`
	Sent                 int    `json:"sent"`
	Failed               int    `json:"failed"`
	AlreadySent          int    `json:"already_sent"`
	SkippedNoRecipient   int    `json:"skipped_no_recipient"`
	Cancelled            bool   `json:"cancelled"`
	AlreadyRunning       bool   `json:"already_running"`
}

// Client provides methods to interact with the reminder dispatch endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new dispatch client. The timeout covers a whole sweep.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RunReminderDispatch triggers a sweep. A nil date lets the API use its own
// business day.
func (c *Client) RunReminderDispatch(ctx context.Context, date *string) (*Summary, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("api service base URL is not configured")
	}

	body := map[string]string{}
	if date != nil {
		body["date"] = *date
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s%s", c.baseURL, "/internal/reminders/dispatch")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("api service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var summary Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch summary: %w", err)
	}
	return &summary, nil
}
