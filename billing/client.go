package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/felipepmaragno/llm-meter/internal/httputil"
)

const meterEventsPath = "/v1/billing/meter_events"

// Client dispatches meter events over HTTP. It performs no retries: retry
// policy belongs to the ingestion backend's own client conventions, and the
// reporter drops failed events by design.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default tuned transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.DefaultClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Dispatch(ctx context.Context, event MeterEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal meter event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+meterEventsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if event.Identifier != "" {
		req.Header.Set("Idempotency-Key", event.Identifier)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("billing ingestion error: status=%d body=%s", resp.StatusCode, string(snippet))
	}

	return nil
}
