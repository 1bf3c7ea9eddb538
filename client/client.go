// Package client implements the backend control API: starting a run,
// stopping it, and submitting human decisions. Frame delivery is a
// separate concern, handled by the transport adapters.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rajulubheem/thrivix-sub003/iox"
	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/store"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// Config configures the control client.
type Config struct {
	// BaseURL is the server base, e.g. "http://localhost:8000".
	BaseURL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to the backend control endpoints.
type Client struct {
	config Config
	logger *log.Logger
	client *http.Client
}

// New creates a control client. Returns an error if the base URL is empty.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client requires a base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{config: cfg, logger: logger, client: httpClient}, nil
}

// StatusError is returned for non-2xx HTTP responses. Wrapping the status
// code allows callers to distinguish retriable (5xx) from non-retriable
// (4xx) failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

// ExecuteRequest describes the run to start.
type ExecuteRequest struct {
	Task          string         `json:"task"`
	AgentsHint    []string       `json:"agents_hint,omitempty"`
	ExecutionMode string         `json:"execution_mode"`
	Config        map[string]any `json:"config,omitempty"`
}

// executeResponse tolerates both key spellings the backend has used.
type executeResponse struct {
	ExecutionID string `json:"execution_id"`
	CamelCaseID string `json:"executionId"`
}

// Execute starts a run and returns its execution id.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	if req.Task == "" {
		return "", errors.New("execute requires a task")
	}

	var resp executeResponse
	if err := c.post(ctx, c.config.BaseURL+"/execute", req, &resp); err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}

	id := resp.ExecutionID
	if id == "" {
		id = resp.CamelCaseID
	}
	if id == "" {
		return "", errors.New("execute: response carried no execution id")
	}
	c.logger.Info("execution started", map[string]any{
		"execution_id": id,
		"mode":         req.ExecutionMode,
	})
	return id, nil
}

// Stop requests termination of a running execution.
func (c *Client) Stop(ctx context.Context, executionID string) error {
	if err := c.post(ctx, c.config.BaseURL+"/stop/"+executionID, struct{}{}, nil); err != nil {
		return fmt.Errorf("stop %s: %w", executionID, err)
	}
	return nil
}

// decisionRequest is the decision submission body.
type decisionRequest struct {
	StateID string `json:"state_id"`
	Event   string `json:"event"`
}

// SubmitDecision posts a human decision for a gated state node. The
// backend validates and emits the resulting state transitions as frames.
func (c *Client) SubmitDecision(ctx context.Context, executionID, stateID, event string) error {
	body := decisionRequest{StateID: stateID, Event: event}
	if err := c.post(ctx, c.config.BaseURL+"/decision/"+executionID, body, nil); err != nil {
		return fmt.Errorf("decision %s: %w", executionID, err)
	}
	return nil
}

// Decide validates the event against the store's pending decision, submits
// it, and clears the gate locally. Used when a live session is attached;
// the bare SubmitDecision serves headless callers.
func (c *Client) Decide(ctx context.Context, st *store.Store, stateID, event string) error {
	if !st.DecisionAllows(stateID, event) {
		return fmt.Errorf("event %q is not allowed for state %s", event, stateID)
	}
	if err := c.SubmitDecision(ctx, st.ExecutionID(), stateID, event); err != nil {
		return err
	}
	st.ClearDecision(stateID)
	return nil
}

// post sends a JSON body and decodes a JSON response when out is non-nil.
func (c *Client) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
