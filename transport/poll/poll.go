// Package poll implements the HTTP long-poll transport adapter.
//
// The adapter issues repeated bounded-timeout requests carrying an offset
// (the count of frames already consumed). Transport errors and 5xx
// responses are retried up to a consecutive-error budget; a success resets
// the counter. The total poll duration is capped; exceeding it is fatal,
// same path as retry exhaustion. A 404 is fatal immediately, no retry.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rajulubheem/thrivix-sub003/iox"
	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/transport"
)

// Defaults for the poll loop.
const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMaxDuration      = 5 * time.Minute
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 1 * time.Second
	DefaultServerErrorDelay = 3 * time.Second
)

// Response is the poll endpoint's body shape.
type Response struct {
	Status string            `json:"status"`
	Chunks []json.RawMessage `json:"chunks"`
}

// Terminal statuses the backend may report in a poll response. A clean
// status ends delivery with no error; a failed status surfaces as a
// terminal adapter error so the session is marked failed even when no
// error frame made it into the chunks.
var (
	cleanStatuses = map[string]bool{
		"complete":  true,
		"completed": true,
	}
	failedStatuses = map[string]bool{
		"failed": true,
		"error":  true,
	}
)

// Config configures the poll adapter.
type Config struct {
	// BaseURL is the server base, e.g. "http://localhost:8000".
	BaseURL string
	// RequestTimeout bounds each poll request and is passed to the server
	// as the long-poll timeout hint (default 30s).
	RequestTimeout time.Duration
	// MaxDuration caps the total poll wall-clock budget (default 5m).
	MaxDuration time.Duration
	// MaxRetries is the consecutive transport-error retry budget
	// (default 3). The counter resets after any success.
	MaxRetries int
	// RetryDelay is the wait before retrying a network error (default 1s).
	RetryDelay time.Duration
	// ServerErrorDelay is the longer wait before retrying a 5xx
	// (default 3s).
	ServerErrorDelay time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Adapter is a long-poll transport adapter for one execution id.
type Adapter struct {
	executionID string
	config      Config
	logger      *log.Logger
	collector   *metrics.Collector

	frames chan []byte
	status chan transport.Status

	mu     sync.Mutex
	err    error
	opened bool
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a poll adapter for the given execution id.
func New(executionID string, cfg Config, logger *log.Logger, collector *metrics.Collector) *Adapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ServerErrorDelay <= 0 {
		cfg.ServerErrorDelay = DefaultServerErrorDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second}
	}
	return &Adapter{
		executionID: executionID,
		config:      cfg,
		logger:      logger,
		collector:   collector,
		frames:      make(chan []byte, 256),
		status:      make(chan transport.Status, 16),
		done:        make(chan struct{}),
	}
}

// Open starts the poll loop. The cursor selects the starting offset:
// CursorReplay polls from offset 0; CursorLive also starts at 0 because the
// offset is the resume cursor for this transport — the server returns only
// frames past it, and the adapter tracks consumption itself.
func (a *Adapter) Open(ctx context.Context, _ transport.Cursor) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return &transport.Error{Kind: transport.ErrorClosed, Msg: "adapter is closed"}
	}
	if a.opened {
		a.mu.Unlock()
		return fmt.Errorf("adapter already open for execution %s", a.executionID)
	}
	a.opened = true
	a.mu.Unlock()

	go a.run(ctx)
	return nil
}

// Frames returns the raw payload stream.
func (a *Adapter) Frames() <-chan []byte { return a.frames }

// Status returns connection status transitions.
func (a *Adapter) Status() <-chan transport.Status { return a.status }

// Err returns the terminal error after Frames closes.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close stops the poll loop. Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.done)
	})
	return nil
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.emitStatus(transport.StatusError)
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.frames)

	a.emitStatus(transport.StatusConnecting)

	deadline := time.Now().Add(a.config.MaxDuration)
	offset := 0
	consecutive := 0
	connected := false

	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if time.Now().After(deadline) {
			a.fail(&transport.Error{
				Kind: transport.ErrorBudgetExceeded,
				Msg:  fmt.Sprintf("poll budget %s exceeded", a.config.MaxDuration),
			})
			return
		}

		resp, err := a.pollOnce(ctx, offset)
		if err != nil {
			if transport.IsSessionNotFound(err) {
				// Session gone: fatal, no retry.
				a.fail(err)
				return
			}

			consecutive++
			a.collector.IncTransportErrors()
			if consecutive > a.config.MaxRetries {
				a.fail(&transport.Error{
					Kind: transport.ErrorRetriesExhausted,
					Msg:  fmt.Sprintf("poll failed %d consecutive times", consecutive),
					Err:  err,
				})
				return
			}

			a.collector.IncPollRetries()
			delay := a.config.RetryDelay
			var serverErr *Error5xx
			if errors.As(err, &serverErr) {
				delay = a.config.ServerErrorDelay
			}
			a.logger.Warn("poll request failed, retrying", map[string]any{
				"error":       err.Error(),
				"consecutive": consecutive,
				"delay":       delay.String(),
			})
			if !a.sleep(ctx, delay) {
				return
			}
			continue
		}

		// Success resets the consecutive-error budget.
		consecutive = 0
		if !connected {
			connected = true
			a.emitStatus(transport.StatusConnected)
		}

		for _, chunk := range resp.Chunks {
			a.collector.IncFramesReceived()
			select {
			case a.frames <- []byte(chunk):
			case <-a.done:
				return
			case <-ctx.Done():
				return
			}
		}
		offset += len(resp.Chunks)

		if cleanStatuses[resp.Status] {
			a.emitStatus(transport.StatusDisconnected)
			return
		}
		if failedStatuses[resp.Status] {
			a.fail(&transport.Error{
				Kind: transport.ErrorRemoteFailure,
				Msg:  fmt.Sprintf("backend reported execution %s", resp.Status),
			})
			return
		}
	}
}

// Error5xx marks a retriable server error response.
type Error5xx struct {
	Code int
}

func (e *Error5xx) Error() string {
	return fmt.Sprintf("server error %d", e.Code)
}

// pollOnce performs a single poll request.
func (a *Adapter) pollOnce(ctx context.Context, offset int) (*Response, error) {
	pollURL := fmt.Sprintf("%s/poll/%s?offset=%d&timeout=%d",
		a.config.BaseURL, a.executionID, offset, int(a.config.RequestTimeout.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &transport.Error{
			Kind: transport.ErrorSessionNotFound,
			Msg:  fmt.Sprintf("session %s not found", a.executionID),
		}
	}
	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &Error5xx{Code: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return &body, nil
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-a.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) emitStatus(s transport.Status) {
	select {
	case a.status <- s:
	default:
	}
}

// Verify Adapter implements the transport interface.
var _ transport.Adapter = (*Adapter)(nil)
