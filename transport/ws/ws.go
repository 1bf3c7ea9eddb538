// Package ws implements the WebSocket transport adapter.
//
// The adapter owns an explicit connection state machine:
//
//	idle -> connecting -> connected -> {disconnected -> reconnecting -> connecting} | closed
//
// An unclean disconnect while the caller has not closed the adapter
// triggers an automatic reconnect with a fixed backoff and a live resume
// cursor. Close cancels any pending reconnect wait; that cancellation is a
// transition action of the state machine, not best effort.
package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/transport"
)

// DefaultReconnectDelay is the fixed backoff between reconnect attempts.
const DefaultReconnectDelay = 2 * time.Second

// DefaultHandshakeTimeout bounds the WebSocket dial.
const DefaultHandshakeTimeout = 10 * time.Second

// connState is the adapter's connection state.
type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateDisconnected
	stateReconnecting
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnected:
		return "disconnected"
	case stateReconnecting:
		return "reconnecting"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures the WebSocket adapter.
type Config struct {
	// BaseURL is the server base, e.g. "ws://localhost:8000".
	BaseURL string
	// ReconnectDelay is the fixed backoff between reconnects (default 2s).
	ReconnectDelay time.Duration
	// HandshakeTimeout bounds each dial attempt (default 10s).
	HandshakeTimeout time.Duration
}

// Adapter is a WebSocket transport adapter for one execution id.
type Adapter struct {
	executionID string
	config      Config
	logger      *log.Logger
	collector   *metrics.Collector

	frames chan []byte
	status chan transport.Status

	mu     sync.Mutex
	state  connState
	conn   *websocket.Conn
	err    error
	opened bool

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a WebSocket adapter for the given execution id.
func New(executionID string, cfg Config, logger *log.Logger, collector *metrics.Collector) *Adapter {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Adapter{
		executionID: executionID,
		config:      cfg,
		logger:      logger,
		collector:   collector,
		frames:      make(chan []byte, 256),
		status:      make(chan transport.Status, 16),
		closed:      make(chan struct{}),
	}
}

// Open starts delivery from the given cursor. The connection is driven by
// a single goroutine so state transitions are serialized.
func (a *Adapter) Open(ctx context.Context, cursor transport.Cursor) error {
	a.mu.Lock()
	if a.state == stateClosed {
		a.mu.Unlock()
		return &transport.Error{Kind: transport.ErrorClosed, Msg: "adapter is closed"}
	}
	if a.opened {
		a.mu.Unlock()
		return fmt.Errorf("adapter already open for execution %s", a.executionID)
	}
	a.opened = true
	a.mu.Unlock()

	go a.run(ctx, cursor)
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

// Close terminates the connection and cancels any pending reconnect wait.
// Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.mu.Lock()
		a.state = stateClosed
		if a.conn != nil {
			_ = a.conn.Close()
		}
		a.mu.Unlock()
	})
	return nil
}

// State returns the adapter's connection state name, for diagnostics.
func (a *Adapter) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.String()
}

func (a *Adapter) streamURL(cursor transport.Cursor) string {
	return fmt.Sprintf("%s/ws/%s?start_from=%s", a.config.BaseURL, a.executionID, url.QueryEscape(string(cursor)))
}

// run drives the connect/read/reconnect cycle until Close or ctx
// cancellation. Reconnects always request a live cursor so replayed
// history is not redelivered wholesale.
func (a *Adapter) run(ctx context.Context, cursor transport.Cursor) {
	defer close(a.frames)

	for {
		if a.isDone(ctx) {
			return
		}

		a.transition(stateConnecting)
		a.emitStatus(transport.StatusConnecting)

		dialer := websocket.Dialer{HandshakeTimeout: a.config.HandshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, a.streamURL(cursor), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			a.collector.IncTransportErrors()
			a.logger.Warn("websocket dial failed", map[string]any{
				"error": err.Error(),
				"url":   a.streamURL(cursor),
			})
			a.emitStatus(transport.StatusError)
			if !a.waitReconnect(ctx) {
				return
			}
			cursor = transport.CursorLive
			continue
		}

		a.setConn(conn)
		a.transition(stateConnected)
		a.emitStatus(transport.StatusConnected)

		readErr := a.readLoop(conn)
		a.setConn(nil)

		if a.isDone(ctx) {
			a.emitStatus(transport.StatusDisconnected)
			return
		}

		// Unclean disconnect while the caller still wants the stream.
		a.transition(stateDisconnected)
		a.emitStatus(transport.StatusDisconnected)
		a.logger.Info("websocket disconnected, reconnecting", map[string]any{
			"error": errString(readErr),
			"delay": a.config.ReconnectDelay.String(),
		})
		a.collector.IncReconnects()

		if !a.waitReconnect(ctx) {
			return
		}
		cursor = transport.CursorLive
	}
}

// readLoop forwards messages until the connection fails or is closed.
func (a *Adapter) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.collector.IncFramesReceived()
		select {
		case a.frames <- data:
		case <-a.closed:
			return nil
		}
	}
}

// waitReconnect blocks for the fixed backoff. Returns false if the adapter
// was closed or the context cancelled during the wait; the pending timer is
// abandoned in that case, never left to fire later.
func (a *Adapter) waitReconnect(ctx context.Context) bool {
	a.transition(stateReconnecting)
	timer := time.NewTimer(a.config.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-a.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) isDone(ctx context.Context) bool {
	select {
	case <-a.closed:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (a *Adapter) transition(s connState) {
	a.mu.Lock()
	if a.state != stateClosed {
		a.state = s
	}
	a.mu.Unlock()
}

func (a *Adapter) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Adapter) emitStatus(s transport.Status) {
	select {
	case a.status <- s:
	default:
		// Status is advisory; delivery must never block on a slow consumer.
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Verify Adapter implements the transport interface.
var _ transport.Adapter = (*Adapter)(nil)
