// Package transport defines the delivery boundary for execution frame
// streams. An Adapter owns one physical connection (WebSocket, long-poll
// loop, or recorded-file replay) per execution id and delivers raw frame
// payloads in arrival order.
//
// Logical reordering and dedup are not the transport's job; the engine
// handles those. The adapter's obligations are arrival-order delivery,
// transparent reconnect, and clean cancellation.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Cursor tells the backend where to begin delivery.
type Cursor string

const (
	// CursorReplay requests a full history replay from the start.
	// Used on initial attach.
	CursorReplay Cursor = "0"
	// CursorLive requests only new events. Used on reconnect so already
	// applied history is not redelivered wholesale.
	CursorLive Cursor = "$"
)

// Status is a connection status transition emitted by an adapter.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// Adapter delivers raw frame payloads for one execution id.
//
// Lifecycle: construct, Open once, consume Frames until it closes, then
// check Err. Close terminates delivery (including any pending reconnect
// timer) and is idempotent.
type Adapter interface {
	// Open starts delivery from the given cursor. Returns an error only
	// for immediate misuse (already open, already closed); connection
	// failures surface as Status events and Err.
	Open(ctx context.Context, cursor Cursor) error

	// Frames returns the raw payload stream. The channel closes when
	// delivery ends, cleanly or not.
	Frames() <-chan []byte

	// Status returns connection status transitions. Never blocks delivery;
	// transitions may be dropped if the consumer lags.
	Status() <-chan Status

	// Err returns the terminal error after Frames closes. Nil means
	// delivery ended cleanly.
	Err() error

	// Close terminates delivery and cancels any pending reconnect.
	// Idempotent.
	Close() error
}

// ErrorKind classifies terminal transport errors.
type ErrorKind int

const (
	// ErrorSessionNotFound indicates a 404/session-expired response.
	// Fatal immediately, no retry.
	ErrorSessionNotFound ErrorKind = iota
	// ErrorRetriesExhausted indicates the consecutive-retry budget ran out.
	ErrorRetriesExhausted
	// ErrorBudgetExceeded indicates the total poll wall-clock budget ran out.
	ErrorBudgetExceeded
	// ErrorClosed indicates the adapter was used after Close.
	ErrorClosed
	// ErrorRemoteFailure indicates the backend reported the execution
	// failed at the transport level, without a corresponding error frame.
	ErrorRemoteFailure
)

// Error is a terminal transport error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSessionNotFound returns true if err is a fatal session-not-found error.
func IsSessionNotFound(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind == ErrorSessionNotFound
	}
	return false
}

// IsRetriesExhausted returns true if err exhausted the retry budget.
func IsRetriesExhausted(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind == ErrorRetriesExhausted
	}
	return false
}

// IsBudgetExceeded returns true if err exceeded the poll wall-clock budget.
func IsBudgetExceeded(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind == ErrorBudgetExceeded
	}
	return false
}

// IsRemoteFailure returns true if the backend reported the execution failed.
func IsRemoteFailure(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind == ErrorRemoteFailure
	}
	return false
}
