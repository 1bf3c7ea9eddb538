// Package adapter defines the notification boundary for finished sessions.
//
// Adapters publish session completion events to downstream systems. The
// CLI owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/store"
	"github.com/rajulubheem/thrivix-sub003/types"
)

// EventType is the event_type value carried by every completion event.
const EventType = "session_completed"

// SessionCompletedEvent is the payload published when a session reaches a
// terminal state. The shape is documented in docs/PROTOCOL.md.
type SessionCompletedEvent struct {
	EventType   string `json:"event_type"` // always "session_completed"
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"` // completed, failed, stopped
	Reason      string `json:"reason,omitempty"`
	AgentCount  int    `json:"agent_count"`
	ErrorCount  int    `json:"error_count"`
	EventCount  int    `json:"event_count"`
	FrameCount  int64  `json:"frame_count"`
	TokensTotal int64  `json:"tokens_total"`
	RecordingID string `json:"recording_id,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Timestamp   string `json:"timestamp"` // ISO 8601
}

// NewEvent derives a completion event from the session's final snapshot.
func NewEvent(snap store.Snapshot, m metrics.Snapshot, recordingID string, duration time.Duration) *SessionCompletedEvent {
	event := &SessionCompletedEvent{
		EventType:   EventType,
		ExecutionID: snap.ExecutionID,
		Status:      string(snap.Status),
		Reason:      snap.StatusReason,
		AgentCount:  len(snap.Agents),
		EventCount:  len(snap.Events),
		FrameCount:  m.FramesReceived,
		RecordingID: recordingID,
		DurationMs:  duration.Milliseconds(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, a := range snap.Agents {
		event.TokensTotal += a.TokensEstimate
		if a.Status == types.AgentError {
			event.ErrorCount++
		}
	}
	return event
}

// Adapter publishes session completion events to a downstream system.
// Implementations must be safe for single-use per session.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
