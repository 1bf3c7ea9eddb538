// Package types defines core domain types for the Thrivix reconciliation engine.
//
//nolint:revive // types is a common Go package naming convention
package types

// FrameTypeToken is the frame_type discriminant for token frames.
const FrameTypeToken = "token"

// FrameTypeControl is the frame_type discriminant for control frames.
const FrameTypeControl = "control"

// TokenFrame is one fragment of an agent's streamed output.
// Frames are immutable after decode; Seq is a per-agent monotonic counter
// assigned by the producer, per docs/PROTOCOL.md.
type TokenFrame struct {
	// ExecutionID is the execution session this frame belongs to.
	ExecutionID string `json:"exec_id"`
	// AgentID identifies the producing agent within the session.
	AgentID string `json:"agent_id"`
	// Seq is the per-agent monotonic sequence number. Zero means the
	// producer did not assign one (legacy envelopes).
	Seq uint64 `json:"seq"`
	// Text is the token fragment to append.
	Text string `json:"text"`
	// Final marks the terminating frame of the agent's current utterance.
	Final bool `json:"final"`
	// Ts is the producer timestamp in ISO 8601 UTC format.
	Ts string `json:"ts"`
	// CompletionID is an optional server-assigned idempotency key for the
	// finalized utterance. Preferred over the text-prefix hash when present.
	CompletionID string `json:"completion_id,omitempty"`
}

// ControlType discriminates control frame subtypes.
type ControlType string

// Control frame subtypes per docs/PROTOCOL.md.
const (
	// Agent lifecycle
	ControlAgentSpawned   ControlType = "agent_spawned"
	ControlAgentStarted   ControlType = "agent_started"
	ControlAgentPaused    ControlType = "agent_paused"
	ControlAgentCompleted ControlType = "agent_completed"
	ControlAgentFailed    ControlType = "agent_failed"

	// Workflow lifecycle
	ControlSessionStart ControlType = "session_start"
	ControlSessionEnd   ControlType = "session_end"
	ControlWorkflowDone ControlType = "workflow_completed"
	ControlError        ControlType = "error"

	// Tool usage
	ControlToolUse ControlType = "tool_use"

	// State-machine transitions
	ControlStateEntered ControlType = "state_entered"
	ControlStateExited  ControlType = "state_exited"
	ControlEdgeFired    ControlType = "edge_fired"

	// Parallel coordination
	ControlParallelStart      ControlType = "parallel_start"
	ControlParallelChildDone  ControlType = "parallel_child_completed"
	ControlParallelAggregated ControlType = "parallel_aggregated"

	// Human-decision gating
	ControlDecisionRequired ControlType = "human_decision_required"
)

// IsTerminal returns true if this control type ends the session.
func (t ControlType) IsTerminal() bool {
	return t == ControlSessionEnd || t == ControlWorkflowDone || t == ControlError
}

// ControlFrame is a control event mutating execution state.
// AgentID is optional; some workflow-level subtypes carry none.
type ControlFrame struct {
	// ExecutionID is the execution session this frame belongs to.
	ExecutionID string `json:"exec_id"`
	// Type is the control subtype discriminator.
	Type ControlType `json:"type"`
	// AgentID identifies the subject agent, when any.
	AgentID string `json:"agent_id,omitempty"`
	// Payload is the subtype-specific payload.
	Payload map[string]any `json:"payload,omitempty"`
	// Ts is the producer timestamp in ISO 8601 UTC format.
	Ts string `json:"ts"`
}
