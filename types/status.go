package types

// SessionStatus is the lifecycle status of an execution session.
type SessionStatus string

const (
	// SessionConnecting indicates the transport is being established.
	SessionConnecting SessionStatus = "connecting"
	// SessionActive indicates the session is live and applying frames.
	SessionActive SessionStatus = "active"
	// SessionCompleted indicates the run finished successfully.
	SessionCompleted SessionStatus = "completed"
	// SessionFailed indicates the run ended with a fatal error.
	SessionFailed SessionStatus = "failed"
	// SessionStopped indicates the user stopped the run.
	SessionStopped SessionStatus = "stopped"
)

// IsTerminal returns true if the status is a final state.
// Terminal statuses are sticky: once recorded, later transport or frame
// activity must not resurrect an active session.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionStopped
}

// AgentStatus is the lifecycle status of a single agent within a session.
type AgentStatus string

const (
	// AgentSpawning indicates the agent record exists but work has not begun.
	AgentSpawning AgentStatus = "spawning"
	// AgentWorking indicates the agent is actively producing output.
	AgentWorking AgentStatus = "working"
	// AgentWaiting indicates the agent is paused on an external input.
	AgentWaiting AgentStatus = "waiting"
	// AgentComplete indicates the agent finished.
	AgentComplete AgentStatus = "complete"
	// AgentError indicates the agent failed. Error is sticky within a run.
	AgentError AgentStatus = "error"
)

// IsTerminal returns true if the agent status is a final state.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentComplete || s == AgentError
}
