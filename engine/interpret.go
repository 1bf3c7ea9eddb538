package engine

import (
	"time"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/store"
	"github.com/rajulubheem/thrivix-sub003/types"
)

// EdgeHighlightTTL is how long a fired edge stays highlighted before the
// scheduled clear runs.
const EdgeHighlightTTL = 2 * time.Second

// Scheduler runs fn after d on the engine's serialized apply path. The
// engine supplies one backed by its task queue; tests can substitute an
// immediate or manual scheduler.
type Scheduler func(d time.Duration, fn func())

// Interpreter dispatches control frames to store mutations. One handler
// per control type; unknown types are logged and dropped.
type Interpreter struct {
	store      *store.Store
	reconciler *Reconciler
	logger     *log.Logger
	collector  *metrics.Collector
	schedule   Scheduler

	handlers map[types.ControlType]func(*types.ControlFrame)
}

// NewInterpreter creates an interpreter writing into the given store.
func NewInterpreter(st *store.Store, rec *Reconciler, logger *log.Logger, collector *metrics.Collector, schedule Scheduler) *Interpreter {
	i := &Interpreter{
		store:      st,
		reconciler: rec,
		logger:     logger,
		collector:  collector,
		schedule:   schedule,
	}
	i.handlers = map[types.ControlType]func(*types.ControlFrame){
		types.ControlAgentSpawned:       i.agentSpawned,
		types.ControlAgentStarted:       i.agentStarted,
		types.ControlAgentPaused:        i.agentPaused,
		types.ControlAgentCompleted:     i.agentCompleted,
		types.ControlAgentFailed:        i.agentFailed,
		types.ControlError:              i.errorFrame,
		types.ControlToolUse:            i.toolUse,
		types.ControlStateEntered:       i.stateEntered,
		types.ControlStateExited:        i.stateExited,
		types.ControlEdgeFired:          i.edgeFired,
		types.ControlParallelStart:      i.parallelStart,
		types.ControlParallelChildDone:  i.parallelChildDone,
		types.ControlParallelAggregated: i.parallelAggregated,
		types.ControlDecisionRequired:   i.decisionRequired,
		types.ControlSessionStart:       i.sessionStart,
		types.ControlSessionEnd:         i.sessionEnd,
		types.ControlWorkflowDone:       i.sessionEnd,
	}
	return i
}

// Apply dispatches one control frame.
func (i *Interpreter) Apply(f *types.ControlFrame) {
	handler, ok := i.handlers[f.Type]
	if !ok {
		i.logger.Warn("unknown control type dropped", map[string]any{
			"type":     string(f.Type),
			"agent_id": f.AgentID,
		})
		return
	}
	handler(f)
	i.collector.IncControlApplied(string(f.Type))
	i.store.AppendEvent(string(f.Type), f.AgentID, payloadString(f.Payload, "message", "description"))
}

func (i *Interpreter) agentSpawned(f *types.ControlFrame) {
	name := payloadString(f.Payload, "name")
	if name == "" {
		name = f.AgentID
	}
	i.store.UpsertAgent(f.AgentID, name, payloadString(f.Payload, "role"))
	i.store.SetAgentStatus(f.AgentID, types.AgentSpawning)
}

func (i *Interpreter) agentStarted(f *types.ControlFrame) {
	// Drop any placeholder text (e.g. "initializing") before real output.
	i.store.ClearAgentText(f.AgentID)
	i.store.SetAgentStatus(f.AgentID, types.AgentWorking)
}

func (i *Interpreter) agentPaused(f *types.ControlFrame) {
	i.store.SetAgentStatus(f.AgentID, types.AgentWaiting)
}

func (i *Interpreter) agentCompleted(f *types.ControlFrame) {
	if text := payloadString(f.Payload, "output", "final_message", "text"); text != "" || payloadString(f.Payload, "completion_id") != "" {
		i.reconciler.Finalize(f.AgentID, payloadString(f.Payload, "completion_id"), text, 0)
	}
	i.store.SetAgentStatus(f.AgentID, types.AgentComplete)
	if parent := payloadString(f.Payload, "parent"); parent != "" {
		i.store.ParallelChildDone(parent)
	}
}

func (i *Interpreter) agentFailed(f *types.ControlFrame) {
	i.store.SetAgentError(f.AgentID, payloadString(f.Payload, "error", "message"))
}

// errorFrame records an agent-scoped error on its record; an error with no
// agent id is workflow-level and fails the whole session.
func (i *Interpreter) errorFrame(f *types.ControlFrame) {
	if f.AgentID != "" {
		i.store.SetAgentError(f.AgentID, payloadString(f.Payload, "error", "message"))
		return
	}
	i.store.SetStatus(types.SessionFailed, payloadString(f.Payload, "error", "message"))
}

func (i *Interpreter) toolUse(f *types.ControlFrame) {
	if tool := payloadString(f.Payload, "tool", "name"); tool != "" {
		i.store.RecordToolUse(f.AgentID, tool)
	}
	if note := payloadString(f.Payload, "summary", "message"); note != "" {
		i.store.RecordProgress(f.AgentID, note)
	}
}

func (i *Interpreter) stateEntered(f *types.ControlFrame) {
	i.store.EnterState(i.stateID(f))
}

// stateExited marks the node's step finished. SetAgentStatus keeps error
// sticky, so an exited frame cannot wash out a failure.
func (i *Interpreter) stateExited(f *types.ControlFrame) {
	id := i.stateID(f)
	i.store.ExitState(id)
	if st := i.store.AgentStatus(id); st != "" && !st.IsTerminal() {
		i.store.SetAgentStatus(id, types.AgentComplete)
	}
}

func (i *Interpreter) edgeFired(f *types.ControlFrame) {
	from := payloadString(f.Payload, "from", "source")
	to := payloadString(f.Payload, "to", "target")
	if from == "" || to == "" {
		i.logger.Warn("edge_fired without endpoints dropped", map[string]any{
			"agent_id": f.AgentID,
		})
		return
	}
	i.store.FireEdge(from, to)
	i.schedule(EdgeHighlightTTL, func() {
		i.store.ClearEdgeHighlight(from, to)
	})
}

func (i *Interpreter) parallelStart(f *types.ControlFrame) {
	parent := payloadString(f.Payload, "parent")
	if parent == "" {
		parent = f.AgentID
	}
	i.store.StartParallel(parent, payloadStrings(f.Payload, "children"))
}

func (i *Interpreter) parallelChildDone(f *types.ControlFrame) {
	parent := payloadString(f.Payload, "parent")
	if parent == "" {
		parent = f.AgentID
	}
	i.store.ParallelChildDone(parent)
}

func (i *Interpreter) parallelAggregated(f *types.ControlFrame) {
	parent := payloadString(f.Payload, "parent")
	if parent == "" {
		parent = f.AgentID
	}
	i.store.CloseParallel(parent)
}

func (i *Interpreter) decisionRequired(f *types.ControlFrame) {
	stateID := i.stateID(f)
	allowed := payloadStrings(f.Payload, "allowed", "allowed_events")
	i.store.SetDecision(stateID, allowed, payloadString(f.Payload, "description"))
}

func (i *Interpreter) sessionStart(f *types.ControlFrame) {
	i.store.SetStatus(types.SessionActive, "")
}

// sessionEnd handles both session_end and workflow_completed: no agent may
// be left running after the run ends, and open decision gates are moot.
func (i *Interpreter) sessionEnd(f *types.ControlFrame) {
	i.store.SweepNonTerminal()
	i.store.ClearAllDecisions()
	i.store.SetStatus(types.SessionCompleted, "")
}

// stateID resolves the node a frame targets: an explicit state id in the
// payload, else the agent id (agent nodes and state nodes share id space).
func (i *Interpreter) stateID(f *types.ControlFrame) string {
	if id := payloadString(f.Payload, "state_id", "state"); id != "" {
		return id
	}
	return f.AgentID
}

// payloadString returns the first present string value among keys.
func payloadString(p map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// payloadStrings returns the first present string-slice value among keys.
// JSON arrays decode as []any, so both shapes are handled.
func payloadStrings(p map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
