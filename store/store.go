// Package store holds the authoritative in-memory model of one execution
// session: the agent registry, the derived state-machine graph, pending
// decisions, and a bounded event log.
//
// The store is single-session-scoped. All mutation is funneled through the
// engine's serialized apply path; the lock below only guards concurrent
// snapshot readers (e.g. a rendering collaborator on its own goroutine).
// Consumers only ever receive snapshots via Subscribe/Snapshot, never
// references to internals.
package store

import (
	"sync"
	"time"

	"github.com/rajulubheem/thrivix-sub003/types"
)

// Bounds on derived history kept per agent and per session. Long-running
// executions must not grow memory without limit.
const (
	MaxToolHistory     = 50
	MaxProgressHistory = 50
	MaxEventLog        = 1000
)

// agentState is the internal mutable record for one agent.
type agentState struct {
	id           string
	name         string
	role         string
	status       types.AgentStatus
	text         string
	finalized    bool
	lastSeq      uint64
	lastActivity time.Time
	tools        []string
	progress     []string
	tokens       int64
	errMsg       string
}

// edgeKey identifies a directed graph edge.
type edgeKey struct {
	From string
	To   string
}

// groupState tracks one parallel fan-out group.
type groupState struct {
	parent    string
	children  []string
	completed int
	closed    bool
}

// decisionState is a pending human decision gating one state node.
type decisionState struct {
	stateID     string
	allowed     []string
	description string
}

// Store is the execution state store. Zero value is not usable; use New.
type Store struct {
	mu sync.RWMutex

	executionID  string
	status       types.SessionStatus
	statusReason string

	agents     map[string]*agentState
	agentOrder []string

	nodes      map[string]bool
	nodeOrder  []string
	active     map[string]bool
	edges      map[edgeKey]bool
	edgeOrder  []edgeKey
	highlights map[edgeKey]bool

	groups     map[string]*groupState
	groupOrder []string

	decisions map[string]*decisionState

	events []Event

	subs    map[int]func()
	nextSub int

	now func() time.Time
}

// Event is one entry in the session's bounded event log.
type Event struct {
	Kind    string
	AgentID string
	Detail  string
	Ts      time.Time
}

// New creates an empty store for the given execution id.
func New(executionID string) *Store {
	s := &Store{now: time.Now}
	s.init(executionID)
	return s
}

func (s *Store) init(executionID string) {
	s.executionID = executionID
	s.status = types.SessionConnecting
	s.statusReason = ""
	s.agents = make(map[string]*agentState)
	s.agentOrder = nil
	s.nodes = make(map[string]bool)
	s.nodeOrder = nil
	s.active = make(map[string]bool)
	s.edges = make(map[edgeKey]bool)
	s.edgeOrder = nil
	s.highlights = make(map[edgeKey]bool)
	s.groups = make(map[string]*groupState)
	s.groupOrder = nil
	s.decisions = make(map[string]*decisionState)
	s.events = nil
	if s.subs == nil {
		s.subs = make(map[int]func())
	}
}

// Reset clears all agents, graph state, counters, and the event log for a
// new execution. Subscriptions survive a reset; a fresh execution id is
// required rather than an incremental merge into stale state.
func (s *Store) Reset(executionID string) {
	s.mu.Lock()
	s.init(executionID)
	s.mu.Unlock()
	s.notify()
}

// ExecutionID returns the session's execution id.
func (s *Store) ExecutionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executionID
}

// Subscribe registers fn to be invoked after every committed mutation.
// The callback runs on the mutating goroutine and must not block.
// The returned cancel func removes the subscription; safe to call twice.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify invokes subscribers outside the lock so a callback may call
// Snapshot without deadlocking.
func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// --- Session status ---

// SetStatus records the session status. Terminal statuses are sticky: once
// completed/failed/stopped is recorded, later transitions are ignored so
// racing in-flight frames cannot resurrect an active session.
func (s *Store) SetStatus(status types.SessionStatus, reason string) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.statusReason = reason
	s.mu.Unlock()
	s.notify()
}

// Status returns the current session status.
func (s *Store) Status() types.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StatusReason returns the human-readable reason for the current status.
func (s *Store) StatusReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusReason
}

// --- Agent registry ---

// agent returns the record for agentID, creating it lazily.
// Caller must hold the write lock.
func (s *Store) agent(agentID string) *agentState {
	a, ok := s.agents[agentID]
	if !ok {
		a = &agentState{
			id:     agentID,
			status: types.AgentSpawning,
		}
		s.agents[agentID] = a
		s.agentOrder = append(s.agentOrder, agentID)
	}
	return a
}

// UpsertAgent ensures a record exists for agentID, filling in name and role
// when provided.
func (s *Store) UpsertAgent(agentID, name, role string) {
	s.mu.Lock()
	a := s.agent(agentID)
	if name != "" {
		a.name = name
	}
	if role != "" {
		a.role = role
	}
	s.mu.Unlock()
	s.notify()
}

// SetAgentStatus transitions an agent's status. Error is sticky within a
// run: once an agent is in error, only a Reset can clear it.
func (s *Store) SetAgentStatus(agentID string, status types.AgentStatus) {
	s.mu.Lock()
	a := s.agent(agentID)
	if a.status == types.AgentError {
		s.mu.Unlock()
		return
	}
	a.status = status
	a.lastActivity = s.now()
	s.mu.Unlock()
	s.notify()
}

// SetAgentError puts an agent into the sticky error state with a message.
func (s *Store) SetAgentError(agentID, msg string) {
	s.mu.Lock()
	a := s.agent(agentID)
	a.status = types.AgentError
	a.errMsg = msg
	a.lastActivity = s.now()
	s.mu.Unlock()
	s.notify()
}

// AgentStatus returns the agent's current status, or AgentSpawning for an
// unknown agent (records are created lazily).
func (s *Store) AgentStatus(agentID string) types.AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[agentID]; ok {
		return a.status
	}
	return types.AgentSpawning
}

// LastAcceptedSeq returns the agent's last accepted sequence number.
func (s *Store) LastAcceptedSeq(agentID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[agentID]; ok {
		return a.lastSeq
	}
	return 0
}

// AppendAgentText appends accepted token text to the agent's accumulated
// output and advances the sequence watermark. A seq of zero appends without
// advancing the watermark (unsequenced legacy frames).
func (s *Store) AppendAgentText(agentID, text string, seq uint64) {
	s.mu.Lock()
	a := s.agent(agentID)
	a.text += text
	if seq > 0 {
		a.lastSeq = seq
	}
	a.tokens += estimateTokens(text)
	a.lastActivity = s.now()
	s.mu.Unlock()
	s.notify()
}

// MarkAgentFinal flips the agent's terminal utterance flag. Final never
// truncates accumulated text.
func (s *Store) MarkAgentFinal(agentID string, seq uint64) {
	s.mu.Lock()
	a := s.agent(agentID)
	a.finalized = true
	if seq > 0 {
		a.lastSeq = seq
	}
	a.lastActivity = s.now()
	s.mu.Unlock()
	s.notify()
}

// ClearAgentText drops placeholder text (e.g. a stale "initializing"
// message) when the agent actually starts producing output.
func (s *Store) ClearAgentText(agentID string) {
	s.mu.Lock()
	a := s.agent(agentID)
	a.text = ""
	a.finalized = false
	s.mu.Unlock()
	s.notify()
}

// AgentText returns the agent's accumulated output.
func (s *Store) AgentText(agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[agentID]; ok {
		return a.text
	}
	return ""
}

// RecordToolUse appends a tool name to the agent's bounded tool history.
func (s *Store) RecordToolUse(agentID, tool string) {
	s.mu.Lock()
	a := s.agent(agentID)
	a.tools = appendBounded(a.tools, tool, MaxToolHistory)
	a.lastActivity = s.now()
	s.mu.Unlock()
	s.notify()
}

// RecordProgress appends a progress note to the agent's bounded history.
// The most recent note doubles as the agent's current task.
func (s *Store) RecordProgress(agentID, note string) {
	s.mu.Lock()
	a := s.agent(agentID)
	a.progress = appendBounded(a.progress, note, MaxProgressHistory)
	a.lastActivity = s.now()
	s.mu.Unlock()
	s.notify()
}

// SweepNonTerminal forces every agent still in spawning/working/waiting to
// complete. Used when the session ends while workers are mid-stream; no
// agent may be left running forever.
func (s *Store) SweepNonTerminal() {
	s.mu.Lock()
	for _, a := range s.agents {
		if !a.status.IsTerminal() {
			a.status = types.AgentComplete
		}
	}
	s.mu.Unlock()
	s.notify()
}

// --- Graph view ---

// touchNode registers a node id, creating it lazily on first reference.
// Caller must hold the write lock.
func (s *Store) touchNode(id string) {
	if id == "" {
		return
	}
	if !s.nodes[id] {
		s.nodes[id] = true
		s.nodeOrder = append(s.nodeOrder, id)
	}
}

// EnterState marks a state node active.
func (s *Store) EnterState(id string) {
	s.mu.Lock()
	s.touchNode(id)
	s.active[id] = true
	s.mu.Unlock()
	s.notify()
}

// ExitState marks a state node inactive.
func (s *Store) ExitState(id string) {
	s.mu.Lock()
	s.touchNode(id)
	delete(s.active, id)
	s.mu.Unlock()
	s.notify()
}

// FireEdge records a transition between two states and highlights it.
// Both endpoints are created lazily; every edge's endpoints always exist
// as nodes.
func (s *Store) FireEdge(from, to string) {
	if from == "" || to == "" {
		return
	}
	s.mu.Lock()
	s.touchNode(from)
	s.touchNode(to)
	key := edgeKey{From: from, To: to}
	if !s.edges[key] {
		s.edges[key] = true
		s.edgeOrder = append(s.edgeOrder, key)
	}
	s.highlights[key] = true
	s.mu.Unlock()
	s.notify()
}

// ClearEdgeHighlight removes the transient highlight from an edge. Called
// by the engine's scheduled clear, a fixed window after FireEdge.
func (s *Store) ClearEdgeHighlight(from, to string) {
	key := edgeKey{From: from, To: to}
	s.mu.Lock()
	if !s.highlights[key] {
		s.mu.Unlock()
		return
	}
	delete(s.highlights, key)
	s.mu.Unlock()
	s.notify()
}

// --- Parallel groups ---

// StartParallel registers a fan-out group keyed by the firing node id.
// Re-registering replaces any prior group for that node.
func (s *Store) StartParallel(parent string, children []string) {
	s.mu.Lock()
	s.touchNode(parent)
	for _, c := range children {
		s.touchNode(c)
	}
	if _, ok := s.groups[parent]; !ok {
		s.groupOrder = append(s.groupOrder, parent)
	}
	s.groups[parent] = &groupState{
		parent:   parent,
		children: append([]string(nil), children...),
	}
	s.mu.Unlock()
	s.notify()
}

// ParallelChildDone increments the completed count of the parent's group.
// Unknown or already-closed groups are ignored.
func (s *Store) ParallelChildDone(parent string) {
	s.mu.Lock()
	g, ok := s.groups[parent]
	if !ok || g.closed {
		s.mu.Unlock()
		return
	}
	g.completed++
	s.mu.Unlock()
	s.notify()
}

// CloseParallel marks the fan-in point: the group's results have been
// aggregated back into the parent node.
func (s *Store) CloseParallel(parent string) {
	s.mu.Lock()
	g, ok := s.groups[parent]
	if !ok {
		s.mu.Unlock()
		return
	}
	g.closed = true
	s.mu.Unlock()
	s.notify()
}

// --- Pending decisions ---

// SetDecision records the pending human decision for a state node,
// replacing any prior one for that id. At most one decision is pending
// per state node.
func (s *Store) SetDecision(stateID string, allowed []string, description string) {
	s.mu.Lock()
	s.touchNode(stateID)
	s.decisions[stateID] = &decisionState{
		stateID:     stateID,
		allowed:     append([]string(nil), allowed...),
		description: description,
	}
	s.mu.Unlock()
	s.notify()
}

// ClearDecision removes the pending decision for a state node, if any.
func (s *Store) ClearDecision(stateID string) {
	s.mu.Lock()
	if _, ok := s.decisions[stateID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.decisions, stateID)
	s.mu.Unlock()
	s.notify()
}

// ClearAllDecisions removes every pending decision (run ended).
func (s *Store) ClearAllDecisions() {
	s.mu.Lock()
	if len(s.decisions) == 0 {
		s.mu.Unlock()
		return
	}
	s.decisions = make(map[string]*decisionState)
	s.mu.Unlock()
	s.notify()
}

// DecisionAllows reports whether a pending decision exists for stateID and
// permits the given event.
func (s *Store) DecisionAllows(stateID, event string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[stateID]
	if !ok {
		return false
	}
	for _, e := range d.allowed {
		if e == event {
			return true
		}
	}
	return false
}

// --- Event log ---

// AppendEvent records an entry in the bounded session event log. The log
// is a ring: entries past MaxEventLog drop from the front.
func (s *Store) AppendEvent(kind, agentID, detail string) {
	s.mu.Lock()
	s.events = append(s.events, Event{
		Kind:    kind,
		AgentID: agentID,
		Detail:  detail,
		Ts:      s.now(),
	})
	if len(s.events) > MaxEventLog {
		s.events = s.events[len(s.events)-MaxEventLog:]
	}
	s.mu.Unlock()
}

func appendBounded(list []string, v string, max int) []string {
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// estimateTokens approximates the token count of a text fragment.
// Four characters per token is the usual rough cut for English text.
func estimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	n := int64(len(text) / 4)
	if n == 0 {
		n = 1
	}
	return n
}
