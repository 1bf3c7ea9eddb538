package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/store"
	"github.com/rajulubheem/thrivix-sub003/transport"
	"github.com/rajulubheem/thrivix-sub003/types"
)

// immediateScheduler runs deferred work inline, so highlight clears are
// observable without waiting.
func immediateScheduler(_ time.Duration, fn func()) { fn() }

// manualScheduler collects deferred work for the test to run explicitly.
type manualScheduler struct {
	delays []time.Duration
	fns    []func()
}

func (m *manualScheduler) schedule(d time.Duration, fn func()) {
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, fn)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store, *metrics.Collector) {
	t.Helper()
	st := store.New("exec-1")
	collector := metrics.NewCollector("exec-1", "test")
	e := New(st, log.NewLogger("exec-1"), collector, opts...)
	return e, st, collector
}

func token(agent string, seq uint64, text string, final bool) *types.TokenFrame {
	return &types.TokenFrame{
		ExecutionID: "exec-1",
		AgentID:     agent,
		Seq:         seq,
		Text:        text,
		Final:       final,
	}
}

func control(ctype types.ControlType, agent string, payload map[string]any) *types.ControlFrame {
	return &types.ControlFrame{
		ExecutionID: "exec-1",
		Type:        ctype,
		AgentID:     agent,
		Payload:     payload,
	}
}

func agentByID(t *testing.T, snap store.Snapshot, id string) store.Agent {
	t.Helper()
	for _, a := range snap.Agents {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("agent %s not in snapshot", id)
	return store.Agent{}
}

func TestEngine_DuplicateReplayIsIdempotent(t *testing.T) {
	// The concrete dedup scenario: seq=1 delivered twice, then the final
	// fragment. Accumulated text must be exactly "Hello".
	e, st, collector := newTestEngine(t)

	e.ProcessFrame(token("a1", 1, "Hel", false))
	e.ProcessFrame(token("a1", 1, "Hel", false))
	e.ProcessFrame(token("a1", 2, "lo", true))

	if got := st.AgentText("a1"); got != "Hello" {
		t.Fatalf("accumulated text = %q, want %q", got, "Hello")
	}
	if snap := collector.Snapshot(); snap.DuplicateTokens != 1 {
		t.Errorf("duplicate count = %d, want 1", snap.DuplicateTokens)
	}
	// Token frames alone never advance agent status past the lazily
	// created spawning record; lifecycle moves only on control frames.
	if got := st.AgentStatus("a1"); got != types.AgentSpawning {
		t.Errorf("status = %q, want %q", got, types.AgentSpawning)
	}
}

func TestEngine_CrossAgentOrderIndependence(t *testing.T) {
	isolated := store.New("exec-1")
	er := NewReconciler(isolated, log.NewLogger("exec-1"), nil)
	er.ApplyToken(token("a1", 1, "foo", false))
	er.ApplyToken(token("a1", 2, "bar", true))
	er.ApplyToken(token("a2", 1, "baz", false))
	er.ApplyToken(token("a2", 2, "qux", true))

	interleaved := store.New("exec-1")
	ir := NewReconciler(interleaved, log.NewLogger("exec-1"), nil)
	ir.ApplyToken(token("a2", 1, "baz", false))
	ir.ApplyToken(token("a1", 1, "foo", false))
	ir.ApplyToken(token("a2", 2, "qux", true))
	ir.ApplyToken(token("a1", 2, "bar", true))

	for _, agent := range []string{"a1", "a2"} {
		if a, b := isolated.AgentText(agent), interleaved.AgentText(agent); a != b {
			t.Errorf("agent %s: isolated %q != interleaved %q", agent, a, b)
		}
	}
}

func TestEngine_StaleDroppedFinalAccepted(t *testing.T) {
	e, st, collector := newTestEngine(t)

	e.ProcessFrame(token("a1", 5, "head", false))
	e.ProcessFrame(token("a1", 3, "late", false))
	if got := st.AgentText("a1"); got != "head" {
		t.Fatalf("stale frame mutated text: %q", got)
	}
	if snap := collector.Snapshot(); snap.StaleTokens != 1 {
		t.Errorf("stale count = %d, want 1", snap.StaleTokens)
	}

	// A final below the watermark is still accepted.
	e.ProcessFrame(token("a1", 4, " tail", true))
	if got := st.AgentText("a1"); got != "head tail" {
		t.Errorf("text = %q, want %q", got, "head tail")
	}
	a := agentByID(t, st.Snapshot(), "a1")
	if !a.Finalized {
		t.Error("final frame did not finalize the agent")
	}
}

func TestEngine_FinalWithEmptyTextNeverTruncates(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(token("a1", 1, "kept", false))
	e.ProcessFrame(token("a1", 2, "", true))

	if got := st.AgentText("a1"); got != "kept" {
		t.Errorf("text = %q, want %q", got, "kept")
	}
	if a := agentByID(t, st.Snapshot(), "a1"); !a.Finalized {
		t.Error("agent not finalized")
	}
}

func TestEngine_UnsequencedFramesAppendWithoutWatermark(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(token("a1", 0, "one ", false))
	e.ProcessFrame(token("a1", 0, "two", false))

	if got := st.AgentText("a1"); got != "one two" {
		t.Errorf("text = %q, want %q", got, "one two")
	}
	if got := st.LastAcceptedSeq("a1"); got != 0 {
		t.Errorf("watermark = %d, want 0", got)
	}
}

func TestReconciler_FinalizeGuardByCompletionID(t *testing.T) {
	st := store.New("exec-1")
	collector := metrics.NewCollector("exec-1", "test")
	r := NewReconciler(st, log.NewLogger("exec-1"), collector)

	if !r.Finalize("a1", "cmp-1", "done", 0) {
		t.Fatal("first finalize suppressed")
	}
	if r.Finalize("a1", "cmp-1", "done", 0) {
		t.Fatal("redelivered finalize not suppressed")
	}
	if got := st.AgentText("a1"); got != "done" {
		t.Errorf("text = %q, want %q", got, "done")
	}
	if snap := collector.Snapshot(); snap.FinalizesGuarded != 1 {
		t.Errorf("guarded count = %d, want 1", snap.FinalizesGuarded)
	}
}

func TestReconciler_FinalizeGuardByTextHead(t *testing.T) {
	st := store.New("exec-1")
	r := NewReconciler(st, log.NewLogger("exec-1"), nil)

	r.Finalize("a1", "", "same final message", 0)
	r.Finalize("a1", "", "same final message", 0)
	if got := st.AgentText("a1"); got != "same final message" {
		t.Errorf("text = %q, duplicate finalize re-appended", got)
	}

	// Different agent, same text: distinct utterance.
	r.Finalize("a2", "", "same final message", 0)
	if got := st.AgentText("a2"); got != "same final message" {
		t.Errorf("a2 text = %q", got)
	}
}

func TestEngine_LegacyOutputRedeliveryGuarded(t *testing.T) {
	// The {agent, output} legacy shape decodes as an unsequenced final
	// token. Polling redelivers it; the guard keeps text single.
	e, st, _ := newTestEngine(t)

	raw := []byte(`{"agent":"a1","output":"final answer"}`)
	e.ProcessRaw(raw)
	e.ProcessRaw(raw)

	if got := st.AgentText("a1"); got != "final answer" {
		t.Errorf("text = %q, want single copy", got)
	}
}

func TestEngine_AgentLifecycle(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(control(types.ControlAgentSpawned, "a1", map[string]any{"name": "Researcher", "role": "research"}))
	if got := st.AgentStatus("a1"); got != types.AgentSpawning {
		t.Fatalf("status = %q, want spawning", got)
	}

	st.AppendAgentText("a1", "initializing...", 0)
	e.ProcessFrame(control(types.ControlAgentStarted, "a1", nil))
	if got := st.AgentStatus("a1"); got != types.AgentWorking {
		t.Fatalf("status = %q, want working", got)
	}
	if got := st.AgentText("a1"); got != "" {
		t.Errorf("placeholder text survived start: %q", got)
	}

	e.ProcessFrame(control(types.ControlAgentCompleted, "a1", map[string]any{"output": "report", "completion_id": "cmp-9"}))
	if got := st.AgentStatus("a1"); got != types.AgentComplete {
		t.Fatalf("status = %q, want complete", got)
	}
	if got := st.AgentText("a1"); got != "report" {
		t.Errorf("text = %q, want %q", got, "report")
	}

	a := agentByID(t, st.Snapshot(), "a1")
	if a.Name != "Researcher" || a.Role != "research" {
		t.Errorf("identity not recorded: %+v", a)
	}
}

func TestEngine_ErrorIsStickyAgainstStateFrames(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(control(types.ControlAgentSpawned, "a1", nil))
	e.ProcessFrame(control(types.ControlAgentFailed, "a1", map[string]any{"error": "boom"}))
	if got := st.AgentStatus("a1"); got != types.AgentError {
		t.Fatalf("status = %q, want error", got)
	}

	e.ProcessFrame(control(types.ControlStateEntered, "a1", nil))
	e.ProcessFrame(control(types.ControlStateExited, "a1", nil))
	if got := st.AgentStatus("a1"); got != types.AgentError {
		t.Fatalf("state frames overrode error: %q", got)
	}

	a := agentByID(t, st.Snapshot(), "a1")
	if a.Error != "boom" {
		t.Errorf("error payload = %q, want boom", a.Error)
	}
}

func TestEngine_SessionEndSweepsNonTerminalAgents(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(control(types.ControlAgentSpawned, "a1", nil))
	e.ProcessFrame(control(types.ControlAgentStarted, "a1", nil))
	e.ProcessFrame(control(types.ControlAgentSpawned, "a2", nil))
	e.ProcessFrame(control(types.ControlAgentFailed, "a3", map[string]any{"error": "boom"}))
	e.ProcessFrame(control(types.ControlSessionEnd, "", nil))

	if got := st.AgentStatus("a1"); got != types.AgentComplete {
		t.Errorf("a1 = %q, want complete", got)
	}
	if got := st.AgentStatus("a2"); got != types.AgentComplete {
		t.Errorf("a2 = %q, want complete", got)
	}
	// The sweep forces completion of running agents only; error stays.
	if got := st.AgentStatus("a3"); got != types.AgentError {
		t.Errorf("a3 = %q, want error", got)
	}
	if got := st.Status(); got != types.SessionCompleted {
		t.Errorf("session = %q, want completed", got)
	}
}

func TestEngine_WorkflowErrorFailsSession(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(control(types.ControlError, "a1", map[string]any{"error": "agent scoped"}))
	if got := st.Status(); got.IsTerminal() {
		t.Fatalf("agent-scoped error terminated session: %q", got)
	}

	e.ProcessFrame(control(types.ControlError, "", map[string]any{"error": "workflow dead"}))
	if got := st.Status(); got != types.SessionFailed {
		t.Fatalf("session = %q, want failed", got)
	}
	if got := st.StatusReason(); got != "workflow dead" {
		t.Errorf("reason = %q", got)
	}

	// Terminal status is sticky against later frames.
	e.ProcessFrame(control(types.ControlSessionStart, "", nil))
	if got := st.Status(); got != types.SessionFailed {
		t.Errorf("terminal status regressed to %q", got)
	}
}

func TestEngine_DecisionGate(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(control(types.ControlAgentSpawned, "a2", nil))
	e.ProcessFrame(control(types.ControlDecisionRequired, "a2", map[string]any{
		"allowed": []any{"retry", "skip"},
	}))

	snap := st.Snapshot()
	if len(snap.Decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(snap.Decisions))
	}
	d := snap.Decisions[0]
	if d.StateID != "a2" {
		t.Errorf("state id = %q, want a2", d.StateID)
	}
	if len(d.AllowedEvents) != 2 || d.AllowedEvents[0] != "retry" || d.AllowedEvents[1] != "skip" {
		t.Errorf("allowed = %v", d.AllowedEvents)
	}
	if !st.DecisionAllows("a2", "retry") || st.DecisionAllows("a2", "abort") {
		t.Error("allowed-event validation wrong")
	}

	// Redelivery replaces, never accumulates.
	e.ProcessFrame(control(types.ControlDecisionRequired, "a2", map[string]any{
		"allowed": []any{"retry"},
	}))
	snap = st.Snapshot()
	if len(snap.Decisions) != 1 || len(snap.Decisions[0].AllowedEvents) != 1 {
		t.Fatalf("decision not replaced: %+v", snap.Decisions)
	}

	// Run end destroys pending gates.
	e.ProcessFrame(control(types.ControlWorkflowDone, "", nil))
	if snap = st.Snapshot(); len(snap.Decisions) != 0 {
		t.Errorf("decisions survived workflow end: %+v", snap.Decisions)
	}
}

func TestEngine_ParallelLifecycle(t *testing.T) {
	e, st, _ := newTestEngine(t)

	e.ProcessFrame(control(types.ControlParallelStart, "fan", map[string]any{
		"children": []any{"c1", "c2"},
	}))
	e.ProcessFrame(control(types.ControlParallelChildDone, "", map[string]any{"parent": "fan"}))
	e.ProcessFrame(control(types.ControlAgentCompleted, "c2", map[string]any{"parent": "fan"}))

	snap := st.Snapshot()
	if len(snap.Parallel) != 1 {
		t.Fatalf("groups = %d, want 1", len(snap.Parallel))
	}
	g := snap.Parallel[0]
	if g.Parent != "fan" || g.Total != 2 || g.Completed != 2 || g.Closed {
		t.Fatalf("group = %+v", g)
	}

	e.ProcessFrame(control(types.ControlParallelAggregated, "fan", nil))
	if g = st.Snapshot().Parallel[0]; !g.Closed {
		t.Error("group not closed after aggregation")
	}
}

func TestEngine_EdgeHighlightScheduledClear(t *testing.T) {
	sched := &manualScheduler{}
	e, st, _ := newTestEngine(t, WithScheduler(sched.schedule))

	e.ProcessFrame(control(types.ControlEdgeFired, "", map[string]any{"from": "n1", "to": "n2"}))

	snap := st.Snapshot()
	if len(snap.Edges) != 1 || !snap.Edges[0].Highlighted {
		t.Fatalf("edge not highlighted: %+v", snap.Edges)
	}
	// Endpoints materialize lazily.
	if len(snap.Nodes) != 2 {
		t.Errorf("nodes = %v, want lazy endpoints", snap.Nodes)
	}

	if len(sched.fns) != 1 || sched.delays[0] != EdgeHighlightTTL {
		t.Fatalf("scheduled %d clears with delays %v", len(sched.fns), sched.delays)
	}
	sched.fns[0]()
	if snap = st.Snapshot(); snap.Edges[0].Highlighted {
		t.Error("highlight survived scheduled clear")
	}
}

func TestEngine_DecodeErrorsNeverStopTheStream(t *testing.T) {
	e, st, collector := newTestEngine(t)

	e.ProcessRaw([]byte(`{not json`))
	e.ProcessRaw([]byte(`{"frame_type":"token","exec_id":"exec-1","agent_id":"a1","seq":1,"text":"ok","final":false}`))

	if got := st.AgentText("a1"); got != "ok" {
		t.Fatalf("valid frame after garbage not applied: %q", got)
	}
	if snap := collector.Snapshot(); snap.DecodeErrors != 1 {
		t.Errorf("decode errors = %d, want 1", snap.DecodeErrors)
	}
}

// fakeAdapter feeds a fixed frame list through the transport interface.
type fakeAdapter struct {
	frames chan []byte
	status chan transport.Status
	err    error
}

func newFakeAdapter(err error, payloads ...string) *fakeAdapter {
	a := &fakeAdapter{
		frames: make(chan []byte, len(payloads)),
		status: make(chan transport.Status, 4),
		err:    err,
	}
	a.status <- transport.StatusConnecting
	a.status <- transport.StatusConnected
	for _, p := range payloads {
		a.frames <- []byte(p)
	}
	close(a.frames)
	return a
}

func (a *fakeAdapter) Open(context.Context, transport.Cursor) error { return nil }
func (a *fakeAdapter) Frames() <-chan []byte                        { return a.frames }
func (a *fakeAdapter) Status() <-chan transport.Status              { return a.status }
func (a *fakeAdapter) Err() error                                   { return a.err }
func (a *fakeAdapter) Close() error                                 { return nil }

func TestEngine_RunAppliesStreamInArrivalOrder(t *testing.T) {
	e, st, _ := newTestEngine(t, WithScheduler(immediateScheduler))

	adapter := newFakeAdapter(nil,
		`{"frame_type":"control","exec_id":"exec-1","type":"session_start"}`,
		`{"frame_type":"control","exec_id":"exec-1","type":"agent_spawned","agent_id":"a1"}`,
		`{"frame_type":"control","exec_id":"exec-1","type":"agent_started","agent_id":"a1"}`,
		`{"frame_type":"token","exec_id":"exec-1","agent_id":"a1","seq":1,"text":"Hel","final":false}`,
		`{"frame_type":"token","exec_id":"exec-1","agent_id":"a1","seq":2,"text":"lo","final":true}`,
		`{"frame_type":"control","exec_id":"exec-1","type":"session_end"}`,
	)

	if err := e.Run(context.Background(), adapter); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := st.AgentText("a1"); got != "Hello" {
		t.Errorf("text = %q, want Hello", got)
	}
	if got := st.AgentStatus("a1"); got != types.AgentComplete {
		t.Errorf("agent = %q, want complete", got)
	}
	if got := st.Status(); got != types.SessionCompleted {
		t.Errorf("session = %q, want completed", got)
	}
}

func TestEngine_RunTransportFailureMarksSessionFailed(t *testing.T) {
	e, st, _ := newTestEngine(t)

	terr := &transport.Error{Kind: transport.ErrorRetriesExhausted, Msg: "gave up"}
	adapter := newFakeAdapter(terr)

	if err := e.Run(context.Background(), adapter); err == nil {
		t.Fatal("expected error from Run")
	}
	if got := st.Status(); got != types.SessionFailed {
		t.Errorf("session = %q, want failed", got)
	}
	if got := st.StatusReason(); got == "" {
		t.Error("empty failure reason")
	}
}
