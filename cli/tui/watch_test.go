package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/store"
)

func newTestModel(t *testing.T) (WatchModel, *store.Store) {
	t.Helper()
	st := store.New("exec-tui")
	return NewWatchModel(st, metrics.NewCollector("exec-tui", "ws")), st
}

func TestWatchModel_RefreshPullsSnapshot(t *testing.T) {
	m, st := newTestModel(t)

	st.UpsertAgent("a1", "researcher", "analysis")
	st.AppendAgentText("a1", "hello world", 1)

	// Not visible until a refresh is delivered.
	if strings.Contains(m.View(), "researcher") {
		t.Fatal("agent visible before refresh")
	}

	updated, _ := m.Update(refreshMsg{})
	view := updated.(WatchModel).View()

	if !strings.Contains(view, "researcher") {
		t.Errorf("view missing agent name:\n%s", view)
	}
	if !strings.Contains(view, "hello world") {
		t.Errorf("view missing agent output:\n%s", view)
	}
	if !strings.Contains(view, "exec-tui") {
		t.Errorf("view missing execution id:\n%s", view)
	}
}

func TestWatchModel_ShowsPendingDecision(t *testing.T) {
	m, st := newTestModel(t)

	st.SetDecision("review", []string{"approve", "reject"}, "Review the draft")

	updated, _ := m.Update(refreshMsg{})
	view := updated.(WatchModel).View()

	if !strings.Contains(view, "review") {
		t.Errorf("view missing decision state:\n%s", view)
	}
	if !strings.Contains(view, "approve, reject") {
		t.Errorf("view missing allowed events:\n%s", view)
	}
}

func TestWatchModel_EdgeArrowStaysOnOneLine(t *testing.T) {
	m, st := newTestModel(t)

	// Longer than any label-column width; must not wrap mid-arrow.
	st.EnterState("research-agent")
	st.FireEdge("research-agent", "summarizer-agent")

	updated, _ := m.Update(refreshMsg{})
	view := updated.(WatchModel).View()

	if !strings.Contains(view, "research-agent -> summarizer-agent") {
		t.Errorf("view missing contiguous edge arrow:\n%s", view)
	}
}

func TestWatchModel_QuitKey(t *testing.T) {
	m, _ := newTestModel(t)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if updated.(WatchModel).View() != "" {
		t.Error("expected empty view after quit")
	}
}

func TestTextTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "hello", "hello"},
		{"newlines flattened", "a\nb", "a b"},
		{"long truncated", strings.Repeat("x", 300), "..." + strings.Repeat("x", textTailChars)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textTail(tt.in); got != tt.want {
				t.Errorf("textTail(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
