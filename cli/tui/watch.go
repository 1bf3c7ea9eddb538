package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/store"
)

// refreshMsg is sent whenever the store commits a mutation.
type refreshMsg struct{}

// textTailChars bounds how much accumulated agent text the view shows.
const textTailChars = 120

// WatchModel is the Bubble Tea model for a live session.
type WatchModel struct {
	store     *store.Store
	collector *metrics.Collector

	snap     store.Snapshot
	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a watch model over the given session store.
func NewWatchModel(st *store.Store, collector *metrics.Collector) WatchModel {
	return WatchModel{
		store:     st,
		collector: collector,
		snap:      st.Snapshot(),
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		m.snap = m.store.Snapshot()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf("Execution %s", m.snap.ExecutionID)
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("  ")
	b.WriteString(StateStyle(string(m.snap.Status)).Render(string(m.snap.Status)))
	if m.snap.StatusReason != "" {
		b.WriteString("  ")
		b.WriteString(ErrorStyle.Render(m.snap.StatusReason))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderAgents())
	if section := m.renderGraph(); section != "" {
		b.WriteString("\n")
		b.WriteString(section)
	}
	if section := m.renderDecisions(); section != "" {
		b.WriteString("\n")
		b.WriteString(section)
	}
	b.WriteString("\n")
	b.WriteString(m.renderCounters())

	help := HelpStyle.Render("Press q or Ctrl+C to detach (the session keeps streaming)")
	return b.String() + "\n" + help
}

func (m WatchModel) renderAgents() string {
	if len(m.snap.Agents) == 0 {
		return BoxStyle.Render(ValueStyle.Render("Waiting for agents..."))
	}

	var b strings.Builder
	for i, a := range m.snap.Agents {
		if i > 0 {
			b.WriteString("\n")
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		b.WriteString(fmt.Sprintf("%s %s",
			StateStyle(string(a.Status)).Render(fmt.Sprintf("[%s]", a.Status)),
			ValueStyle.Render(name)))
		if a.Role != "" {
			b.WriteString(MutedStyle.Render(" " + a.Role))
		}
		b.WriteString("\n")

		if a.CurrentTask != "" {
			b.WriteString(fmt.Sprintf("  %s %s\n",
				LabelStyle.Render("task:"),
				ValueStyle.Render(a.CurrentTask)))
		}
		if len(a.ToolsUsed) > 0 {
			b.WriteString(fmt.Sprintf("  %s %s\n",
				LabelStyle.Render("tools:"),
				ValueStyle.Render(strings.Join(a.ToolsUsed, ", "))))
		}
		if a.Error != "" {
			b.WriteString(fmt.Sprintf("  %s %s\n",
				LabelStyle.Render("error:"),
				ErrorStyle.Render(a.Error)))
		}
		if tail := textTail(a.Text); tail != "" {
			b.WriteString(fmt.Sprintf("  %s %s\n",
				LabelStyle.Render("output:"),
				ValueStyle.Render(tail)))
		}
	}
	return BoxStyle.Render(b.String())
}

func (m WatchModel) renderGraph() string {
	if len(m.snap.Nodes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("active:"),
		WarningStyle.Render(strings.Join(m.snap.ActiveSet, " "))))

	for _, e := range m.snap.Edges {
		arrow := fmt.Sprintf("%s -> %s", e.From, e.To)
		if e.Highlighted {
			b.WriteString("  " + SuccessStyle.Render(arrow) + "\n")
		} else {
			b.WriteString("  " + MutedStyle.Render(arrow) + "\n")
		}
	}

	for _, g := range m.snap.Parallel {
		state := fmt.Sprintf("%s %d/%d", g.Parent, g.Completed, g.Total)
		if g.Closed {
			b.WriteString("  " + SuccessStyle.Render(state+" aggregated") + "\n")
		} else {
			b.WriteString("  " + WarningStyle.Render(state) + "\n")
		}
	}
	return BoxStyle.Render(b.String())
}

func (m WatchModel) renderDecisions() string {
	if len(m.snap.Decisions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(WarningStyle.Render("Pending decisions"))
	b.WriteString("\n")
	for _, d := range m.snap.Decisions {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			ValueStyle.Render(d.StateID),
			MutedStyle.Render("allows:"),
			ValueStyle.Render(strings.Join(d.AllowedEvents, ", "))))
		if d.Description != "" {
			b.WriteString("    " + ValueStyle.Render(d.Description) + "\n")
		}
	}
	b.WriteString(HelpStyle.Render("  submit with: thrivix decide --id " + m.snap.ExecutionID))
	return BoxStyle.Render(b.String())
}

func (m WatchModel) renderCounters() string {
	ms := m.collector.Snapshot()
	return HelpStyle.Render(fmt.Sprintf(
		"frames %d  accepted %d  dup %d  stale %d  reconnects %d",
		ms.FramesReceived, ms.TokensAccepted, ms.DuplicateTokens, ms.StaleTokens, ms.Reconnects))
}

// textTail returns the last chunk of accumulated text, single-line.
func textTail(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if len(text) > textTailChars {
		return "..." + text[len(text)-textTailChars:]
	}
	return text
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunWatch runs the live watch view until the user quits or done is
// closed (session over). The subscription is cancelled on return.
func RunWatch(st *store.Store, collector *metrics.Collector, done <-chan struct{}) error {
	model := NewWatchModel(st, collector)
	p := tea.NewProgram(model, tea.WithAltScreen())

	cancel := st.Subscribe(func() {
		p.Send(refreshMsg{})
	})
	defer cancel()

	go func() {
		<-done
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
