package store

import (
	"time"

	"github.com/rajulubheem/thrivix-sub003/types"
)

// Agent is an immutable view of one agent record.
type Agent struct {
	ID             string
	Name           string
	Role           string
	Status         types.AgentStatus
	Text           string
	Finalized      bool
	LastSeq        uint64
	LastActivity   time.Time
	ToolsUsed      []string
	Progress       []string
	CurrentTask    string
	TokensEstimate int64
	Error          string
}

// Edge is an immutable view of one graph transition.
type Edge struct {
	From        string
	To          string
	Highlighted bool
}

// ParallelGroup is an immutable view of one fan-out group.
type ParallelGroup struct {
	Parent    string
	Children  []string
	Completed int
	Total     int
	Closed    bool
}

// Decision is an immutable view of one pending human decision.
type Decision struct {
	StateID       string
	AllowedEvents []string
	Description   string
}

// Snapshot is a point-in-time copy of the whole session state. Safe to
// read concurrently after creation; the store continues to mutate
// independently.
type Snapshot struct {
	ExecutionID  string
	Status       types.SessionStatus
	StatusReason string

	Agents []Agent

	Nodes     []string
	ActiveSet []string
	Edges     []Edge
	Parallel  []ParallelGroup

	Decisions []Decision

	Events []Event
}

// Snapshot returns a deep copy of the current state. Agents, nodes, and
// edges preserve first-seen order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ExecutionID:  s.executionID,
		Status:       s.status,
		StatusReason: s.statusReason,
	}

	snap.Agents = make([]Agent, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		a := s.agents[id]
		agent := Agent{
			ID:             a.id,
			Name:           a.name,
			Role:           a.role,
			Status:         a.status,
			Text:           a.text,
			Finalized:      a.finalized,
			LastSeq:        a.lastSeq,
			LastActivity:   a.lastActivity,
			ToolsUsed:      append([]string(nil), a.tools...),
			Progress:       append([]string(nil), a.progress...),
			TokensEstimate: a.tokens,
			Error:          a.errMsg,
		}
		if len(a.progress) > 0 {
			agent.CurrentTask = a.progress[len(a.progress)-1]
		}
		snap.Agents = append(snap.Agents, agent)
	}

	snap.Nodes = append([]string(nil), s.nodeOrder...)

	snap.ActiveSet = make([]string, 0, len(s.active))
	for _, id := range s.nodeOrder {
		if s.active[id] {
			snap.ActiveSet = append(snap.ActiveSet, id)
		}
	}

	snap.Edges = make([]Edge, 0, len(s.edgeOrder))
	for _, key := range s.edgeOrder {
		snap.Edges = append(snap.Edges, Edge{
			From:        key.From,
			To:          key.To,
			Highlighted: s.highlights[key],
		})
	}

	snap.Parallel = make([]ParallelGroup, 0, len(s.groupOrder))
	for _, parent := range s.groupOrder {
		g, ok := s.groups[parent]
		if !ok {
			continue
		}
		snap.Parallel = append(snap.Parallel, ParallelGroup{
			Parent:    g.parent,
			Children:  append([]string(nil), g.children...),
			Completed: g.completed,
			Total:     len(g.children),
			Closed:    g.closed,
		})
	}

	snap.Decisions = make([]Decision, 0, len(s.decisions))
	for _, id := range s.nodeOrder {
		d, ok := s.decisions[id]
		if !ok {
			continue
		}
		snap.Decisions = append(snap.Decisions, Decision{
			StateID:       d.stateID,
			AllowedEvents: append([]string(nil), d.allowed...),
			Description:   d.description,
		})
	}

	snap.Events = append([]Event(nil), s.events...)

	return snap
}
