// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single execution session.
// It is a leaf package with no internal dependencies; control-frame types
// are tracked as plain strings to keep it that way.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Ingest
	FramesReceived  int64
	TokensAccepted  int64
	DuplicateTokens int64
	StaleTokens     int64
	DecodeErrors    int64

	// Control frames applied, by subtype
	ControlApplied int64
	ControlByType  map[string]int64

	// Transport
	Reconnects       int64
	PollRetries      int64
	TransportErrors  int64
	FinalizesGuarded int64

	// Dimensions (informational, set at construction)
	ExecutionID string
	Transport   string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe,
// so components can run without a collector wired in.
type Collector struct {
	mu sync.Mutex

	framesReceived  int64
	tokensAccepted  int64
	duplicateTokens int64
	staleTokens     int64
	decodeErrors    int64

	controlApplied int64
	controlByType  map[string]int64

	reconnects       int64
	pollRetries      int64
	transportErrors  int64
	finalizesGuarded int64

	executionID string
	transport   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(executionID, transport string) *Collector {
	return &Collector{
		controlByType: make(map[string]int64),
		executionID:   executionID,
		transport:     transport,
	}
}

// IncFramesReceived records one raw frame arriving from the transport.
func (c *Collector) IncFramesReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesReceived++
	c.mu.Unlock()
}

// IncTokensAccepted records one token frame accepted by the reconciler.
func (c *Collector) IncTokensAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tokensAccepted++
	c.mu.Unlock()
}

// IncDuplicateTokens records a token frame dropped as an exact duplicate.
func (c *Collector) IncDuplicateTokens() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.duplicateTokens++
	c.mu.Unlock()
}

// IncStaleTokens records a token frame dropped as out-of-order/stale.
func (c *Collector) IncStaleTokens() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.staleTokens++
	c.mu.Unlock()
}

// IncDecodeErrors records a payload that could not be normalized.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncControlApplied records a control frame applied to the store.
func (c *Collector) IncControlApplied(controlType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.controlApplied++
	c.controlByType[controlType]++
	c.mu.Unlock()
}

// IncReconnects records a transport reconnect attempt.
func (c *Collector) IncReconnects() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
}

// IncPollRetries records a poll request retried after a transport error.
func (c *Collector) IncPollRetries() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pollRetries++
	c.mu.Unlock()
}

// IncTransportErrors records a transport-level error.
func (c *Collector) IncTransportErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transportErrors++
	c.mu.Unlock()
}

// IncFinalizesGuarded records a duplicate finalize suppressed by the
// idempotency guard.
func (c *Collector) IncFinalizesGuarded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.finalizesGuarded++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]int64, len(c.controlByType))
	for k, v := range c.controlByType {
		byType[k] = v
	}

	return Snapshot{
		FramesReceived:  c.framesReceived,
		TokensAccepted:  c.tokensAccepted,
		DuplicateTokens: c.duplicateTokens,
		StaleTokens:     c.staleTokens,
		DecodeErrors:    c.decodeErrors,

		ControlApplied: c.controlApplied,
		ControlByType:  byType,

		Reconnects:       c.reconnects,
		PollRetries:      c.pollRetries,
		TransportErrors:  c.transportErrors,
		FinalizesGuarded: c.finalizesGuarded,

		ExecutionID: c.executionID,
		Transport:   c.transport,
	}
}
