package engine

import (
	"github.com/cespare/xxhash/v2"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/store"
	"github.com/rajulubheem/thrivix-sub003/types"
)

// finalizeGuardChars is how much of the final text participates in the
// finalize guard hash. See docs/PROTOCOL.md.
const finalizeGuardChars = 64

// Reconciler folds the per-agent token streams into the store: it drops
// duplicates and stale regressions, merges accepted fragments into
// accumulated text, and guards the finalize boundary against redelivery.
// All state is instance-owned, so concurrent sessions are independent.
type Reconciler struct {
	store     *store.Store
	logger    *log.Logger
	collector *metrics.Collector

	// finalized holds guard hashes of utterances already finalized, so a
	// redelivered completion cannot re-append the same text.
	finalized map[uint64]struct{}
}

// NewReconciler creates a reconciler writing into the given store.
func NewReconciler(st *store.Store, logger *log.Logger, collector *metrics.Collector) *Reconciler {
	return &Reconciler{
		store:     st,
		logger:    logger,
		collector: collector,
		finalized: make(map[uint64]struct{}),
	}
}

// ApplyToken applies one token frame.
//
// Sequenced frames (seq > 0) are checked against the agent's watermark:
// a frame at the watermark is a duplicate, a frame below it is stale
// unless final. Final frames are always accepted but never truncate
// accumulated text. Unsequenced frames (seq == 0, legacy shapes) append
// without moving the watermark.
func (r *Reconciler) ApplyToken(f *types.TokenFrame) {
	last := r.store.LastAcceptedSeq(f.AgentID)

	if f.Seq > 0 {
		if f.Seq == last {
			r.collector.IncDuplicateTokens()
			r.logger.Debug("duplicate token dropped", map[string]any{
				"agent_id": f.AgentID,
				"seq":      f.Seq,
			})
			return
		}
		if f.Seq < last && !f.Final {
			r.collector.IncStaleTokens()
			r.logger.Debug("stale token dropped", map[string]any{
				"agent_id":  f.AgentID,
				"seq":       f.Seq,
				"watermark": last,
			})
			return
		}
	}

	if f.Final {
		r.Finalize(f.AgentID, f.CompletionID, f.Text, f.Seq)
		return
	}

	r.store.AppendAgentText(f.AgentID, f.Text, f.Seq)
	r.collector.IncTokensAccepted()
}

// Finalize closes out an agent's current utterance, appending text if this
// completion has not been seen before. Returns false when the finalize
// guard suppressed a redelivery.
func (r *Reconciler) Finalize(agentID, completionID, text string, seq uint64) bool {
	key := r.guardKey(agentID, completionID, text)
	if _, seen := r.finalized[key]; seen {
		r.collector.IncFinalizesGuarded()
		r.logger.Debug("duplicate finalize suppressed", map[string]any{
			"agent_id": agentID,
		})
		return false
	}
	r.finalized[key] = struct{}{}

	if text != "" {
		r.store.AppendAgentText(agentID, text, seq)
		r.collector.IncTokensAccepted()
	}
	r.store.MarkAgentFinal(agentID, seq)
	return true
}

// guardKey hashes the finalize identity: the producer's completion id when
// it sends one, otherwise the agent id plus the head of the final text.
func (r *Reconciler) guardKey(agentID, completionID, text string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(agentID)
	if completionID != "" {
		_, _ = h.WriteString(completionID)
	} else {
		head := text
		if len(head) > finalizeGuardChars {
			head = head[:finalizeGuardChars]
		}
		_, _ = h.WriteString(head)
	}
	return h.Sum64()
}
