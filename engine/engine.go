// Package engine reconstructs a consistent execution model from the raw
// frame stream: decode, per-agent sequence reconciliation, and control
// dispatch, all funneled through one serialized apply path.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/record"
	"github.com/rajulubheem/thrivix-sub003/store"
	"github.com/rajulubheem/thrivix-sub003/transport"
	"github.com/rajulubheem/thrivix-sub003/types"
	"github.com/rajulubheem/thrivix-sub003/wire"
)

// Engine ties decoder, reconciler and interpreter together. All store
// mutation happens on the goroutine running Run (or on the caller's
// goroutine when driving ProcessRaw directly in tests), never in parallel.
type Engine struct {
	store       *store.Store
	logger      *log.Logger
	collector   *metrics.Collector
	decoder     *wire.Decoder
	reconciler  *Reconciler
	interpreter *Interpreter

	recorder *record.Recorder

	// tasks carries scheduled work (edge-highlight clears) onto the
	// serialized apply path.
	tasks chan func()
	done  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder captures every raw frame to the recorder before decoding.
func WithRecorder(rec *record.Recorder) Option {
	return func(e *Engine) { e.recorder = rec }
}

// WithScheduler replaces the deferred-task scheduler. Tests use this to
// run highlight clears immediately or under manual control.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.interpreter.schedule = s }
}

// New creates an engine mutating the given store.
func New(st *store.Store, logger *log.Logger, collector *metrics.Collector, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		logger:    logger,
		collector: collector,
		decoder:   wire.NewDecoder(),
		tasks:     make(chan func(), 64),
		done:      make(chan struct{}),
	}
	e.reconciler = NewReconciler(st, logger, collector)
	e.interpreter = NewInterpreter(st, e.reconciler, logger, collector, e.scheduleTask)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// scheduleTask defers fn onto the apply loop after d. If the engine has
// already stopped the task is discarded; a highlight clear on a dead
// session has nothing left to animate.
func (e *Engine) scheduleTask(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case e.tasks <- fn:
		case <-e.done:
		}
	})
}

// Run opens the adapter with a full-history cursor and consumes it until
// its frame stream ends or ctx is cancelled. Frames are applied strictly
// in arrival order; scheduled tasks interleave between frames on the
// same goroutine.
//
// Returns the adapter's terminal error, if any. A transport failure also
// marks the session failed in the store; a clean end leaves the store
// exactly as the last frame shaped it, for inspection.
func (e *Engine) Run(ctx context.Context, adapter transport.Adapter) error {
	defer close(e.done)

	if err := adapter.Open(ctx, transport.CursorReplay); err != nil {
		e.store.SetStatus(types.SessionFailed, err.Error())
		return fmt.Errorf("transport open: %w", err)
	}
	defer adapter.Close()

	frames := adapter.Frames()
	status := adapter.Status()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case task := <-e.tasks:
			task()

		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			e.observeTransport(st)

		case data, ok := <-frames:
			if !ok {
				return e.finish(adapter)
			}
			e.ProcessRaw(data)
		}
	}
}

// observeTransport reflects transport state in the session status while
// the session is still connecting. Reconnect churn mid-run is a transport
// detail; it never regresses an active or terminal session status.
func (e *Engine) observeTransport(st transport.Status) {
	e.logger.Debug("transport status", map[string]any{"status": string(st)})
	if st == transport.StatusConnected && e.store.Status() == types.SessionConnecting {
		e.store.SetStatus(types.SessionActive, "")
	}
}

func (e *Engine) finish(adapter transport.Adapter) error {
	if err := adapter.Err(); err != nil {
		e.store.SetStatus(types.SessionFailed, err.Error())
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// ProcessRaw decodes and applies one raw frame. Malformed or unrecognized
// payloads are counted and dropped; a bad frame never stops the stream.
func (e *Engine) ProcessRaw(data []byte) {
	if e.recorder != nil {
		if err := e.recorder.Append(data); err != nil {
			e.logger.Warn("recording append failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	frame, err := e.decoder.Decode(data)
	if err != nil {
		e.collector.IncDecodeErrors()
		if wire.IsUnrecognizedShape(err) {
			e.logger.Debug("unrecognized frame shape dropped", map[string]any{
				"error": err.Error(),
			})
		} else {
			e.logger.Warn("frame decode failed", map[string]any{
				"error": err.Error(),
			})
		}
		return
	}
	e.ProcessFrame(frame)
}

// ProcessFrame applies one decoded frame.
func (e *Engine) ProcessFrame(frame any) {
	switch f := frame.(type) {
	case *types.TokenFrame:
		e.reconciler.ApplyToken(f)
	case *types.ControlFrame:
		e.interpreter.Apply(f)
	default:
		e.logger.Warn("unexpected frame kind dropped", map[string]any{
			"kind": fmt.Sprintf("%T", frame),
		})
	}
}
