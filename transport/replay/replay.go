// Package replay implements a transport adapter that plays back a
// recording file as if the frames were arriving live.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/record"
	"github.com/rajulubheem/thrivix-sub003/transport"
)

// Config configures the replay adapter.
type Config struct {
	// Path is the recording file to play back.
	Path string
	// Speed scales the recorded inter-frame gaps. 1 replays in real time,
	// 2 at double speed. Zero or negative replays as fast as possible.
	Speed float64
}

// Adapter plays a recording through the transport interface.
type Adapter struct {
	config    Config
	logger    *log.Logger
	collector *metrics.Collector

	frames chan []byte
	status chan transport.Status

	mu     sync.Mutex
	err    error
	header record.Header
	opened bool
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a replay adapter for a recording file. The recording header
// is read eagerly so the execution id is known before Open.
func New(cfg Config, logger *log.Logger, collector *metrics.Collector) (*Adapter, error) {
	reader, file, err := record.OpenFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	header := reader.Header()
	file.Close()

	return &Adapter{
		config:    cfg,
		logger:    logger,
		collector: collector,
		header:    header,
		frames:    make(chan []byte, 256),
		status:    make(chan transport.Status, 16),
		done:      make(chan struct{}),
	}, nil
}

// ExecutionID returns the execution id the recording captured.
func (a *Adapter) ExecutionID() string { return a.header.ExecutionID }

// Header returns the recording header.
func (a *Adapter) Header() record.Header { return a.header }

// Open starts playback. The cursor is ignored: a recording always replays
// from its beginning.
func (a *Adapter) Open(ctx context.Context, _ transport.Cursor) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return &transport.Error{Kind: transport.ErrorClosed, Msg: "adapter is closed"}
	}
	if a.opened {
		a.mu.Unlock()
		return fmt.Errorf("adapter already open for recording %s", a.header.RecordingID)
	}
	a.opened = true
	a.mu.Unlock()

	go a.run(ctx)
	return nil
}

// Frames returns the raw payload stream.
func (a *Adapter) Frames() <-chan []byte { return a.frames }

// Status returns connection status transitions.
func (a *Adapter) Status() <-chan transport.Status { return a.status }

// Err returns the terminal error after Frames closes.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close stops playback. Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.done)
	})
	return nil
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.frames)

	a.emitStatus(transport.StatusConnecting)

	reader, file, err := record.OpenFile(a.config.Path)
	if err != nil {
		a.fail(err)
		return
	}
	defer file.Close()

	a.emitStatus(transport.StatusConnected)

	var lastElapsed int64
	for {
		entry, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.emitStatus(transport.StatusDisconnected)
				return
			}
			if record.IsCorrupt(err) {
				a.fail(fmt.Errorf("recording %s: %w", a.header.RecordingID, err))
				return
			}
			// Undecodable entry: skip it, the stream itself is intact.
			a.logger.Warn("skipping undecodable recording entry", map[string]any{
				"recording_id": a.header.RecordingID,
				"error":        err.Error(),
			})
			continue
		}

		if a.config.Speed > 0 {
			gap := time.Duration(float64(entry.ElapsedMs-lastElapsed)/a.config.Speed) * time.Millisecond
			if gap > 0 && !a.sleep(ctx, gap) {
				return
			}
		}
		lastElapsed = entry.ElapsedMs

		a.collector.IncFramesReceived()
		select {
		case a.frames <- entry.Payload:
		case <-a.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.emitStatus(transport.StatusError)
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-a.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) emitStatus(s transport.Status) {
	select {
	case a.status <- s:
	default:
	}
}

// Verify Adapter implements the transport interface.
var _ transport.Adapter = (*Adapter)(nil)
