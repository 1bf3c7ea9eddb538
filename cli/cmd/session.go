package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rajulubheem/thrivix-sub003/adapter"
	redisadapter "github.com/rajulubheem/thrivix-sub003/adapter/redis"
	"github.com/rajulubheem/thrivix-sub003/adapter/webhook"
	"github.com/rajulubheem/thrivix-sub003/cli/config"
	"github.com/rajulubheem/thrivix-sub003/cli/tui"
	"github.com/rajulubheem/thrivix-sub003/client"
	"github.com/rajulubheem/thrivix-sub003/engine"
	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/record"
	"github.com/rajulubheem/thrivix-sub003/store"
	"github.com/rajulubheem/thrivix-sub003/transport"
	"github.com/rajulubheem/thrivix-sub003/transport/poll"
	"github.com/rajulubheem/thrivix-sub003/transport/ws"
	"github.com/rajulubheem/thrivix-sub003/types"
)

// Exit codes for session commands.
const (
	exitSuccess        = 0
	exitSessionFailed  = 1
	exitTransportError = 2
)

// DefaultServerURL is used when neither flag nor config names a backend.
const DefaultServerURL = "http://localhost:8000"

// DefaultRecordDir is where recordings land when the config names no dir.
const DefaultRecordDir = "recordings"

// publishTimeout bounds post-session work (archive upload, event publish)
// so a hung endpoint cannot wedge the CLI after the stream ends.
const publishTimeout = 30 * time.Second

// sessionChoice holds resolved session configuration: config file values
// overridden by CLI flags.
type sessionChoice struct {
	serverURL string
	wsURL     string
	headers   map[string]string
	timeout   time.Duration

	transport      string
	reconnectDelay time.Duration
	pollTimeout    time.Duration
	pollBudget     time.Duration
	pollRetries    int

	record    bool
	recordDir string
	archive   config.ArchiveConfig

	adapter config.AdapterConfig

	watch bool
	quiet bool
}

// resolveSession merges the config file (if any) with CLI flags.
// Flags win over config values, config values over defaults.
func resolveSession(c *cli.Context) (*sessionChoice, error) {
	choice := &sessionChoice{
		serverURL: DefaultServerURL,
		transport: "ws",
		recordDir: DefaultRecordDir,
	}

	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		applyConfig(choice, cfg)
	}

	if url := c.String("server"); url != "" {
		choice.serverURL = url
		choice.wsURL = ""
	}
	if kind := c.String("transport"); kind != "" {
		choice.transport = kind
	}
	if c.Bool("record") {
		choice.record = true
	}
	choice.watch = c.Bool("watch")
	choice.quiet = c.Bool("quiet")

	switch choice.transport {
	case "ws", "poll":
	default:
		return nil, fmt.Errorf("invalid transport %q (must be ws or poll)", choice.transport)
	}

	if choice.wsURL == "" {
		choice.wsURL = deriveWSURL(choice.serverURL)
	}

	return choice, nil
}

func applyConfig(choice *sessionChoice, cfg *config.Config) {
	if cfg.Server.URL != "" {
		choice.serverURL = cfg.Server.URL
	}
	choice.wsURL = cfg.Server.WSURL
	choice.headers = cfg.Server.Headers
	choice.timeout = cfg.Server.Timeout.Duration

	if cfg.Transport.Kind != "" {
		choice.transport = cfg.Transport.Kind
	}
	choice.reconnectDelay = cfg.Transport.ReconnectDelay.Duration
	choice.pollTimeout = cfg.Transport.PollTimeout.Duration
	choice.pollBudget = cfg.Transport.PollBudget.Duration
	if cfg.Transport.PollRetries != nil {
		choice.pollRetries = *cfg.Transport.PollRetries
	}

	choice.record = cfg.Record.Enabled
	if cfg.Record.Dir != "" {
		choice.recordDir = cfg.Record.Dir
	}
	choice.archive = cfg.Record.Archive

	choice.adapter = cfg.Adapter
}

// deriveWSURL maps an HTTP base URL to its WebSocket counterpart.
func deriveWSURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}

// newClient builds the backend control client from the resolved choice.
func newClient(choice *sessionChoice, logger *log.Logger) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: choice.serverURL,
		Headers: choice.headers,
		Timeout: choice.timeout,
	}, logger)
}

// buildTransport creates the configured frame transport for one execution.
func buildTransport(choice *sessionChoice, executionID string, logger *log.Logger, collector *metrics.Collector) transport.Adapter {
	if choice.transport == "poll" {
		return poll.New(executionID, poll.Config{
			BaseURL:        choice.serverURL,
			RequestTimeout: choice.pollTimeout,
			MaxDuration:    choice.pollBudget,
			MaxRetries:     choice.pollRetries,
		}, logger, collector)
	}
	return ws.New(executionID, ws.Config{
		BaseURL:        choice.wsURL,
		ReconnectDelay: choice.reconnectDelay,
	}, logger, collector)
}

// session bundles the per-execution state a streaming command drives.
type session struct {
	choice    *sessionChoice
	st        *store.Store
	logger    *log.Logger
	collector *metrics.Collector
}

func newSession(choice *sessionChoice, executionID, transportName string) *session {
	return &session{
		choice:    choice,
		st:        store.New(executionID),
		logger:    log.NewLogger(executionID),
		collector: metrics.NewCollector(executionID, transportName),
	}
}

// run drives the engine over the given transport until the session ends.
// It handles signals, optional recording and the live view, then runs the
// post-session steps (archive, completion event, summary) and maps the
// outcome to an exit code.
func (s *session) run(ctx context.Context, tr transport.Adapter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var opts []engine.Option
	var rec *record.Recorder
	if s.choice.record {
		r, err := record.NewRecorder(s.choice.recordDir, s.st.Snapshot().ExecutionID, s.choice.transport)
		if err != nil {
			return fmt.Errorf("cannot create recording: %w", err)
		}
		rec = r
		opts = append(opts, engine.WithRecorder(rec))
	}

	eng := engine.New(s.st, s.logger, s.collector, opts...)
	start := time.Now()

	var runErr error
	if s.choice.watch {
		errCh := make(chan error, 1)
		engineDone := make(chan struct{})
		go func() {
			errCh <- eng.Run(ctx, tr)
			close(engineDone)
		}()
		if err := tui.RunWatch(s.st, s.collector, engineDone); err != nil {
			s.logger.Warn("live view failed", map[string]any{"error": err.Error()})
		}
		runErr = <-errCh
	} else {
		runErr = eng.Run(ctx, tr)
	}
	duration := time.Since(start)

	recordingID := ""
	if rec != nil {
		recordingID = rec.RecordingID()
		if err := rec.Close(); err != nil {
			s.logger.Warn("recording close failed", map[string]any{"error": err.Error()})
		} else if s.choice.archive.Bucket != "" {
			s.archiveRecording(rec)
		}
	}

	s.publishCompletion(recordingID, duration)

	snap := s.st.Snapshot()
	if !s.choice.quiet {
		printSummary(snap, s.collector.Snapshot(), rec, duration)
	}

	if runErr != nil {
		if transport.IsRetriesExhausted(runErr) || transport.IsBudgetExceeded(runErr) {
			return cli.Exit(fmt.Sprintf("transport gave up: %v", runErr), exitTransportError)
		}
		return cli.Exit(fmt.Sprintf("session failed: %v", runErr), exitSessionFailed)
	}
	if snap.Status == types.SessionFailed {
		return cli.Exit(fmt.Sprintf("session failed: %s", snap.StatusReason), exitSessionFailed)
	}
	return nil
}

// archiveRecording uploads the finished recording to S3. Failures are
// logged, not fatal: the local file survives for a manual retry.
func (s *session) archiveRecording(rec *record.Recorder) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	arch, err := record.NewArchiver(ctx, record.S3Config{
		Bucket:       s.choice.archive.Bucket,
		Prefix:       s.choice.archive.Prefix,
		Region:       s.choice.archive.Region,
		Endpoint:     s.choice.archive.Endpoint,
		UsePathStyle: s.choice.archive.S3PathStyle,
	})
	if err != nil {
		s.logger.Warn("archive setup failed", map[string]any{"error": err.Error()})
		return
	}
	if err := arch.Upload(ctx, rec); err != nil {
		s.logger.Warn("archive upload failed", map[string]any{
			"error": err.Error(),
			"path":  rec.Path(),
		})
		return
	}
	s.logger.Info("recording archived", map[string]any{
		"bucket": s.choice.archive.Bucket,
		"path":   rec.Path(),
	})
}

// publishCompletion emits the session-completed event to the configured
// adapter, if any. Failures are logged, not fatal.
func (s *session) publishCompletion(recordingID string, duration time.Duration) {
	pub, err := buildAdapter(s.choice.adapter)
	if err != nil {
		s.logger.Warn("adapter setup failed", map[string]any{"error": err.Error()})
		return
	}
	if pub == nil {
		return
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	event := adapter.NewEvent(s.st.Snapshot(), s.collector.Snapshot(), recordingID, duration)
	if err := pub.Publish(ctx, event); err != nil {
		s.logger.Warn("completion publish failed", map[string]any{
			"error": err.Error(),
			"type":  s.choice.adapter.Type,
		})
		return
	}
	s.logger.Info("completion published", map[string]any{"type": s.choice.adapter.Type})
}

// buildAdapter creates the configured completion adapter, or nil when no
// adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := 0
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be redis or webhook)", cfg.Type)
	}
}

func printSummary(snap store.Snapshot, ms metrics.Snapshot, rec *record.Recorder, duration time.Duration) {
	fmt.Printf("\nexecution_id=%s, status=%s, duration=%s\n",
		snap.ExecutionID,
		snap.Status,
		duration.Round(time.Millisecond),
	)
	if snap.StatusReason != "" {
		fmt.Printf("reason=%s\n", snap.StatusReason)
	}

	fmt.Printf("\n=== Agents ===\n")
	if len(snap.Agents) == 0 {
		fmt.Printf("(none)\n")
	}
	for _, a := range snap.Agents {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		fmt.Printf("%-20s %-10s tokens~%d", name, a.Status, a.TokensEstimate)
		if a.Error != "" {
			fmt.Printf("  error: %s", a.Error)
		}
		fmt.Printf("\n")
	}

	fmt.Printf("\n=== Stream ===\n")
	fmt.Printf("Frames Received:  %d\n", ms.FramesReceived)
	fmt.Printf("Tokens Accepted:  %d\n", ms.TokensAccepted)
	fmt.Printf("Duplicates:       %d\n", ms.DuplicateTokens)
	fmt.Printf("Stale Dropped:    %d\n", ms.StaleTokens)
	fmt.Printf("Decode Errors:    %d\n", ms.DecodeErrors)
	fmt.Printf("Control Applied:  %d\n", ms.ControlApplied)
	fmt.Printf("Reconnects:       %d\n", ms.Reconnects)

	if rec != nil {
		fmt.Printf("\n=== Recording ===\n")
		fmt.Printf("ID:   %s\n", rec.RecordingID())
		fmt.Printf("Path: %s\n", rec.Path())
	}
}
