package replay

import (
	"context"
	"testing"
	"time"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/record"
	"github.com/rajulubheem/thrivix-sub003/transport"
)

func writeRecording(t *testing.T, payloads ...string) (string, *record.Recorder) {
	t.Helper()
	rec, err := record.NewRecorder(t.TempDir(), "exec-42", "ws")
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for _, p := range payloads {
		if err := rec.Append([]byte(p)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return rec.Path(), rec
}

func TestAdapter_PlaysBackAllFrames(t *testing.T) {
	path, _ := writeRecording(t,
		`{"frame_type":"token","seq":1}`,
		`{"frame_type":"token","seq":2}`,
		`{"frame_type":"control","type":"session_end"}`,
	)

	a, err := New(Config{Path: path}, log.NewLogger("exec-42"), metrics.NewCollector("exec-42", "replay"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.ExecutionID() != "exec-42" {
		t.Errorf("ExecutionID = %s", a.ExecutionID())
	}
	if err := a.Open(context.Background(), transport.CursorReplay); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var got []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-a.Frames():
			if !ok {
				if len(got) != 3 {
					t.Fatalf("got %d frames, want 3: %v", len(got), got)
				}
				if a.Err() != nil {
					t.Fatalf("unexpected error: %v", a.Err())
				}
				return
			}
			got = append(got, string(frame))
		case <-timeout:
			t.Fatal("timed out")
		}
	}
}

func TestNew_MissingFileFails(t *testing.T) {
	if _, err := New(Config{Path: "/nonexistent/rec.thrv"}, log.NewLogger(""), nil); err == nil {
		t.Fatal("expected error for missing recording")
	}
}

func TestAdapter_CloseStopsPlayback(t *testing.T) {
	path, _ := writeRecording(t, `{"seq":1}`, `{"seq":2}`)

	a, err := New(Config{Path: path, Speed: 0.000001}, log.NewLogger("exec-42"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Open(context.Background(), transport.CursorReplay); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-a.Frames():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("frames channel not closed after Close")
		}
	}
}
