package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rajulubheem/thrivix-sub003/log"
	"github.com/rajulubheem/thrivix-sub003/metrics"
	"github.com/rajulubheem/thrivix-sub003/transport"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		BaseURL:        wsURL(srv),
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func recvFrame(t *testing.T, a *Adapter) []byte {
	t.Helper()
	select {
	case frame, ok := <-a.Frames():
		if !ok {
			t.Fatal("frames channel closed early")
		}
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func TestAdapter_DeliversFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"frame_type":"token","seq":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"frame_type":"token","seq":2}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	a := New("exec-1", testConfig(srv), log.NewLogger("exec-1"), metrics.NewCollector("exec-1", "ws"))
	if err := a.Open(context.Background(), transport.CursorReplay); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	first := recvFrame(t, a)
	if !strings.Contains(string(first), `"seq":1`) {
		t.Errorf("unexpected first frame: %s", first)
	}
	second := recvFrame(t, a)
	if !strings.Contains(string(second), `"seq":2`) {
		t.Errorf("unexpected second frame: %s", second)
	}
}

func TestAdapter_ReconnectRequestsLiveCursor(t *testing.T) {
	var mu sync.Mutex
	var cursors []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		cursors = append(cursors, r.URL.Query().Get("start_from"))
		dial := len(cursors)
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if dial == 1 {
			// Drop the first connection to force a reconnect.
			conn.WriteMessage(websocket.TextMessage, []byte(`{"dial":1}`))
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"dial":2}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	collector := metrics.NewCollector("exec-1", "ws")
	a := New("exec-1", testConfig(srv), log.NewLogger("exec-1"), collector)
	if err := a.Open(context.Background(), transport.CursorReplay); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	recvFrame(t, a)
	recvFrame(t, a)

	mu.Lock()
	defer mu.Unlock()
	if len(cursors) < 2 {
		t.Fatalf("expected at least 2 dials, got %d", len(cursors))
	}
	if cursors[0] != string(transport.CursorReplay) {
		t.Errorf("first dial cursor = %q, want %q", cursors[0], transport.CursorReplay)
	}
	if cursors[1] != string(transport.CursorLive) {
		t.Errorf("reconnect cursor = %q, want %q", cursors[1], transport.CursorLive)
	}
	if collector.Snapshot().Reconnects < 1 {
		t.Error("expected reconnect to be counted")
	}
}

func TestAdapter_CloseCancelsPendingReconnect(t *testing.T) {
	// No server: every dial fails and the adapter sits in its backoff wait.
	cfg := Config{
		BaseURL:        "ws://127.0.0.1:1",
		ReconnectDelay: time.Hour,
	}
	a := New("exec-1", cfg, log.NewLogger("exec-1"), nil)
	if err := a.Open(context.Background(), transport.CursorReplay); err != nil {
		t.Fatalf("Open: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-a.Frames():
		if ok {
			t.Fatal("unexpected frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after Close")
	}
}

func TestAdapter_OpenAfterCloseFails(t *testing.T) {
	a := New("exec-1", Config{BaseURL: "ws://127.0.0.1:1"}, log.NewLogger("exec-1"), nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := a.Open(context.Background(), transport.CursorReplay)
	if err == nil {
		t.Fatal("expected error opening a closed adapter")
	}
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.Kind != transport.ErrorClosed {
		t.Fatalf("expected closed-adapter error, got %v", err)
	}
}
