package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/rajulubheem/thrivix-sub003/cli/config"
)

// resolveFromArgs runs resolveSession through a throwaway cli app so flag
// parsing behaves exactly as in production.
func resolveFromArgs(t *testing.T, args ...string) (*sessionChoice, error) {
	t.Helper()

	var choice *sessionChoice
	var resolveErr error
	app := &cli.App{
		Flags: SessionFlags(),
		Action: func(c *cli.Context) error {
			choice, resolveErr = resolveSession(c)
			return nil
		},
	}
	if err := app.Run(append([]string{"thrivix"}, args...)); err != nil {
		t.Fatalf("app.Run failed: %v", err)
	}
	return choice, resolveErr
}

func TestResolveSession_Defaults(t *testing.T) {
	choice, err := resolveFromArgs(t)
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}

	if choice.serverURL != DefaultServerURL {
		t.Errorf("serverURL = %q, want %q", choice.serverURL, DefaultServerURL)
	}
	if choice.transport != "ws" {
		t.Errorf("transport = %q, want ws", choice.transport)
	}
	if choice.wsURL != "ws://localhost:8000" {
		t.Errorf("wsURL = %q, want ws://localhost:8000", choice.wsURL)
	}
	if choice.recordDir != DefaultRecordDir {
		t.Errorf("recordDir = %q, want %q", choice.recordDir, DefaultRecordDir)
	}
	if choice.record {
		t.Error("record enabled by default")
	}
}

func TestResolveSession_FlagsOverride(t *testing.T) {
	choice, err := resolveFromArgs(t,
		"--server", "https://agents.example.com",
		"--transport", "poll",
		"--record",
		"--quiet",
	)
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}

	if choice.serverURL != "https://agents.example.com" {
		t.Errorf("serverURL = %q", choice.serverURL)
	}
	if choice.wsURL != "wss://agents.example.com" {
		t.Errorf("wsURL = %q, want wss derivation", choice.wsURL)
	}
	if choice.transport != "poll" {
		t.Errorf("transport = %q, want poll", choice.transport)
	}
	if !choice.record {
		t.Error("record flag not applied")
	}
	if !choice.quiet {
		t.Error("quiet flag not applied")
	}
}

func TestResolveSession_InvalidTransport(t *testing.T) {
	_, err := resolveFromArgs(t, "--transport", "carrier-pigeon")
	if err == nil {
		t.Fatal("expected error for invalid transport")
	}
	if !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("error should name the transport: %v", err)
	}
}

func TestResolveSession_ConfigFileWithFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thrivix.yaml")
	content := `server:
  url: http://config-host:9000
  ws_url: ws://config-host:9001
transport:
  kind: poll
record:
  enabled: true
  dir: /var/thrivix/recordings
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	choice, err := resolveFromArgs(t, "--config", path, "--transport", "ws")
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}

	if choice.serverURL != "http://config-host:9000" {
		t.Errorf("serverURL = %q, want config value", choice.serverURL)
	}
	if choice.wsURL != "ws://config-host:9001" {
		t.Errorf("wsURL = %q, want explicit config value", choice.wsURL)
	}
	// Flag wins over config.
	if choice.transport != "ws" {
		t.Errorf("transport = %q, want flag override ws", choice.transport)
	}
	if !choice.record {
		t.Error("record not enabled from config")
	}
	if choice.recordDir != "/var/thrivix/recordings" {
		t.Errorf("recordDir = %q", choice.recordDir)
	}
}

func TestResolveSession_ServerFlagRederivesWSURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thrivix.yaml")
	content := `server:
  url: http://config-host:9000
  ws_url: ws://config-host:9001
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	choice, err := resolveFromArgs(t, "--config", path, "--server", "http://other-host:8000")
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}

	// The config ws_url belongs to the config server; overriding the
	// server drops it and derives a fresh ws URL.
	if choice.wsURL != "ws://other-host:8000" {
		t.Errorf("wsURL = %q, want ws://other-host:8000", choice.wsURL)
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000"},
		{"https://agents.example.com", "wss://agents.example.com"},
		{"ws://already-ws:8000", "ws://already-ws:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := deriveWSURL(tt.in); got != tt.want {
				t.Errorf("deriveWSURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildAdapter(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		pub, err := buildAdapter(config.AdapterConfig{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pub != nil {
			t.Error("expected nil adapter when type is empty")
		}
	})

	t.Run("webhook", func(t *testing.T) {
		pub, err := buildAdapter(config.AdapterConfig{
			Type: "webhook",
			URL:  "http://hooks.example.com/done",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pub == nil {
			t.Fatal("expected webhook adapter")
		}
		pub.Close()
	})

	t.Run("redis", func(t *testing.T) {
		pub, err := buildAdapter(config.AdapterConfig{
			Type: "redis",
			URL:  "redis://localhost:6379",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pub == nil {
			t.Fatal("expected redis adapter")
		}
		pub.Close()
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := buildAdapter(config.AdapterConfig{Type: "smoke-signals"})
		if err == nil {
			t.Fatal("expected error for unknown adapter type")
		}
	})
}

func TestVersionCommand_NeverRequiresServer(t *testing.T) {
	app := &cli.App{
		Commands: []*cli.Command{VersionCommand("abc1234")},
	}
	if err := app.Run([]string{"thrivix", "version"}); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
}
