package config

import (
	"fmt"
	"time"
)

// Config represents a thrivix.yaml configuration file.
// All values are optional and act as defaults for thrivix flags.
// CLI flags always override config values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Record    RecordConfig    `yaml:"record"`
	Adapter   AdapterConfig   `yaml:"adapter"`
}

// ServerConfig holds backend endpoint defaults from the config file.
type ServerConfig struct {
	// URL is the HTTP base, e.g. http://localhost:8000.
	URL string `yaml:"url"`
	// WSURL is the WebSocket base. Derived from URL when empty.
	WSURL string `yaml:"ws_url"`
	// Headers are custom HTTP headers added to control requests.
	Headers map[string]string `yaml:"headers,omitempty"`
	// Timeout is the control-request timeout.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// TransportConfig holds frame-delivery defaults from the config file.
type TransportConfig struct {
	// Kind selects the adapter: ws or poll.
	Kind string `yaml:"kind"`
	// ReconnectDelay is the fixed WebSocket reconnect backoff.
	ReconnectDelay Duration `yaml:"reconnect_delay,omitempty"`
	// PollTimeout is the per-request long-poll bound.
	PollTimeout Duration `yaml:"poll_timeout,omitempty"`
	// PollBudget caps the total poll wall-clock time.
	PollBudget Duration `yaml:"poll_budget,omitempty"`
	// PollRetries is the consecutive-error retry budget.
	PollRetries *int `yaml:"poll_retries,omitempty"`
}

// RecordConfig holds session recording defaults from the config file.
type RecordConfig struct {
	// Enabled turns frame capture on for live sessions.
	Enabled bool `yaml:"enabled"`
	// Dir is where recording files are written.
	Dir string `yaml:"dir"`
	// Archive configures S3 upload of finished recordings.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig holds S3 archive settings for finished recordings.
type ArchiveConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// AdapterConfig holds completion-notification defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
