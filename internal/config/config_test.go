package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}

	if cfg.WSPort != ":8080" {
		t.Errorf("WSPort = %q, expected :8080", cfg.WSPort)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d, expected 10", cfg.MaxReconnectAttempts)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, expected 30s", cfg.PingInterval)
	}
	if cfg.IndicatorCorner != "bottom-right" {
		t.Errorf("IndicatorCorner = %q, expected bottom-right", cfg.IndicatorCorner)
	}
	if cfg.LogLevel != "" {
		t.Errorf("LogLevel = %q, expected empty so the environment picks the level", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WS_PORT", ":9999")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("UPSTREAM_URL", "ws://upstream.test/feed")
	t.Setenv("INDICATOR_CORNER", "TOP-LEFT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}

	if cfg.WSPort != ":9999" {
		t.Errorf("WSPort = %q, expected :9999", cfg.WSPort)
	}
	if cfg.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, expected 3", cfg.MaxReconnectAttempts)
	}
	if cfg.ReconnectBaseDelay != 250*time.Millisecond {
		t.Errorf("ReconnectBaseDelay = %v, expected 250ms", cfg.ReconnectBaseDelay)
	}
	if cfg.UpstreamURL != "ws://upstream.test/feed" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if cfg.IndicatorCorner != "top-left" {
		t.Errorf("IndicatorCorner = %q, expected top-left", cfg.IndicatorCorner)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webdesk.yaml")
	body := "upstream_url: ws://from-file/events\nbuffer_size: 64\nsequence_step: 1s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.UpstreamURL != "ws://from-file/events" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if cfg.BufferSize != 64 {
		t.Errorf("BufferSize = %d, expected 64", cfg.BufferSize)
	}
	if cfg.SequenceStep != time.Second {
		t.Errorf("SequenceStep = %v, expected 1s", cfg.SequenceStep)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			UpstreamURL:          "ws://x",
			MaxReconnectAttempts: 10,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			HandshakeTimeout:     time.Second,
			ShutdownTimeout:      time.Second,
			WriteTimeout:         time.Second,
			ReadTimeout:          time.Second,
			PingInterval:         time.Second,
			PongWait:             2 * time.Second,
			MaxConnections:       1,
			MaxMessageSize:       1,
			BufferSize:           1,
			IndicatorCorner:      "top-right",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty upstream", func(c *Config) { c.UpstreamURL = "" }, "UPSTREAM_URL"},
		{"zero attempts", func(c *Config) { c.MaxReconnectAttempts = 0 }, "MAX_RECONNECT_ATTEMPTS"},
		{"max below base", func(c *Config) { c.ReconnectMaxDelay = time.Millisecond }, "RECONNECT_MAX_DELAY"},
		{"pong not above ping", func(c *Config) { c.PongWait = c.PingInterval }, "PONG_WAIT"},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }, "BUFFER_SIZE"},
		{"bad corner", func(c *Config) { c.IndicatorCorner = "middle" }, "INDICATOR_CORNER"},
	}

	for _, tt := range tests {
		cfg := base()
		tt.mutate(&cfg)
		err := cfg.validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}
