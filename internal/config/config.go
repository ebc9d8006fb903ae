package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Corners accepted for INDICATOR_CORNER.
var validCorners = []string{"top-left", "top-right", "bottom-left", "bottom-right"}

type Config struct {
	// Server configuration
	Host        string
	WSPort      string
	LogLevel    string
	Environment string

	// Database configuration
	DatabasePath string

	// Upstream connection
	UpstreamURL          string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HandshakeTimeout     time.Duration

	// Timeouts
	ShutdownTimeout time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration

	// Limits and buffer sizes
	MaxConnections int
	MaxMessageSize int64
	BufferSize     int

	// Presentation
	SequenceStep    time.Duration
	IndicatorCorner string
}

// Load reads .env, then the optional YAML file at path (or webdesk.yaml in
// the working directory when path is empty), then the environment.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("webdesk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Host:                 v.GetString("host"),
		WSPort:               v.GetString("ws_port"),
		LogLevel:             v.GetString("log_level"),
		Environment:          v.GetString("env"),
		DatabasePath:         v.GetString("database_path"),
		UpstreamURL:          v.GetString("upstream_url"),
		MaxReconnectAttempts: v.GetInt("max_reconnect_attempts"),
		ReconnectBaseDelay:   v.GetDuration("reconnect_base_delay"),
		ReconnectMaxDelay:    v.GetDuration("reconnect_max_delay"),
		HandshakeTimeout:     v.GetDuration("handshake_timeout"),
		ShutdownTimeout:      v.GetDuration("shutdown_timeout"),
		WriteTimeout:         v.GetDuration("write_timeout"),
		ReadTimeout:          v.GetDuration("read_timeout"),
		PingInterval:         v.GetDuration("ping_interval"),
		PongWait:             v.GetDuration("pong_wait"),
		MaxConnections:       v.GetInt("max_connections"),
		MaxMessageSize:       v.GetInt64("max_message_size"),
		BufferSize:           v.GetInt("buffer_size"),
		SequenceStep:         v.GetDuration("sequence_step"),
		IndicatorCorner:      strings.ToLower(v.GetString("indicator_corner")),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("ws_port", ":8080")
	// Empty defers to the per-environment level.
	v.SetDefault("log_level", "")
	v.SetDefault("env", "development")
	v.SetDefault("database_path", "webdesk.db")
	v.SetDefault("upstream_url", "ws://localhost:9090/events")
	v.SetDefault("max_reconnect_attempts", 10)
	v.SetDefault("reconnect_base_delay", time.Second)
	v.SetDefault("reconnect_max_delay", 30*time.Second)
	v.SetDefault("handshake_timeout", 10*time.Second)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("read_timeout", 10*time.Second)
	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("pong_wait", 60*time.Second)
	v.SetDefault("max_connections", 1000)
	v.SetDefault("max_message_size", 512*1024) // 512KB default
	v.SetDefault("buffer_size", 256)
	v.SetDefault("sequence_step", 500*time.Millisecond)
	v.SetDefault("indicator_corner", "bottom-right")
}

func (c *Config) validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL must be set")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be positive, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be positive")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must not be below RECONNECT_BASE_DELAY")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("BUFFER_SIZE must be positive, got %d", c.BufferSize)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("READ_TIMEOUT must be positive")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be positive")
	}
	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("PONG_WAIT must exceed PING_INTERVAL")
	}
	if c.SequenceStep < 0 {
		return fmt.Errorf("SEQUENCE_STEP must not be negative")
	}
	for _, corner := range validCorners {
		if c.IndicatorCorner == corner {
			return nil
		}
	}
	return fmt.Errorf("INDICATOR_CORNER must be one of %s, got %q", strings.Join(validCorners, ", "), c.IndicatorCorner)
}
