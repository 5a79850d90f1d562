package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice client
type Config struct {
	// Local HTTP server for health and metrics endpoints
	Port string `envconfig:"PORT" default:"8090"`

	// Voice backend endpoints
	BackendWSURL   string `envconfig:"BACKEND_WS_URL" required:"true"` // e.g. ws://localhost:5000/voice
	BackendHTTPURL string `envconfig:"BACKEND_HTTP_URL" default:""`    // REST base URL; derived from BACKEND_WS_URL if unset

	// Connection behavior
	ConnectTimeout       int `envconfig:"CONNECT_TIMEOUT" default:"10000"`    // Dial timeout in milliseconds
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"` // Maximum reconnection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`   // Initial reconnection backoff in milliseconds
	WriteTimeout         int `envconfig:"WRITE_TIMEOUT" default:"10000"`      // WebSocket write timeout in milliseconds

	// Recording behavior
	ChunkInterval  int `envconfig:"CHUNK_INTERVAL" default:"300"`   // Capture chunk emission interval in milliseconds
	StopGraceDelay int `envconfig:"STOP_GRACE_DELAY" default:"100"` // Delay before stop_voice is signaled, milliseconds
	CaptureBuffer  int `envconfig:"CAPTURE_BUFFER" default:"65536"` // Capture staging ring buffer size in bytes

	// REST model client resilience
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Audio device wiring for the headless binary
	CaptureSource string `envconfig:"CAPTURE_SOURCE" default:""`         // File streamed as microphone input
	OutputDir     string `envconfig:"OUTPUT_DIR" default:"voice-output"` // Directory for rendered utterances

	// Settings persistence
	SettingsPath string `envconfig:"SETTINGS_PATH" default:"voice-settings.json"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.BackendWSURL == "" {
		return nil, fmt.Errorf("BACKEND_WS_URL is required")
	}
	if !strings.HasPrefix(cfg.BackendWSURL, "ws://") && !strings.HasPrefix(cfg.BackendWSURL, "wss://") {
		return nil, fmt.Errorf("BACKEND_WS_URL must use ws:// or wss:// scheme, got %q", cfg.BackendWSURL)
	}

	if cfg.BackendHTTPURL == "" {
		cfg.BackendHTTPURL = deriveHTTPURL(cfg.BackendWSURL)
	}

	return &cfg, nil
}

// deriveHTTPURL maps a ws(s):// endpoint to its http(s):// origin,
// dropping any path component
func deriveHTTPURL(wsURL string) string {
	scheme := "http://"
	host := strings.TrimPrefix(wsURL, "ws://")
	if strings.HasPrefix(wsURL, "wss://") {
		scheme = "https://"
		host = strings.TrimPrefix(wsURL, "wss://")
	}
	if slash := strings.Index(host, "/"); slash >= 0 {
		host = host[:slash]
	}
	return scheme + host
}

// ConnectTimeoutDuration returns the dial timeout as a time.Duration
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Millisecond
}

// WriteTimeoutDuration returns the WebSocket write timeout as a time.Duration
func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Millisecond
}

// ChunkIntervalDuration returns the chunk emission interval as a time.Duration
func (c *Config) ChunkIntervalDuration() time.Duration {
	return time.Duration(c.ChunkInterval) * time.Millisecond
}

// StopGraceDelayDuration returns the stop grace delay as a time.Duration
func (c *Config) StopGraceDelayDuration() time.Duration {
	return time.Duration(c.StopGraceDelay) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
