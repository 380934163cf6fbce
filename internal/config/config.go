// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Model transports.
const (
	TransportBedrock = "bedrock"
	TransportRelay   = "relay"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string
	FrontendURL     string
	DBPath          string
	Debug           bool
	ShutdownTimeout time.Duration
	LaneQueueSize   int
	Model           ModelConfig
}

// ModelConfig selects and tunes the remote models.
type ModelConfig struct {
	Transport       string
	Region          string
	StreamModelID   string
	RelayURL        string
	FallbackModelID string
	MaxTokens       int
	TopP            float64
	Temperature     float64
	OpenTimeout     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	region := getEnv("AWS_REGION", "")
	if region == "" {
		region = getEnv("AWS_DEFAULT_REGION", "us-east-1")
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", ""),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/trainer.db"),
		Debug:           getEnvBool("DEBUG", false),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LaneQueueSize:   getEnvInt("LANE_QUEUE_SIZE", 64),
		Model: ModelConfig{
			Transport:       strings.ToLower(getEnv("MODEL_TRANSPORT", TransportBedrock)),
			Region:          region,
			StreamModelID:   getEnv("MODEL_ID", "amazon.nova-sonic-v1:0"),
			RelayURL:        getEnv("MODEL_RELAY_URL", ""),
			FallbackModelID: getEnv("FALLBACK_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0"),
			MaxTokens:       getEnvInt("MAX_TOKENS", 1024),
			TopP:            getEnvFloat("TOP_P", 0.9),
			Temperature:     getEnvFloat("TEMPERATURE", 0.7),
			OpenTimeout:     getEnvDuration("STREAM_OPEN_TIMEOUT", 15*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LaneQueueSize <= 0 {
		return fmt.Errorf("LANE_QUEUE_SIZE must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}

	m := c.Model
	switch m.Transport {
	case TransportBedrock:
		if m.Region == "" {
			return fmt.Errorf("AWS_REGION cannot be empty")
		}
	case TransportRelay:
		u, err := url.Parse(m.RelayURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("MODEL_RELAY_URL must be a ws:// or wss:// URL")
		}
	default:
		return fmt.Errorf("MODEL_TRANSPORT must be %q or %q, got %q", TransportBedrock, TransportRelay, m.Transport)
	}
	if m.MaxTokens <= 0 {
		return fmt.Errorf("MAX_TOKENS must be > 0")
	}
	if m.TopP <= 0 || m.TopP > 1 {
		return fmt.Errorf("TOP_P must be in (0, 1]")
	}
	if m.Temperature < 0 || m.Temperature > 1 {
		return fmt.Errorf("TEMPERATURE must be in [0, 1]")
	}
	if m.OpenTimeout <= 0 {
		return fmt.Errorf("STREAM_OPEN_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// HasAWSCredentials reports whether static credentials are present in the
// environment. Other credential sources are only discovered by a probe.
func HasAWSCredentials() bool {
	return os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("15s") or bare seconds ("15").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
