// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	// LessonDir overrides the built-in lesson documents when set.
	LessonDir string

	Endpoints EndpointConfig
	Machine   MachineConfig
	Persona   PersonaConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	SSE       SSEConfig

	// OTelStdout exports traces to stdout.
	OTelStdout bool
}

// EndpointConfig holds the external collaborators' URLs.
type EndpointConfig struct {
	ChatURL      string
	PersonaURL   string
	CollectorURL string // empty disables the collector
}

// MachineConfig holds state machine timing.
type MachineConfig struct {
	ResumeDelay    time.Duration
	AckDelay       time.Duration
	PersistTimeout time.Duration
	TurnTimeout    time.Duration
}

// PersonaConfig controls synthetic-student generation.
type PersonaConfig struct {
	BatchSize      int
	WindowSize     int
	RequestTimeout time.Duration
	MaxAttempts    int
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	IdleTTL      time.Duration
	SweepEvery   time.Duration
	ResumeMaxAge time.Duration
}

// RateLimitConfig bounds tutor turns per device.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the snapshot stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/synthtutor.db"),
		LessonDir:   getEnv("LESSON_DIR", ""),
		Endpoints: EndpointConfig{
			ChatURL:      getEnv("CHAT_URL", "http://localhost:8000/chat"),
			PersonaURL:   getEnv("PERSONA_URL", "http://localhost:8000/persona"),
			CollectorURL: getEnv("COLLECTOR_URL", ""),
		},
		Machine: MachineConfig{
			ResumeDelay:    getEnvDuration("RESUME_DELAY", 100*time.Millisecond),
			AckDelay:       getEnvDuration("ACK_DELAY", 1500*time.Millisecond),
			PersistTimeout: getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),
			TurnTimeout:    getEnvDuration("TURN_TIMEOUT", 2*time.Minute),
		},
		Persona: PersonaConfig{
			BatchSize:      getEnvInt("PERSONA_BATCH_SIZE", 3),
			WindowSize:     getEnvInt("PERSONA_WINDOW_SIZE", 5),
			RequestTimeout: getEnvDuration("PERSONA_TIMEOUT", 60*time.Second),
			MaxAttempts:    getEnvInt("PERSONA_MAX_ATTEMPTS", 1),
		},
		Session: SessionConfig{
			IdleTTL:      getEnvDuration("SESSION_TTL", 60*time.Minute),
			SweepEvery:   getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			ResumeMaxAge: getEnvDuration("RESUME_MAX_AGE", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("TURN_RATE_LIMIT", 10),
			WindowDuration:    getEnvDuration("TURN_RATE_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY", 1<<20)),
		},
		OTelStdout: getEnvBool("OTEL_STDOUT_TRACES", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Endpoints.ChatURL == "" {
		return errors.New("CHAT_URL cannot be empty")
	}
	if c.Endpoints.PersonaURL == "" {
		return errors.New("PERSONA_URL cannot be empty")
	}
	if c.Persona.BatchSize <= 0 {
		return errors.New("PERSONA_BATCH_SIZE must be > 0")
	}
	if c.Persona.WindowSize < 0 {
		return errors.New("PERSONA_WINDOW_SIZE must be >= 0")
	}
	if c.Persona.MaxAttempts <= 0 {
		return errors.New("PERSONA_MAX_ATTEMPTS must be > 0")
	}
	if c.Session.IdleTTL <= 0 || c.Session.SweepEvery <= 0 {
		return errors.New("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return errors.New("TURN_RATE_LIMIT must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return errors.New("SSE_KEEPALIVE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
