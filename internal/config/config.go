// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Runner selection values for the RUNNER environment variable.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Retention   time.Duration

	MaxAttempts    int
	ExecTimeout    time.Duration
	Runner         string // "local" or "docker"
	PythonBin      string
	SandboxImage   string // Docker image for the docker runner, "" = default
	MistralAPIKey  string
	MistralBaseURL string
	MistralModel   string

	RunLog RunLogConfig
}

// RunLogConfig controls NDJSON run logging.
type RunLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("RUN_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/raie.db"),
		Retention:   time.Duration(getEnvInt("RETENTION_HOURS", 24)) * time.Hour,

		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 5),
		ExecTimeout:    time.Duration(getEnvInt("EXEC_TIMEOUT_SECONDS", 15)) * time.Second,
		Runner:         getEnv("RUNNER", RunnerLocal),
		PythonBin:      getEnv("PYTHON_BIN", "python3"),
		SandboxImage:   getEnv("SANDBOX_IMAGE", ""),
		MistralAPIKey:  getEnv("MISTRAL_API_KEY", ""),
		MistralBaseURL: getEnv("MISTRAL_BASE_URL", ""),
		MistralModel:   getEnv("MISTRAL_MODEL", ""),

		RunLog: RunLogConfig{
			Enabled:   getEnvBool("RUN_LOG_ENABLED", false),
			Dir:       getEnv("RUN_LOG_DIR", "./data/logs/runs"),
			QueueSize: queueSize,
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
	if c.MistralAPIKey == "" {
		return fmt.Errorf("MISTRAL_API_KEY cannot be empty")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.ExecTimeout <= 0 {
		return fmt.Errorf("EXEC_TIMEOUT_SECONDS must be > 0")
	}
	if c.Runner != RunnerLocal && c.Runner != RunnerDocker {
		return fmt.Errorf("RUNNER must be %q or %q", RunnerLocal, RunnerDocker)
	}
	if c.Runner == RunnerLocal && c.PythonBin == "" {
		return fmt.Errorf("PYTHON_BIN cannot be empty")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("RETENTION_HOURS must be > 0")
	}
	if c.RunLog.Enabled && c.RunLog.Dir == "" {
		return fmt.Errorf("RUN_LOG_DIR cannot be empty")
	}
	if c.RunLog.QueueSize <= 0 {
		return fmt.Errorf("RUN_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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
