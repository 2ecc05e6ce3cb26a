package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MISTRAL_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.ExecTimeout != 15*time.Second {
		t.Errorf("ExecTimeout = %v, want 15s", cfg.ExecTimeout)
	}
	if cfg.Runner != RunnerLocal {
		t.Errorf("Runner = %q, want %q", cfg.Runner, RunnerLocal)
	}
	if cfg.Retention != 24*time.Hour {
		t.Errorf("Retention = %v, want 24h", cfg.Retention)
	}
	if cfg.RunLog.Enabled {
		t.Error("run log enabled by default")
	}
	if !cfg.IsDevelopment() {
		t.Error("empty FRONTEND_URL should mean development")
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_ATTEMPTS", "8")
	t.Setenv("EXEC_TIMEOUT_SECONDS", "30")
	t.Setenv("RUNNER", "docker")
	t.Setenv("RETENTION_HOURS", "72")
	t.Setenv("FRONTEND_URL", "https://raie.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
	if cfg.ExecTimeout != 30*time.Second {
		t.Errorf("ExecTimeout = %v", cfg.ExecTimeout)
	}
	if cfg.Runner != RunnerDocker {
		t.Errorf("Runner = %q", cfg.Runner)
	}
	if cfg.Retention != 72*time.Hour {
		t.Errorf("Retention = %v", cfg.Retention)
	}
	if cfg.IsDevelopment() {
		t.Error("production frontend URL flagged as development")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"missing api key", "MISTRAL_API_KEY", ""},
		{"attempts too high", "MAX_ATTEMPTS", "11"},
		{"attempts too low", "MAX_ATTEMPTS", "0"},
		{"bad runner", "RUNNER", "firecracker"},
		{"zero timeout", "EXEC_TIMEOUT_SECONDS", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := []struct {
		val  string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"YES", true},
		{"on", true},
		{"0", false},
		{"false", false},
		{"off", false},
		{"garbage", true}, // fallback
	}
	for _, tc := range cases {
		t.Setenv("RAIE_TEST_BOOL", tc.val)
		if got := getEnvBool("RAIE_TEST_BOOL", true); got != tc.want {
			t.Errorf("getEnvBool(%q) = %v, want %v", tc.val, got, tc.want)
		}
	}
}
