package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if loaded {
		t.Fatal("expected defaults when file is missing")
	}
	if cfg.Participants.Retry.MaxAttempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.Participants.Retry.MaxAttempts)
	}
	if cfg.Correlation.Backend != BackendMemory {
		t.Fatalf("expected memory backend by default, got %s", cfg.Correlation.Backend)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
context:
  bapId: bap.example.com
  bapUri: https://bap.example.com/protocol/v1/
  domain: nic2004:52110
registry:
  url: https://registry.example.com/
  timeout: 2s
participants:
  timeouts:
    connect: 1s
    read: 3s
    write: 3s
  retry:
    maxAttempts: 4
    initialInterval: 50ms
    multiplier: 3
    maxInterval: 1s
  circuitBreaker:
    consecutiveFailures: 3
    cooldown: 15s
  rateLimit:
    requestsPerSecond: 20
  fanoutWorkers: auto
correlation:
  backend: Redis
  dedupe: payload
redis:
  addr: redis:6379
apiServer:
  addr: ":9090"
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging environment, got %s", cfg.Environment)
	}
	if cfg.Registry.URL != "https://registry.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.Registry.URL)
	}
	if cfg.Registry.Timeout != 2*time.Second {
		t.Fatalf("unexpected registry timeout %v", cfg.Registry.Timeout)
	}
	retry := cfg.Participants.Retry
	if retry.MaxAttempts != 4 || retry.InitialInterval != 50*time.Millisecond || retry.Multiplier != 3 {
		t.Fatalf("unexpected retry config %+v", retry)
	}
	cb := cfg.Participants.CircuitBreaker
	if !cb.Enabled || cb.ConsecutiveFailures != 3 || cb.Cooldown != 15*time.Second {
		t.Fatalf("unexpected breaker config %+v", cb)
	}
	if cb.FailureRatio != 0.5 {
		t.Fatalf("expected default failure ratio to be kept, got %v", cb.FailureRatio)
	}
	if cfg.Participants.RateLimit.Burst != 1 {
		t.Fatalf("expected burst default of 1, got %d", cfg.Participants.RateLimit.Burst)
	}
	if got := cfg.Participants.FanoutWorkers.Count(); got != runtime.NumCPU()*2 {
		t.Fatalf("expected auto fan-out workers, got %d", got)
	}
	if cfg.Correlation.Backend != BackendRedis || cfg.Correlation.Dedupe != DedupePayload {
		t.Fatalf("unexpected correlation config %+v", cfg.Correlation)
	}
	if cfg.Context.City != "std:080" {
		t.Fatalf("expected default city to be kept, got %q", cfg.Context.City)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
correlation:
  backend: cassandra
`)
	_, err := Load(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "correlation backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestValidateRejectsBadBreaker(t *testing.T) {
	cfg := Default()
	cfg.Participants.CircuitBreaker.FailureRatio = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected failure ratio validation error")
	}
	cfg = Default()
	cfg.Participants.CircuitBreaker.Cooldown = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected cooldown validation error")
	}
	cfg.Participants.CircuitBreaker.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled breaker should skip cooldown check: %v", err)
	}
}

func TestFanoutWorkersRejectsNonPositive(t *testing.T) {
	path := writeConfig(t, `
participants:
  fanoutWorkers: 0
`)
	if _, err := Load(context.Background(), path); err == nil {
		t.Fatal("expected fanoutWorkers validation error")
	}
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join("..", "..", "..", "config", "app.yaml"))
	if err != nil {
		t.Fatalf("Load(sample) error = %v", err)
	}
	if cfg.Correlation.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Correlation.Backend)
	}
	if cfg.Participants.Retry.InitialInterval != 100*time.Millisecond {
		t.Fatalf("expected 100ms initial interval, got %v", cfg.Participants.Retry.InitialInterval)
	}
	if cfg.Participants.FanoutWorkers.Count() != runtime.NumCPU()*2 {
		t.Fatalf("expected auto fan-out workers, got %d", cfg.Participants.FanoutWorkers.Count())
	}
}
