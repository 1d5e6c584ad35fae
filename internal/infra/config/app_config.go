// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/beckn-gateway/internal/infra/logging"
)

type fanoutWorkerKind int

const (
	fanoutWorkerUnset fanoutWorkerKind = iota
	fanoutWorkerExplicit
	fanoutWorkerAuto
	fanoutWorkerDefault
)

const defaultFanoutWorkers = 8

// FanoutWorkerSetting encapsulates the fan-out worker configuration allowing both numeric and symbolic values.
type FanoutWorkerSetting struct {
	kind  fanoutWorkerKind
	value int
}

// UnmarshalYAML supports integer, "auto", and "default" values for fan-out workers.
func (s *FanoutWorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = FanoutWorkerSetting{kind: fanoutWorkerUnset, value: 0}
		return nil
	}

	text := strings.TrimSpace(node.Value)
	if text == "" {
		s.kind = fanoutWorkerUnset
		s.value = 0
		return nil
	}

	switch strings.ToLower(text) {
	case "auto":
		s.kind = fanoutWorkerAuto
		s.value = 0
		return nil
	case "default":
		s.kind = fanoutWorkerDefault
		s.value = 0
		return nil
	}

	val, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("fanoutWorkers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("fanoutWorkers: numeric value must be > 0")
	}
	s.kind = fanoutWorkerExplicit
	s.value = val
	return nil
}

// Count returns the effective worker count derived from the setting.
func (s FanoutWorkerSetting) Count() int {
	switch s.kind {
	case fanoutWorkerExplicit:
		return s.value
	case fanoutWorkerAuto:
		if cores := runtime.NumCPU(); cores > 0 {
			return cores * 2
		}
		return defaultFanoutWorkers
	default:
		return defaultFanoutWorkers
	}
}

// ContextConfig holds the identity and locality stamped on outbound contexts.
type ContextConfig struct {
	BapID   string `yaml:"bapId"`
	BapURI  string `yaml:"bapUri"`
	Domain  string `yaml:"domain"`
	City    string `yaml:"city"`
	Country string `yaml:"country"`
	TTL     string `yaml:"ttl"`
}

// RegistryConfig points at the subscriber directory.
type RegistryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TimeoutConfig bounds each participant call.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig controls exponential retry of participant calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// CircuitBreakerConfig describes when a participant circuit opens and how long it stays open.
type CircuitBreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
	FailureRatio        float64       `yaml:"failureRatio"`
	MinRequests         uint32        `yaml:"minRequests"`
	Window              time.Duration `yaml:"window"`
	Cooldown            time.Duration `yaml:"cooldown"`
}

// RateLimitConfig caps the request rate towards a single participant. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// ParticipantsConfig groups the resilience settings for outbound protocol calls.
type ParticipantsConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit"`
	FanoutWorkers  FanoutWorkerSetting  `yaml:"fanoutWorkers"`
}

// CorrelationConfig selects the callback store and aggregation policy.
type CorrelationConfig struct {
	Backend       StoreBackend  `yaml:"backend"`
	Dedupe        DedupePolicy  `yaml:"dedupe"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// CallbacksConfig sizes the asynchronous callback ingestion pool.
type CallbacksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// APIServerConfig configures the gateway's HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// RedisConfig controls the Redis correlation backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/beckn_gateway"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified gateway configuration sourced from YAML.
type AppConfig struct {
	Environment  Environment        `yaml:"environment"`
	Context      ContextConfig      `yaml:"context"`
	Registry     RegistryConfig     `yaml:"registry"`
	Participants ParticipantsConfig `yaml:"participants"`
	Correlation  CorrelationConfig  `yaml:"correlation"`
	Callbacks    CallbacksConfig    `yaml:"callbacks"`
	APIServer    APIServerConfig    `yaml:"apiServer"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Logging      logging.Config     `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
}

// Default returns a configuration suitable for local development.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Context: ContextConfig{
			BapID:   "bap.local",
			BapURI:  "http://localhost:8880/protocol/v1/",
			Domain:  "nic2004:52110",
			City:    "std:080",
			Country: "IND",
			TTL:     "PT30S",
		},
		Registry: RegistryConfig{
			URL:     "http://localhost:3030",
			Timeout: 5 * time.Second,
		},
		Participants: ParticipantsConfig{
			Timeouts: TimeoutConfig{
				Connect: 5 * time.Second,
				Read:    10 * time.Second,
				Write:   10 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 100 * time.Millisecond,
				Multiplier:      2,
				MaxInterval:     2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
				Window:              time.Minute,
				Cooldown:            30 * time.Second,
			},
		},
		Correlation: CorrelationConfig{
			Backend:       BackendMemory,
			Dedupe:        DedupeNone,
			Retention:     24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Callbacks: CallbacksConfig{
			Workers:   8,
			QueueSize: 1024,
		},
		APIServer: APIServerConfig{Addr: ":8880"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4318",
			ServiceName:   "beckn-gateway",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "bap:correlation:",
		},
	}
	cfg.Database.applyDefaults()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file. Unset
// fields keep their Default values.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads configPath when it exists and falls back to Default otherwise.
// The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if nerr := cfg.normalise(); nerr != nil {
			return AppConfig{}, false, nerr
		}
		return cfg, false, cfg.Validate()
	}
	return AppConfig{}, false, err
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	c.Context.BapID = strings.TrimSpace(c.Context.BapID)
	c.Context.BapURI = strings.TrimSpace(c.Context.BapURI)
	c.Context.Domain = strings.TrimSpace(c.Context.Domain)
	c.Context.City = strings.TrimSpace(c.Context.City)
	c.Context.Country = strings.TrimSpace(c.Context.Country)
	c.Registry.URL = strings.TrimRight(strings.TrimSpace(c.Registry.URL), "/")
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = 5 * time.Second
	}

	retry := &c.Participants.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier < 1 {
		retry.Multiplier = 1
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}
	if c.Participants.RateLimit.RequestsPerSecond > 0 && c.Participants.RateLimit.Burst <= 0 {
		c.Participants.RateLimit.Burst = 1
	}

	c.Correlation.Backend = StoreBackend(normalizeIdentifier(string(c.Correlation.Backend)))
	if c.Correlation.Backend == "" {
		c.Correlation.Backend = BackendMemory
	}
	c.Correlation.Dedupe = DedupePolicy(normalizeIdentifier(string(c.Correlation.Dedupe)))
	if c.Correlation.Dedupe == "" {
		c.Correlation.Dedupe = DedupeNone
	}

	if c.Callbacks.QueueSize < 0 {
		c.Callbacks.QueueSize = 0
	}

	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Database.applyDefaults()
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Context.BapID == "" {
		return fmt.Errorf("context bapId required")
	}
	if c.Context.BapURI == "" {
		return fmt.Errorf("context bapUri required")
	}
	if c.Context.Domain == "" {
		return fmt.Errorf("context domain required")
	}
	if c.Registry.URL == "" {
		return fmt.Errorf("registry url required")
	}

	t := c.Participants.Timeouts
	if t.Connect <= 0 || t.Read <= 0 || t.Write <= 0 {
		return fmt.Errorf("participants timeouts must be >0")
	}
	if c.Participants.Retry.InitialInterval < 0 {
		return fmt.Errorf("participants retry initialInterval must be >=0")
	}
	cb := c.Participants.CircuitBreaker
	if cb.Enabled {
		if cb.ConsecutiveFailures == 0 && cb.FailureRatio <= 0 {
			return fmt.Errorf("participants circuitBreaker needs consecutiveFailures or failureRatio")
		}
		if cb.FailureRatio < 0 || cb.FailureRatio > 1 {
			return fmt.Errorf("participants circuitBreaker failureRatio must be within [0,1]")
		}
		if cb.Cooldown <= 0 {
			return fmt.Errorf("participants circuitBreaker cooldown must be >0 when enabled")
		}
	}
	if c.Participants.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("participants rateLimit requestsPerSecond must be >=0")
	}

	switch c.Correlation.Backend {
	case BackendMemory:
	case BackendPostgres:
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr required for redis backend")
		}
	default:
		return fmt.Errorf("correlation backend must be one of memory, postgres, redis")
	}
	switch c.Correlation.Dedupe {
	case DedupeNone, DedupePayload:
	default:
		return fmt.Errorf("correlation dedupe must be one of none, payload")
	}
	if c.Correlation.Retention < 0 {
		return fmt.Errorf("correlation retention must be >=0")
	}

	if c.Callbacks.Workers <= 0 {
		return fmt.Errorf("callbacks workers must be >0")
	}

	if c.APIServer.Addr == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
