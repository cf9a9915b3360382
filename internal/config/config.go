// Package config defines the appaudit configuration model and its
// viper-backed loader. Field tags use mapstructure for unmarshalling.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
)

// Validation errors.
var (
	// ErrNoResultsRoot indicates a missing results directory setting.
	ErrNoResultsRoot = errors.New("results root must be set")
	// ErrNoAppsRoot indicates a missing generated-apps directory setting.
	ErrNoAppsRoot = errors.New("apps root must be set")
	// ErrNoStorePath indicates a missing task store path.
	ErrNoStorePath = errors.New("store path must be set")
	// ErrBadEndpoint indicates a malformed analyzer endpoint.
	ErrBadEndpoint = errors.New("analyzer endpoint must be a ws:// or wss:// URL")
)

// Config is the top-level configuration struct for appaudit.
type Config struct {
	// ResultsRoot is where aggregated documents are persisted.
	ResultsRoot string `mapstructure:"results_root"`

	// AppsRoot is the generated-applications tree the locator resolves
	// against.
	AppsRoot string `mapstructure:"apps_root"`

	// PortsFile is the JSON port registry maintained by the container
	// lifecycle tooling. Optional; analyses needing ports fail per task
	// when it is absent.
	PortsFile string `mapstructure:"ports_file"`

	// StorePath is the bbolt task database file.
	StorePath string `mapstructure:"store_path"`

	Dispatcher DispatcherConfig                 `mapstructure:"dispatcher"`
	Analyzers  map[string]AnalyzerServiceConfig `mapstructure:"analyzers"`
	Breaker    BreakerConfig                    `mapstructure:"breaker"`
	Artifacts  ArtifactsConfig                  `mapstructure:"artifacts"`
	Telemetry  TelemetryConfig                  `mapstructure:"telemetry"`
}

// DispatcherConfig holds the control-loop knobs.
type DispatcherConfig struct {
	Parallelism       int           `mapstructure:"parallelism"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	LeaseGrace        time.Duration `mapstructure:"lease_grace"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	AggregationBudget time.Duration `mapstructure:"aggregation_budget"`
}

// AnalyzerServiceConfig holds the per-service transport settings.
type AnalyzerServiceConfig struct {
	// Endpoint is the worker WebSocket URL, e.g. "ws://localhost:2001/ws".
	Endpoint string `mapstructure:"endpoint"`

	// Timeout is the per-request deadline; zero uses the service default.
	Timeout time.Duration `mapstructure:"timeout"`

	// PoolSize bounds concurrent requests to this service.
	PoolSize int `mapstructure:"pool_size"`
}

// BreakerConfig holds the circuit breaker settings shared by all
// analyzer clients.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	MaxCooldown      time.Duration `mapstructure:"max_cooldown"`
}

// ArtifactsConfig holds artifact extraction settings.
type ArtifactsConfig struct {
	// InlineThreshold is the byte ceiling for raw tool output kept inline
	// in the aggregated document.
	InlineThreshold int `mapstructure:"inline_threshold"`

	// RetentionDays is recorded in every manifest for cleanup tooling.
	RetentionDays int `mapstructure:"retention_days"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure    bool    `mapstructure:"otlp_insecure"`
	SampleRatio     float64 `mapstructure:"sample_ratio"`
	LogLevel        string  `mapstructure:"log_level"`
	LogJSON         bool    `mapstructure:"log_json"`
	LogFile         string  `mapstructure:"log_file"`
	DiagnosticsAddr string  `mapstructure:"diagnostics_addr"`
	Environment     string  `mapstructure:"environment"`
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.ResultsRoot == "" {
		return ErrNoResultsRoot
	}

	if c.AppsRoot == "" {
		return ErrNoAppsRoot
	}

	if c.StorePath == "" {
		return ErrNoStorePath
	}

	for name, svc := range c.Analyzers {
		if !analyzer.Service(name).Valid() {
			return fmt.Errorf("unknown analyzer service %q", name)
		}

		if svc.Endpoint == "" {
			continue
		}

		if !isWebSocketURL(svc.Endpoint) {
			return fmt.Errorf("%w: %s=%q", ErrBadEndpoint, name, svc.Endpoint)
		}
	}

	return nil
}

// Service returns the settings for one analyzer service; missing entries
// yield the zero value, meaning "no endpoint configured".
func (c *Config) Service(service analyzer.Service) AnalyzerServiceConfig {
	return c.Analyzers[string(service)]
}

func isWebSocketURL(endpoint string) bool {
	return len(endpoint) > 5 && (endpoint[:5] == "ws://" || (len(endpoint) > 6 && endpoint[:6] == "wss://"))
}
