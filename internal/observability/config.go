// Package observability provides OpenTelemetry-based tracing, metrics,
// and structured logging for the appaudit engine, plus the diagnostics
// HTTP endpoints the serve mode exposes.
package observability

import "log/slog"

// AppMode identifies the application execution mode.
type AppMode string

const (
	// ModeCLI is one-shot command execution.
	ModeCLI AppMode = "cli"
	// ModeServe is the long-running engine mode.
	ModeServe AppMode = "serve"
)

const (
	// defaultServiceName is the default OTel service name.
	defaultServiceName = "appaudit"

	// defaultShutdownTimeoutSec bounds telemetry flush on exit.
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "dev").
	Environment string

	// Mode identifies how the binary was launched.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g.
	// "localhost:4317"). Empty disables export; providers become no-op.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP
	// exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0). Zero uses
	// parent-based always-on.
	SampleRatio float64

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON selects the JSON handler instead of text.
	LogJSON bool

	// LogFile, when set, writes logs to a size-rotated file instead of
	// stderr. Rotation keeps a few compressed backups.
	LogFile string

	// ShutdownTimeoutSec bounds the telemetry flush on shutdown.
	ShutdownTimeoutSec int
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}

	if c.ShutdownTimeoutSec <= 0 {
		c.ShutdownTimeoutSec = defaultShutdownTimeoutSec
	}

	return c
}
