package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/metric"
)

// DiagnosticsServer exposes health, readiness, and Prometheus metrics
// endpoints over HTTP for operational monitoring.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
	metrics  *EngineMetrics
	meter    metric.Meter
}

// NewDiagnosticsServer starts an HTTP server at addr with /healthz,
// /readyz, and /metrics endpoints. Engine metrics are registered against
// the Prometheus-backed meter and exposed via Metrics.
func NewDiagnosticsServer(addr string, checks ...ReadyCheck) (*DiagnosticsServer, error) {
	mux := http.NewServeMux()

	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(checks...))

	metricsHandler, meter, err := PrometheusHandler()
	if err != nil {
		return nil, fmt.Errorf("create prometheus handler: %w", err)
	}

	mux.Handle("/metrics", metricsHandler)

	engineMetrics, err := NewEngineMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("register engine metrics: %w", err)
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	return &DiagnosticsServer{server: srv, listener: listener, metrics: engineMetrics, meter: meter}, nil
}

// Addr returns the address the server is listening on.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Metrics returns the engine metrics served by /metrics.
func (d *DiagnosticsServer) Metrics() *EngineMetrics {
	return d.metrics
}

// Meter returns the Prometheus-backed meter so callers can register
// additional instruments against /metrics.
func (d *DiagnosticsServer) Meter() metric.Meter {
	return d.meter
}

// Close gracefully shuts down the diagnostics server.
func (d *DiagnosticsServer) Close() error {
	err := d.server.Shutdown(context.Background())
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
