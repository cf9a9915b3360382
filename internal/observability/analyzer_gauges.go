package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/breaker"
)

const (
	metricBreakerState = "appaudit.breaker.state"
	metricPoolInflight = "appaudit.pool.inflight"
)

// breakerStateValue encodes the breaker state for the gauge: 0 closed,
// 1 half-open, 2 open.
func breakerStateValue(state breaker.State) int64 {
	switch state {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// RegisterAnalyzerGauges registers per-service observable gauges for the
// circuit breaker state and the connection pool in-flight count. The
// callback reads the clients on every collection.
func RegisterAnalyzerGauges(mt metric.Meter, clients map[analyzer.Service]*analyzer.Client) error {
	breakerState, err := mt.Int64ObservableGauge(metricBreakerState,
		metric.WithDescription("Circuit breaker state per service: 0 closed, 1 half-open, 2 open"))
	if err != nil {
		return err
	}

	poolInflight, err := mt.Int64ObservableGauge(metricPoolInflight,
		metric.WithDescription("Requests currently holding a pool slot per service"),
		metric.WithUnit("{request}"))
	if err != nil {
		return err
	}

	_, err = mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for service, client := range clients {
			attrs := metric.WithAttributes(attribute.String(attrAnalyzer, string(service)))

			obs.ObserveInt64(breakerState, breakerStateValue(client.Breaker().State()), attrs)
			obs.ObserveInt64(poolInflight, client.InFlight(), attrs)
		}

		return nil
	}, breakerState, poolInflight)

	return err
}
