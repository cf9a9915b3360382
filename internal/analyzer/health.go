package analyzer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/breaker"
)

// Health probe defaults.
const (
	// DefaultHealthTTL caches probe results to amortize pings.
	DefaultHealthTTL = 10 * time.Second
	// probeTimeout bounds one ping/pong exchange.
	probeTimeout = 5 * time.Second
)

// HealthState summarizes a client's view of its service.
type HealthState string

// Health states.
const (
	// HealthOK means the last probe succeeded and the breaker is closed.
	HealthOK HealthState = "ok"
	// HealthDegraded means the breaker is half-open: the service failed
	// recently and is being re-tried.
	HealthDegraded HealthState = "degraded"
	// HealthDown means the last probe failed or the breaker is open.
	HealthDown HealthState = "down"
)

// HealthReport is the cached probe outcome.
type HealthReport struct {
	Status      HealthState `json:"status"`
	LastProbeAt time.Time   `json:"last_probe_at"`
}

// healthCache holds the TTL-cached probe result and enforces at most one
// in-flight probe per client.
type healthCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	reachable bool
	lastProbe time.Time
	probing   bool
}

func newHealthCache(ttl time.Duration) *healthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}

	return &healthCache{ttl: ttl}
}

// Health returns the service health, probing at most once per TTL window.
// Concurrent callers during a probe get the previous cached value rather
// than piling on probes.
func (c *Client) Health(ctx context.Context) HealthReport {
	c.health.mu.Lock()

	fresh := time.Since(c.health.lastProbe) < c.health.ttl
	if fresh || c.health.probing {
		report := c.reportLocked()
		c.health.mu.Unlock()

		return report
	}

	c.health.probing = true
	c.health.mu.Unlock()

	reachable := c.probe(ctx)

	c.health.mu.Lock()
	defer c.health.mu.Unlock()

	c.health.reachable = reachable
	c.health.lastProbe = time.Now()
	c.health.probing = false

	return c.reportLocked()
}

// reportLocked folds breaker state into the cached reachability verdict.
// Caller must hold the health mutex.
func (c *Client) reportLocked() HealthReport {
	status := HealthDown

	switch {
	case c.breaker.State() == breaker.StateOpen:
		status = HealthDown
	case c.breaker.State() == breaker.StateHalfOpen:
		status = HealthDegraded
	case c.health.reachable:
		status = HealthOK
	}

	return HealthReport{
		Status:      status,
		LastProbeAt: c.health.lastProbe,
	}
}

// probe performs one ping/pong exchange on a throwaway connection.
func (c *Client) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, _, dialErr := c.dialer.DialContext(probeCtx, c.endpoint, nil)
	if dialErr != nil {
		return false
	}

	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(probeTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	ping := envelope{Type: MessageTypePing, RequestID: uuid.NewString()}

	writeErr := conn.WriteJSON(ping)
	if writeErr != nil {
		return false
	}

	for {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			return false
		}

		var env envelope

		decodeErr := json.Unmarshal(raw, &env)
		if decodeErr != nil {
			return false
		}

		if env.Type == MessageTypeKeepalive {
			continue
		}

		return env.Type == MessageTypePong && env.RequestID == ping.RequestID
	}
}
