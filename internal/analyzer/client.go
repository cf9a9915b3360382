package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/breaker"
)

// Pool and transport defaults.
const (
	// DefaultPoolSize bounds concurrent requests per service.
	DefaultPoolSize = 4
	// DefaultMaxMessageSize accommodates embedded SARIF artifacts.
	DefaultMaxMessageSize = 128 << 20
	// DefaultHandshakeTimeout bounds the WebSocket upgrade.
	DefaultHandshakeTimeout = 10 * time.Second
	// closeGrace bounds the courtesy close handshake after a response has
	// been fully received.
	closeGrace = time.Second
)

// ClientConfig configures a Client. Zero values fall back to defaults.
type ClientConfig struct {
	Service          Service
	Endpoint         string
	Timeout          time.Duration
	PoolSize         int64
	MaxMessageSize   int64
	HandshakeTimeout time.Duration
	HealthTTL        time.Duration
	Breaker          *breaker.Breaker
	Logger           *slog.Logger
}

// Client is the dispatcher-side half of the transport to one analyzer
// service kind. Each request uses a dedicated connection drawn from a
// semaphore-bounded pool; request/response on a connection is strictly
// sequential and the client, never the worker, closes the channel after
// the response has been fully received and parsed.
type Client struct {
	service        Service
	endpoint       string
	timeout        time.Duration
	maxMessageSize int64
	dialer         *websocket.Dialer
	sem            *semaphore.Weighted
	breaker        *breaker.Breaker
	logger         *slog.Logger

	inflight atomic.Int64
	health   *healthCache
}

// NewClient creates a client for one analyzer service kind.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Service.DefaultTimeout()
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if cfg.Breaker == nil {
		cfg.Breaker = breaker.New(breaker.DefaultThreshold, breaker.DefaultCooldown, breaker.DefaultMaxCooldown)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		service:        cfg.Service,
		endpoint:       cfg.Endpoint,
		timeout:        cfg.Timeout,
		maxMessageSize: cfg.MaxMessageSize,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		sem:     semaphore.NewWeighted(cfg.PoolSize),
		breaker: cfg.Breaker,
		logger:  cfg.Logger.With("service", string(cfg.Service)),
		health:  newHealthCache(cfg.HealthTTL),
	}
}

// Service returns the service kind this client talks to.
func (c *Client) Service() Service {
	return c.service
}

// Timeout returns the per-request deadline for this client.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// InFlight returns the number of requests currently holding a pool slot.
func (c *Client) InFlight() int64 {
	return c.inflight.Load()
}

// Analyze sends one request and waits for its single response.
//
// The error, when non-nil, is always an [*Error] carrying one of the
// taxonomy kinds. On a remote error the parsed response is returned
// alongside the error so the aggregator can record the worker's message.
func (c *Client) Analyze(ctx context.Context, req Request) (*Response, error) {
	if !c.breaker.Allow() {
		return nil, newError(c.service, KindUnavailable, "circuit open", nil)
	}

	acquireErr := c.sem.Acquire(ctx, 1)
	if acquireErr != nil {
		return nil, c.classify(ctx, acquireErr, KindCancelled, "acquire pool slot")
	}
	defer c.sem.Release(1)

	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if req.Type == "" {
		req.Type = c.service.MessageType()
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := c.exchange(callCtx, req)
	if err != nil {
		return nil, err
	}

	// A worker that completes the exchange is live even when it reports
	// its own failure; the breaker must not count it.
	c.breaker.RecordSuccess()

	if resp.Status == StatusError {
		return resp, newError(c.service, KindRemoteError, resp.Error, nil)
	}

	return resp, nil
}

// exchange performs the framed request/response round trip on a dedicated
// connection.
func (c *Client) exchange(ctx context.Context, req Request) (*Response, error) {
	conn, _, dialErr := c.dialer.DialContext(ctx, c.endpoint, nil)
	if dialErr != nil {
		kind := KindUnreachable
		if errors.Is(dialErr, websocket.ErrBadHandshake) {
			kind = KindHandshakeFailed
		}

		return nil, c.classify(ctx, dialErr, kind, "dial "+c.endpoint)
	}

	conn.SetReadLimit(c.maxMessageSize)

	// Unblock reads when the caller's deadline or cancellation fires. The
	// abrupt close also guarantees a timed-out connection is never reused.
	watchDone := make(chan struct{})
	defer close(watchDone)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	writeErr := conn.WriteJSON(req)
	if writeErr != nil {
		_ = conn.Close()

		return nil, c.classify(ctx, writeErr, KindUnreachable, "write request")
	}

	resp, readErr := c.awaitResponse(ctx, conn, req.RequestID)
	if readErr != nil {
		_ = conn.Close()

		return nil, readErr
	}

	// Response fully received and parsed: the client initiates the close.
	// Workers never close first, so the payload can never race the close.
	deadline := time.Now().Add(closeGrace)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()

	return resp, nil
}

// awaitResponse reads frames until the single response for requestID
// arrives. Keepalive and pong frames are skipped; any other mismatched or
// malformed frame is a protocol error.
func (c *Client) awaitResponse(ctx context.Context, conn *websocket.Conn, requestID string) (*Response, error) {
	for {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			return nil, c.classify(ctx, readErr, KindUnreachable, "read response")
		}

		var env envelope

		envErr := json.Unmarshal(raw, &env)
		if envErr != nil {
			return nil, c.protocolError(fmt.Errorf("decode frame header: %w", envErr))
		}

		if env.Type == MessageTypeKeepalive || env.Type == MessageTypePong {
			continue
		}

		if env.RequestID != requestID {
			return nil, c.protocolError(fmt.Errorf("response for %q on stream awaiting %q", env.RequestID, requestID))
		}

		schemaErr := validateResponse(raw)
		if schemaErr != nil {
			return nil, c.protocolError(schemaErr)
		}

		var resp Response

		decodeErr := json.Unmarshal(raw, &resp)
		if decodeErr != nil {
			return nil, c.protocolError(fmt.Errorf("decode response: %w", decodeErr))
		}

		return &resp, nil
	}
}

// classify maps a transport error to a taxonomy kind, preferring the
// context verdict (deadline -> timeout, cancel -> cancelled) over the
// fallback, and feeds the circuit breaker.
func (c *Client) classify(ctx context.Context, cause error, fallback ErrorKind, op string) error {
	kind := fallback

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		kind = KindCancelled
	}

	if kind.TripsBreaker() {
		c.breaker.RecordFailure()
	} else {
		// Cancelled exchanges carry no health verdict; free a pending
		// half-open probe slot instead of wedging the breaker.
		c.breaker.ReleaseProbe()
	}

	return newError(c.service, kind, op, cause)
}

// protocolError wraps a contract violation. Protocol errors neither trip
// nor reset the breaker: the transport delivered frames, but we cannot
// judge worker health from garbage.
func (c *Client) protocolError(cause error) error {
	c.breaker.ReleaseProbe()

	return newError(c.service, KindProtocolError, "", cause)
}
