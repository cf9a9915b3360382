// Package dispatch implements the engine's control loop: it leases ready
// tasks from the store, validates their targets, fans subtasks out to the
// analyzer clients, joins the results with partial-failure tolerance,
// aggregates, persists, and drives each task to a terminal status.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/locator"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/persist"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

// Defaults for the control loop.
const (
	DefaultParallelism        = 4
	DefaultPollInterval       = 2 * time.Second
	DefaultLeaseTTL           = 2 * time.Minute
	DefaultLeaseGrace         = 30 * time.Second
	DefaultSweepInterval      = 30 * time.Second
	DefaultAggregationBudget  = 30 * time.Second
	DefaultCancelPollInterval = time.Second
)

// AnalyzerClient is the dispatcher's view of one service transport.
// *analyzer.Client satisfies it; tests substitute fakes.
type AnalyzerClient interface {
	Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Response, error)
	Timeout() time.Duration
}

// Store is the task-store surface the dispatcher drives.
type Store interface {
	LeaseReady(limit int, ttl time.Duration) ([]*task.Task, error)
	ExtendLease(id string, ttl time.Duration) error
	SetProgress(id string, progress int) error
	Complete(id string, status task.Status, errorMessage, resultPath string) error
	CancelRequested(id string) (bool, error)
	SweepExpiredLeases(grace time.Duration) (int, error)
}

// Locator resolves analysis targets.
type Locator interface {
	Resolve(canonicalSlug string, appNumber int) (locator.App, error)
}

// Persister writes aggregated results.
type Persister interface {
	Write(t *task.Task, req persist.Request) (string, error)
}

// Metrics receives dispatcher lifecycle events. The observability
// package provides the Prometheus implementation.
type Metrics interface {
	TaskStarted()
	TaskFinished(status string, duration time.Duration)
	SubtaskFinished(service, errorKind string, duration time.Duration)
	LeasesSwept(count int)
}

// nopMetrics is the default sink.
type nopMetrics struct{}

func (nopMetrics) TaskStarted()                                 {}
func (nopMetrics) TaskFinished(string, time.Duration)           {}
func (nopMetrics) SubtaskFinished(string, string, time.Duration) {}
func (nopMetrics) LeasesSwept(int)                              {}

// Config tunes the dispatcher. Zero values fall back to defaults.
type Config struct {
	// Parallelism bounds concurrently processed tasks.
	Parallelism int

	PollInterval  time.Duration
	LeaseTTL      time.Duration
	LeaseGrace    time.Duration
	SweepInterval time.Duration

	// AggregationBudget is added to the summed subtask deadlines to form
	// the per-task total deadline.
	AggregationBudget time.Duration

	// CancelPollInterval is how often a running job checks the store for
	// a cancellation request.
	CancelPollInterval time.Duration

	// ArtifactThreshold is the inline-size ceiling for raw tool output;
	// zero selects the aggregator default.
	ArtifactThreshold int
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}

	if c.LeaseGrace <= 0 {
		c.LeaseGrace = DefaultLeaseGrace
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}

	if c.AggregationBudget <= 0 {
		c.AggregationBudget = DefaultAggregationBudget
	}

	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = DefaultCancelPollInterval
	}

	return c
}

// Dispatcher coordinates task execution across the analyzer clients.
type Dispatcher struct {
	cfg       Config
	store     Store
	locator   Locator
	clients   map[analyzer.Service]AnalyzerClient
	persister Persister
	logger    *slog.Logger
	metrics   Metrics

	now func() time.Time
}

// New creates a dispatcher. clients maps each reachable service kind to
// its transport; services without a client fail subtasks as unreachable.
func New(cfg Config, store Store, loc Locator, clients map[analyzer.Service]AnalyzerClient, persister Persister, logger *slog.Logger, metrics Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Dispatcher{
		cfg:       cfg.withDefaults(),
		store:     store,
		locator:   loc,
		clients:   clients,
		persister: persister,
		logger:    logger.With("component", "dispatcher"),
		metrics:   metrics,
		now:       time.Now,
	}
}
