package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/aggregate"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/locator"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/persist"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/registry"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/task"
)

// deadlineExceededMessage is the terminal error recorded when a task
// blows its total deadline; external monitors match on it.
const deadlineExceededMessage = "task deadline exceeded"

// progressStart is reported once dispatch begins; the remaining span up
// to the terminal 100 is split across subtask completions.
const progressStart = 10

// verdict is the outcome of one job, ready for the store.
type verdict struct {
	status       task.Status
	errorMessage string
	resultPath   string

	// finalize is false when shutdown interrupted the job: the task keeps
	// its lease and the sweep reclaims it instead of a false terminal.
	finalize bool
}

// process runs one leased task to a terminal status.
func (d *Dispatcher) process(ctx context.Context, t *task.Task) {
	start := d.now()

	d.metrics.TaskStarted()

	log := d.logger.With("task_id", t.TaskID, "model", t.TargetModel, "app", t.TargetAppNumber, "type", string(t.AnalysisType))
	log.Info("task started")

	v := d.execute(ctx, log, t)
	if !v.finalize {
		log.Warn("task interrupted by shutdown, lease left for reclaim")

		return
	}

	completeErr := d.store.Complete(t.TaskID, v.status, v.errorMessage, v.resultPath)
	if completeErr != nil {
		log.Error("finalize task", "error", completeErr)
	}

	d.metrics.TaskFinished(string(v.status), d.now().Sub(start))
	log.Info("task finished", "status", string(v.status), "duration", d.now().Sub(start).String())
}

// execute performs validation, fan-out, aggregation, and persistence.
func (d *Dispatcher) execute(ctx context.Context, log *slog.Logger, t *task.Task) verdict {
	app, resolveErr := d.locator.Resolve(t.TargetModel, t.TargetAppNumber)
	if resolveErr != nil {
		return failFast(locator.ErrAppNotFound, resolveErr)
	}

	grouping := registry.GroupByService(string(t.AnalysisType), t.RequestedTools)
	services := orderedServices(grouping)

	var targetURLs []string

	if servicesNeedEndpoints(services) {
		urls, urlErr := app.TargetURLs()
		if urlErr != nil {
			return failFast(locator.ErrNoPorts, urlErr)
		}

		targetURLs = urls
	}

	if err := d.store.SetProgress(t.TaskID, progressStart); err != nil {
		log.Warn("report progress", "error", err)
	}

	startedAt := d.now()
	deadline := startedAt.Add(d.taskBudget(services))

	taskCtx, cancelTask := context.WithDeadline(ctx, deadline)
	defer cancelTask()

	var cancelled atomic.Bool

	stopWatch := d.watchCancellation(taskCtx, t.TaskID, &cancelled, cancelTask)
	defer stopWatch()

	outcomes := d.fanOut(taskCtx, t, app, targetURLs, services, grouping)

	in := aggregate.Input{
		Task:        t,
		StartedAt:   startedAt,
		CompletedAt: d.now(),
		Outcomes:    outcomes,
		Cancelled:   cancelled.Load(),
	}

	// Shutdown cancels the parent context; that is not a task verdict.
	if ctx.Err() != nil && !in.Cancelled {
		return verdict{}
	}

	deadlineBlown := errors.Is(taskCtx.Err(), context.DeadlineExceeded) && !in.Cancelled

	result := aggregate.Build(in)
	artifacts := aggregate.ExtractArtifacts(result, d.cfg.ArtifactThreshold)

	resultPath, writeErr := d.persister.Write(t, persist.Request{
		Result:        result,
		Artifacts:     artifacts,
		Snapshots:     snapshots(outcomes),
		Cancelled:     in.Cancelled,
		RetentionDays: t.Options.RetentionDays,
	})
	if writeErr != nil {
		// The document is lost to disk; dump it to the log so the result
		// survives somewhere recoverable.
		if doc, marshalErr := json.Marshal(result); marshalErr == nil {
			log.Error("persist aggregated result", "error", writeErr, "document", string(doc))
		} else {
			log.Error("persist aggregated result", "error", writeErr)
		}

		return verdict{
			status:       task.StatusFailed,
			errorMessage: fmt.Sprintf("persistence error: %v", writeErr),
			finalize:     true,
		}
	}

	v := verdict{
		status:       aggregate.DeriveStatus(in),
		errorMessage: joinServiceErrors(result.Errors),
		resultPath:   resultPath,
		finalize:     true,
	}

	if deadlineBlown {
		v.status = task.StatusFailed
		v.errorMessage = deadlineExceededMessage
	}

	return v
}

// fanOut issues one analyze per non-skipped service concurrently and
// joins all of them. Failures never cancel siblings; each call runs to
// its own verdict under the shared task context.
func (d *Dispatcher) fanOut(ctx context.Context, t *task.Task, app locator.App, targetURLs []string, services []analyzer.Service, grouping map[analyzer.Service][]string) []aggregate.Outcome {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	outcomes := make([]aggregate.Outcome, 0, len(services))

	for _, service := range services {
		service := service
		tools := grouping[service]

		wg.Add(1)

		go func() {
			defer wg.Done()

			outcome := d.runSubtask(ctx, t, app, targetURLs, service, tools)

			mu.Lock()
			defer mu.Unlock()

			outcomes = append(outcomes, outcome)
			done++

			progress := progressStart + (100-progressStart)*done/len(services)
			if err := d.store.SetProgress(t.TaskID, progress); err != nil {
				d.logger.Warn("report progress", "task_id", t.TaskID, "error", err)
			}

			if err := d.store.ExtendLease(t.TaskID, d.cfg.LeaseTTL); err != nil {
				d.logger.Warn("extend lease", "task_id", t.TaskID, "error", err)
			}
		}()
	}

	wg.Wait()

	return outcomes
}

// runSubtask performs one service call.
func (d *Dispatcher) runSubtask(ctx context.Context, t *task.Task, app locator.App, targetURLs []string, service analyzer.Service, tools []string) aggregate.Outcome {
	start := d.now()
	outcome := aggregate.Outcome{
		Service: service,
		Tools:   tools,
	}

	client, ok := d.clients[service]
	if !ok {
		outcome.Err = fmt.Errorf("%s analyzer: unavailable: no client configured", service)
		outcome.Duration = d.now().Sub(start)

		d.metrics.SubtaskFinished(string(service), string(analyzer.KindUnavailable), outcome.Duration)

		return outcome
	}

	req := analyzer.Request{
		Model:     t.TargetModel,
		AppNumber: t.TargetAppNumber,
		SourceDir: app.SourceDir,
		Tools:     tools,
		Options:   t.Options.Extra,
	}

	if service.RequiresEndpoints() {
		req.TargetURLs = targetURLs
	}

	resp, err := client.Analyze(ctx, req)

	outcome.Response = resp
	outcome.Err = err
	outcome.Duration = d.now().Sub(start)

	d.metrics.SubtaskFinished(string(service), string(analyzer.KindOf(err)), outcome.Duration)

	return outcome
}

// watchCancellation polls the store for an external cancel request and,
// on observing one, flips the flag and cancels the task context so
// in-flight subtasks drain. Returns a stop func.
func (d *Dispatcher) watchCancellation(ctx context.Context, taskID string, cancelled *atomic.Bool, cancelTask context.CancelFunc) func() {
	stop := make(chan struct{})

	var once sync.Once

	go func() {
		ticker := time.NewTicker(d.cfg.CancelPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				requested, err := d.store.CancelRequested(taskID)
				if err != nil {
					d.logger.Warn("poll cancellation", "task_id", taskID, "error", err)

					continue
				}

				if requested {
					cancelled.Store(true)
					cancelTask()

					return
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}

// taskBudget is the per-task total deadline: the summed per-service
// deadlines plus the aggregation budget.
func (d *Dispatcher) taskBudget(services []analyzer.Service) time.Duration {
	total := d.cfg.AggregationBudget

	for _, service := range services {
		if client, ok := d.clients[service]; ok {
			total += client.Timeout()

			continue
		}

		total += service.DefaultTimeout()
	}

	return total
}

// failFast maps a validation failure to a terminal verdict. The sentinel
// message, not the wrapped detail, becomes the task error so downstream
// consumers can match on it.
func failFast(sentinel, cause error) verdict {
	message := cause.Error()
	if errors.Is(cause, sentinel) {
		message = sentinel.Error()
	}

	return verdict{
		status:       task.StatusFailed,
		errorMessage: message,
		finalize:     true,
	}
}

// orderedServices lists the grouped services in the fixed service order.
func orderedServices(grouping map[analyzer.Service][]string) []analyzer.Service {
	var services []analyzer.Service

	for _, service := range analyzer.Services() {
		if _, ok := grouping[service]; ok {
			services = append(services, service)
		}
	}

	return services
}

// servicesNeedEndpoints reports whether any selected service drives the
// running app.
func servicesNeedEndpoints(services []analyzer.Service) bool {
	for _, service := range services {
		if service.RequiresEndpoints() {
			return true
		}
	}

	return false
}

// snapshots collects the unmodified worker payloads for the services/
// directory.
func snapshots(outcomes []aggregate.Outcome) map[string]json.RawMessage {
	snaps := make(map[string]json.RawMessage, len(outcomes))

	for _, outcome := range outcomes {
		if outcome.Response == nil {
			continue
		}

		raw, marshalErr := json.Marshal(outcome.Response)
		if marshalErr != nil {
			continue
		}

		snaps[string(outcome.Service)] = raw
	}

	return snaps
}

// joinServiceErrors flattens per-service errors into one message.
func joinServiceErrors(errs map[string]string) string {
	if len(errs) == 0 {
		return ""
	}

	services := make([]string, 0, len(errs))
	for service := range errs {
		services = append(services, service)
	}

	sort.Strings(services)

	parts := make([]string, 0, len(services))
	for _, service := range services {
		parts = append(parts, fmt.Sprintf("%s: %s", service, errs[service]))
	}

	return strings.Join(parts, "; ")
}
