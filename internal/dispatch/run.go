package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Run drives the poll/sweep loop until ctx is cancelled, then waits for
// in-flight tasks to drain. Tasks interrupted by shutdown keep their
// lease; the next dispatcher sweep reclaims them.
func (d *Dispatcher) Run(ctx context.Context) error {
	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()

	sweep := time.NewTicker(d.cfg.SweepInterval)
	defer sweep.Stop()

	var (
		wg       sync.WaitGroup
		inflight atomic.Int64
	)

	d.pollOnce(ctx, &wg, &inflight)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher draining", "inflight", inflight.Load())
			wg.Wait()

			return nil
		case <-poll.C:
			d.pollOnce(ctx, &wg, &inflight)
		case <-sweep.C:
			d.sweepOnce()
		}
	}
}

// pollOnce leases up to the free parallelism slots and launches a worker
// per leased task.
func (d *Dispatcher) pollOnce(ctx context.Context, wg *sync.WaitGroup, inflight *atomic.Int64) {
	slots := int64(d.cfg.Parallelism) - inflight.Load()
	if slots <= 0 {
		return
	}

	leased, leaseErr := d.store.LeaseReady(int(slots), d.cfg.LeaseTTL)
	if leaseErr != nil {
		d.logger.Error("lease ready tasks", "error", leaseErr)

		return
	}

	for _, t := range leased {
		t := t

		inflight.Add(1)
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer inflight.Add(-1)

			d.process(ctx, t)
		}()
	}
}

// sweepOnce reclaims expired leases left behind by dead dispatchers.
func (d *Dispatcher) sweepOnce() {
	swept, sweepErr := d.store.SweepExpiredLeases(d.cfg.LeaseGrace)
	if sweepErr != nil {
		d.logger.Error("sweep expired leases", "error", sweepErr)

		return
	}

	if swept > 0 {
		d.logger.Warn("reclaimed expired leases", "count", swept)
		d.metrics.LeasesSwept(swept)
	}
}
