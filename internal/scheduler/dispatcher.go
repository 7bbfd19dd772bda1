package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/thusser/pybs/internal/capacity"
	"github.com/thusser/pybs/internal/metrics"
	"github.com/thusser/pybs/internal/repository"
)

// Dispatcher is C4 — the per-node claim loop. It repeatedly claims the
// highest-priority eligible job for this node until none remains, then
// sleeps for the poll interval (original_source/PyBS/pybsdaemon.py
// ::_main_loop's "claim until empty, then sleep" shape).
type Dispatcher struct {
	store      repository.JobStore
	accountant capacity.Accountant
	supervisor *Supervisor
	node       string
	logger     *slog.Logger

	warmupDelay  time.Duration
	pollInterval time.Duration
}

func NewDispatcher(store repository.JobStore, accountant capacity.Accountant, supervisor *Supervisor, node string, warmupDelay, pollInterval time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		accountant:   accountant,
		supervisor:   supervisor,
		node:         node,
		warmupDelay:  warmupDelay,
		pollInterval: pollInterval,
		logger:       logger.With("component", "dispatcher"),
	}
}

// Start blocks until ctx is cancelled. It waits warmupDelay before the
// first claim attempt, then polls at pollInterval (spec.md §4.2 / §9).
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "node", d.node, "warmup_delay", d.warmupDelay, "poll_interval", d.pollInterval)

	select {
	case <-ctx.Done():
		return
	case <-time.After(d.warmupDelay):
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		metrics.DispatcherTicksTotal.Inc()
		d.claimUntilEmpty(ctx)

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shut down")
			return
		case <-ticker.C:
		}
	}
}

// claimUntilEmpty repeatedly claims jobs for this node until the store has
// nothing left eligible, or free capacity runs out (C5 / P3).
func (d *Dispatcher) claimUntilEmpty(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		free, err := d.accountant.Free(ctx)
		if err != nil {
			metrics.ClaimErrorsTotal.Inc()
			d.logger.Error("compute free capacity", "error", err)
			return
		}
		metrics.CPUsTotal.Set(float64(d.accountant.Total()))
		metrics.CPUsUsed.Set(float64(d.accountant.Total() - free))
		if free <= 0 {
			return
		}

		job, err := d.store.ClaimNext(ctx, d.node, free)
		if err != nil {
			metrics.ClaimErrorsTotal.Inc()
			d.logger.Error("claim next job", "error", err)
			return
		}
		if job == nil {
			return
		}

		d.accountant.Reserve(job.NCPUs)
		metrics.JobsClaimedTotal.Inc()
		d.logger.Info("claimed job", "job_id", job.ID, "name", job.Name, "ncpus", job.NCPUs)
		go d.supervisor.Run(context.Background(), job.ID)
	}
}
