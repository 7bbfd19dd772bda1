// Package daemon wires C1-C7 together and owns the node's lifecycle — C8.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/thusser/pybs/internal/capacity"
	"github.com/thusser/pybs/internal/domain"
	"github.com/thusser/pybs/internal/header"
	"github.com/thusser/pybs/internal/notify"
	"github.com/thusser/pybs/internal/registry"
	"github.com/thusser/pybs/internal/repository"
	"github.com/thusser/pybs/internal/scheduler"
)

// Daemon is the object the RPC server's method table calls into. It holds
// no transport concerns of its own — submit/list/remove/run/config are
// plain Go methods, exercised directly by tests and indirectly by the RPC
// layer (spec.md §4.6, §4.8).
type Daemon struct {
	Node string

	store      repository.JobStore
	accountant capacity.Accountant
	registry   *registry.Registry
	supervisor *scheduler.Supervisor
	dispatcher *scheduler.Dispatcher
	rootDir    string
	logger     *slog.Logger
}

// Config bundles the wiring Daemon needs. Callers (cmd/pybsd) construct the
// store/accountant/registry/notifiers first and hand them in.
type Config struct {
	Node         string
	RootDir      string
	Store        repository.JobStore
	Accountant   capacity.Accountant
	Registry     *registry.Registry
	Notifiers    *notify.Registry
	WarmupDelay  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

func New(cfg Config) *Daemon {
	supervisor := scheduler.NewSupervisor(cfg.Store, cfg.Registry, cfg.Accountant, cfg.Notifiers, cfg.RootDir, cfg.Logger)
	dispatcher := scheduler.NewDispatcher(cfg.Store, cfg.Accountant, supervisor, cfg.Node, cfg.WarmupDelay, cfg.PollInterval, cfg.Logger)

	return &Daemon{
		Node:       cfg.Node,
		store:      cfg.Store,
		accountant: cfg.Accountant,
		registry:   cfg.Registry,
		supervisor: supervisor,
		dispatcher: dispatcher,
		rootDir:    cfg.RootDir,
		logger:     cfg.Logger.With("component", "daemon", "node", cfg.Node),
	}
}

// Start runs the dispatcher loop and blocks until ctx is cancelled. It
// should be launched in its own goroutine by the caller.
func (d *Daemon) Start(ctx context.Context) {
	d.dispatcher.Start(ctx)
}

// Reconcile inspects rows this node's previous instance left RUNNING and
// stamps them FINISHED at the current time (no exit code is recorded; rows
// carry none), since no supervisor for
// them survived the restart to observe their exit (spec.md §9, the
// recommended extension beyond the Python original, which has no
// multi-instance restart story). Must run before Start.
func (d *Daemon) Reconcile(ctx context.Context) error {
	ids, err := d.store.RunningIDsOnNode(ctx, d.Node)
	if err != nil {
		return fmt.Errorf("list running jobs for reconciliation: %w", err)
	}
	for _, id := range ids {
		if d.registry.Has(id) {
			continue // survived somehow (shouldn't happen across a process restart)
		}
		if err := d.store.ReconcileDangling(ctx, id, time.Now()); err != nil {
			d.logger.Error("reconcile dangling job", "job_id", id, "error", err)
			continue
		}
		d.logger.Warn("reconciled dangling job from a previous instance", "job_id", id)
	}
	return nil
}

// Submit parses filename's header and inserts a WAITING row (spec.md §4.6
// `submit`).
func (d *Daemon) Submit(ctx context.Context, filename, username string) (int64, error) {
	absPath := filepath.Join(d.rootDir, filename)
	job, _, err := header.ParseJob(absPath)
	if err != nil {
		return 0, err
	}

	row := &domain.Job{
		Name:      job.Name,
		Username:  username,
		Filename:  filename,
		NCPUs:     job.NCPUs,
		Priority:  job.Priority,
		Nodes:     job.Nodes,
		Submitted: time.Now(),
	}
	return d.store.Insert(ctx, row)
}

func (d *Daemon) ListWaiting(ctx context.Context) ([]*domain.Job, error) {
	return d.store.ListWaiting(ctx)
}

func (d *Daemon) ListRunning(ctx context.Context) ([]*domain.Job, error) {
	return d.store.ListRunning(ctx)
}

func (d *Daemon) ListFinished(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 5
	}
	return d.store.ListFinished(ctx, limit)
}

// Remove deletes id's row; if a local supervisor still has it registered,
// the subprocess is killed synchronously first (spec.md §4.2, §5). Capacity
// is only rebated when the row was still RUNNING at delete time — a
// FINISHED row already had its capacity released once by the supervisor
// (internal/scheduler/supervisor.go), and rebating it again would drive
// counter-mode used_cpus negative.
func (d *Daemon) Remove(ctx context.Context, id int64) error {
	d.registry.Kill(id)
	ncpus, node, wasRunning, err := d.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if wasRunning && node == d.Node {
		d.accountant.Release(ncpus)
	}
	return nil
}

// Run force-starts id on this node, bypassing the eligibility filter and
// the capacity check (spec.md §4.4 "Forced start").
func (d *Daemon) Run(ctx context.Context, id int64) error {
	job, err := d.store.ForceStart(ctx, id, d.Node)
	if err != nil {
		return err
	}
	d.accountant.Reserve(job.NCPUs)
	go d.supervisor.Run(context.Background(), job.ID)
	return nil
}

// GetCPUs returns (used, total) for this node (spec.md §4.6 `get_cpus`).
func (d *Daemon) GetCPUs(ctx context.Context) (used, total int, err error) {
	free, err := d.accountant.Free(ctx)
	if err != nil {
		return 0, 0, err
	}
	total = d.accountant.Total()
	return total - free, total, nil
}

// GetConfig returns the subset of runtime parameters clients may read/write
// (spec.md §4.6 `config`/`setconfig`, minimum key `ncpus`).
func (d *Daemon) GetConfig(context.Context) map[string]string {
	return map[string]string{
		"ncpus": fmt.Sprintf("%d", d.accountant.Total()),
	}
}

// SetConfig writes a single runtime parameter. Unknown keys are a
// ValidationError (spec.md §7).
func (d *Daemon) SetConfig(_ context.Context, key, value string) error {
	switch key {
	case "ncpus":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("%w: ncpus must be a positive integer, got %q", domain.ErrValidation, value)
		}
		d.accountant.SetTotal(n)
		return nil
	default:
		return fmt.Errorf("%w: unknown config key %q", domain.ErrValidation, key)
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return n, nil
}
