package repository

import (
	"context"
	"time"

	"github.com/thusser/pybs/internal/domain"
)

// JobStore is C1 from spec.md §4.2 — the shared, transactional job table.
// Dispatcher and daemon depend on this interface, not a concrete driver, so
// tests can substitute a fake without a real Postgres instance.
type JobStore interface {
	Insert(ctx context.Context, job *domain.Job) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Job, error)

	// ClaimNext atomically selects and locks the highest-priority eligible
	// WAITING row for node, stamps it RUNNING, and returns it. Returns nil
	// (no error) when no row qualifies.
	ClaimNext(ctx context.Context, node string, freeCPUs int) (*domain.Job, error)

	// ForceStart bypasses the eligibility filter and capacity check
	// (the "run" RPC, spec.md §4.4) and stamps the row RUNNING on this node.
	// Returns domain.ErrAlreadyStarted if the row exists but is no longer
	// WAITING, and domain.ErrJobNotFound if it doesn't exist at all.
	ForceStart(ctx context.Context, id int64, node string) (*domain.Job, error)

	Finish(ctx context.Context, id int64, finishedAt time.Time) (*domain.Job, error)

	// Delete returns the ncpus of the deleted row so the caller can rebate
	// capacity, whether it was still RUNNING at delete time (so the caller
	// only rebates capacity once — a FINISHED row already had its capacity
	// released by the supervisor), or domain.ErrJobNotFound if the row is gone.
	Delete(ctx context.Context, id int64) (ncpus int, node string, wasRunning bool, err error)

	ListWaiting(ctx context.Context) ([]*domain.Job, error)
	ListRunning(ctx context.Context) ([]*domain.Job, error)
	ListFinished(ctx context.Context, limit int) ([]*domain.Job, error)

	// RunningOnNode returns the ncpus sum of RUNNING rows owned by node —
	// backs capacity's query mode (spec.md §4.5).
	RunningOnNode(ctx context.Context, node string) (int, error)

	// RunningIDsOnNode lists the ids of RUNNING rows owned by node — used
	// by the daemon's startup reconciliation (spec.md §9).
	RunningIDsOnNode(ctx context.Context, node string) ([]int64, error)

	// ReconcileDangling stamps a row abandoned by a crashed daemon instance
	// FINISHED at finishedAt, without ever having run a supervisor. No exit
	// code is recorded.
	ReconcileDangling(ctx context.Context, id int64, finishedAt time.Time) error
}
