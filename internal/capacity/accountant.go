// Package capacity implements C5, the per-node CPU accountant (spec.md §4.5).
package capacity

import (
	"context"
	"sync/atomic"
)

// Mode selects which capacity implementation the dispatcher reads from.
type Mode string

const (
	// ModeCounter increments/decrements an in-process counter. Cheap, but
	// reset to zero whenever the daemon restarts — lingering RUNNING rows
	// from before the restart are not accounted for until they finish.
	ModeCounter Mode = "counter"
	// ModeQuery recomputes SUM(ncpus) over this node's RUNNING rows on
	// every tick. Authoritative across restarts, at the cost of a query
	// per dispatch tick. This is the default (spec.md §9).
	ModeQuery Mode = "query"
)

// Accountant tracks used_cpus for this node and answers how many are free.
type Accountant interface {
	// Reserve is called by the dispatcher at claim time (counter mode only;
	// a no-op in query mode, since the row itself is now authoritative).
	Reserve(ncpus int)
	// Release is called by the supervisor on finish, and by Remove when a
	// RUNNING job is deleted (counter mode only).
	Release(ncpus int)
	// Free returns how many CPUs are currently available to claim.
	Free(ctx context.Context) (int, error)
	// Total returns the node's configured CPU capacity.
	Total() int
	// SetTotal reconfigures the node's CPU capacity at runtime — backs the
	// `setconfig ncpus` RPC (spec.md §4.6).
	SetTotal(n int)
}

// RunningSource answers "how many CPUs are in RUNNING rows on this node",
// backing query mode. *postgres.JobRepository satisfies this.
type RunningSource interface {
	RunningOnNode(ctx context.Context, node string) (int, error)
}

// New returns the Accountant configured by mode for total CPUs on node.
func New(mode Mode, total int, node string, source RunningSource) Accountant {
	if mode == ModeQuery {
		q := &queryAccountant{node: node, source: source}
		q.total.Store(int64(total))
		return q
	}
	c := &counterAccountant{}
	c.total.Store(int64(total))
	return c
}

// counterAccountant mirrors the Python original's self._used_cpus field.
type counterAccountant struct {
	total atomic.Int64
	used  atomic.Int64
}

func (c *counterAccountant) Reserve(ncpus int) { c.used.Add(int64(ncpus)) }
func (c *counterAccountant) Release(ncpus int) { c.used.Add(-int64(ncpus)) }

func (c *counterAccountant) Free(context.Context) (int, error) {
	free := c.total.Load() - c.used.Load()
	if free < 0 {
		free = 0
	}
	return int(free), nil
}

func (c *counterAccountant) Total() int    { return int(c.total.Load()) }
func (c *counterAccountant) SetTotal(n int) { c.total.Store(int64(n)) }

// queryAccountant recomputes used CPUs from the job store every call.
type queryAccountant struct {
	total  atomic.Int64
	node   string
	source RunningSource
}

func (q *queryAccountant) Reserve(int) {} // row update already reflects this
func (q *queryAccountant) Release(int) {}

func (q *queryAccountant) Free(ctx context.Context) (int, error) {
	used, err := q.source.RunningOnNode(ctx, q.node)
	if err != nil {
		return 0, err
	}
	free := int(q.total.Load()) - used
	if free < 0 {
		free = 0
	}
	return free, nil
}

func (q *queryAccountant) Total() int    { return int(q.total.Load()) }
func (q *queryAccountant) SetTotal(n int) { q.total.Store(int64(n)) }
