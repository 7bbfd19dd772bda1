package registry

import (
	"os/exec"
	"sync"
)

// Registry is the node-local table of live child processes, keyed by job
// id (spec.md §5 "process registry"). The Python original gets away
// without a lock because it runs on a single-threaded asyncio loop;
// supervisors here run as real goroutines, so this one is a genuine
// sync.Mutex-guarded map — a deliberate deviation forced by the
// concurrency model change (see DESIGN.md).
type Registry struct {
	mu    sync.Mutex
	procs map[int64]*exec.Cmd
}

func NewRegistry() *Registry {
	return &Registry{procs: map[int64]*exec.Cmd{}}
}

func (r *Registry) Insert(jobID int64, cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[jobID] = cmd
}

func (r *Registry) Delete(jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, jobID)
}

// Kill sends the subprocess a kill signal. It is idempotent and race-safe:
// calling it on an id that has already finished and left the registry is a
// silent no-op (spec.md §9).
func (r *Registry) Kill(jobID int64) (found bool) {
	r.mu.Lock()
	cmd, ok := r.procs[jobID]
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return false
	}
	_ = cmd.Process.Kill()
	return true
}

// Has reports whether jobID has a live entry — used by startup reconciliation.
func (r *Registry) Has(jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[jobID]
	return ok
}
