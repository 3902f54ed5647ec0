package pipeline

import (
	"context"
	"sync"
)

// RunRegistry tracks task runs in flight. It is the duplicate-run
// guard: Begin admits exactly one caller per task id until End, and
// carries the cooperative cancellation flag the phase loop polls
// between phases.
//
// The registry is constructed per orchestrator rather than held in
// package state so tests get fresh guards.
type RunRegistry struct {
	mu      sync.Mutex
	running map[string]*runFlags
	waiters []chan struct{}
}

type runFlags struct {
	cancelled bool
}

// NewRunRegistry returns an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{running: make(map[string]*runFlags)}
}

// Begin registers a run for id. It returns false when a run for the
// same id is already in flight.
func (r *RunRegistry) Begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[id]; exists {
		return false
	}
	r.running[id] = &runFlags{}
	return true
}

// End releases the run for id, waking drainers when it was the last
// one in flight. Safe to call for ids never begun.
func (r *RunRegistry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
	if len(r.running) == 0 {
		for _, ch := range r.waiters {
			close(ch)
		}
		r.waiters = nil
	}
}

// Drain blocks until no runs are in flight or ctx expires. Runs
// admitted while draining extend the wait.
func (r *RunRegistry) Drain(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.running) == 0 {
			r.mu.Unlock()
			return nil
		}
		empty := make(chan struct{})
		r.waiters = append(r.waiters, empty)
		r.mu.Unlock()

		select {
		case <-empty:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cancel flags an in-flight run for cancellation. It reports whether
// a run was found; the flag is advisory and takes effect at the next
// phase boundary.
func (r *RunRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	flags, ok := r.running[id]
	if !ok {
		return false
	}
	flags.cancelled = true
	return true
}

// Cancelled reports whether the run for id was flagged.
func (r *RunRegistry) Cancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	flags, ok := r.running[id]
	return ok && flags.cancelled
}

// Running reports whether a run for id is in flight.
func (r *RunRegistry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// RunningIDs returns the ids currently in flight.
func (r *RunRegistry) RunningIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}
