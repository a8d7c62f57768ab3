// Package state serializes work per device interface and remembers the last
// configuration applied to each one. The cache is a best-effort optimization:
// it starts empty on boot, so the first event per interface after a restart
// always applies.
package state

import (
	"sync"

	"ifsyncd/internal/ifname"
	"ifsyncd/internal/intent"
)

// Registry holds one entry per interface, created lazily and never evicted.
// Interfaces on managed devices are finite, so unbounded growth is acceptable.
type Registry struct {
	mu      sync.Mutex
	entries map[ifname.Ref]*entry
}

type entry struct {
	mu          sync.Mutex
	lastApplied *intent.DesiredState
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ifname.Ref]*entry)}
}

// Handle is a locked view of one interface's entry. Release must be called
// exactly once; all reads and writes of the last-applied state happen while
// the handle is held, which also serializes concurrent applies for the same
// interface.
type Handle struct {
	e *entry
}

// Acquire locks the entry for ref, creating it on first use. Events for
// distinct interfaces proceed in parallel; two events for the same interface
// block here until the earlier one releases.
func (r *Registry) Acquire(ref ifname.Ref) *Handle {
	r.mu.Lock()
	e, ok := r.entries[ref]
	if !ok {
		e = &entry{}
		r.entries[ref] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	return &Handle{e: e}
}

// Release unlocks the entry.
func (h *Handle) Release() {
	h.e.mu.Unlock()
}

// LastApplied returns the last successfully applied state, or nil when none
// is known (fresh process, or the interface has never been applied).
func (h *Handle) LastApplied() *intent.DesiredState {
	return h.e.lastApplied
}

// SetLastApplied records st as the last successfully applied state.
func (h *Handle) SetLastApplied(st intent.DesiredState) {
	h.e.lastApplied = &st
}

// Forget drops the cached state, used after a full interface teardown.
func (h *Handle) Forget() {
	h.e.lastApplied = nil
}

// Len reports how many interfaces the registry tracks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
