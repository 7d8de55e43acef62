// Package registry implements the provider's target registry (§3
// "Provider (in memory)", §5 "Registry rwlock"): an in-process map from
// target id to attached target, read-locked by every per-region
// operation and write-locked only by attach/detach and target migration.
package registry

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/bake-hpc/bake"
)

// Target is the in-memory record for one attached target (§3 "Target
// (in memory, per attached target)"): its id, which backend owns it, and
// the backend context itself.
type Target struct {
	ID      bake.TargetID
	Tag     bake.BackendTag
	Backend bake.Backend
}

// Registry owns the provider's attached-target map behind a single
// sync.RWMutex, per §5: read-locked for the duration of every per-region
// operation, write-locked only by attach, detach, and migrate_target.
type Registry struct {
	mu      sync.RWMutex
	targets map[bake.TargetID]*Target
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{targets: make(map[bake.TargetID]*Target)}
}

// Add attaches t, failing with Exist if the id is already registered.
func (r *Registry) Add(t *Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[t.ID]; ok {
		return bake.NewError(bake.Exist, fmt.Errorf("target %s already attached", t.ID))
	}
	r.targets[t.ID] = t
	return nil
}

// Lookup acquires the read lock, finds the target, and returns it still
// holding the lock; callers must call Unlock when done with the target,
// matching the dispatch sequence in §4.6 ("acquires read lock...
// releases the lock, responds"). Returns UnknownTarget and releases the
// lock itself if id is not attached.
func (r *Registry) Lookup(id bake.TargetID) (*Target, error) {
	r.mu.RLock()
	t, ok := r.targets[id]
	if !ok {
		r.mu.RUnlock()
		return nil, bake.NewError(bake.UnknownTarget, fmt.Errorf("target %s not attached", id))
	}
	return t, nil
}

// Unlock releases the read lock taken by a successful Lookup.
func (r *Registry) Unlock() {
	r.mu.RUnlock()
}

// Remove detaches id under the write lock, returning the removed Target
// so the caller can finalize its backend outside the lock. Detach does
// not itself call Finalize: see Provider.Detach.
func (r *Registry) Remove(id bake.TargetID) (*Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		return nil, bake.NewError(bake.UnknownTarget, fmt.Errorf("target %s not attached", id))
	}
	delete(r.targets, id)
	return t, nil
}

// List returns up to maxTargets attached target ids, the probe endpoint
// of §6 ("returns the current set of target ids without needing a
// specific target"). maxTargets == 0 means unbounded.
func (r *Registry) List(maxTargets uint64) []bake.TargetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]bake.TargetID, 0, len(r.targets))
	for id := range r.targets {
		if maxTargets != 0 && uint64(len(ids)) >= maxTargets {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

// FinalizeAll detaches and finalizes every attached target's backend
// exactly once, per SUPPLEMENTED FEATURES #2 (provider deregistration).
// It is idempotent: calling it again on an already-drained registry is a
// no-op, matching §4.6's "Deregister is idempotent with respect to
// already-detached targets."
func (r *Registry) FinalizeAll(ctx context.Context) error {
	r.mu.Lock()
	targets := r.targets
	r.targets = make(map[bake.TargetID]*Target)
	r.mu.Unlock()

	var firstErr error
	for id, t := range targets {
		if err := t.Backend.Finalize(ctx); err != nil {
			log.Warn("registry: backend finalize failed", "target", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
