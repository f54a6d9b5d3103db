// Package membership maintains the controller's worker registry: the
// authoritative source of liveness, and the failure detector that scans
// it for workers that have stopped heartbeating.
//
// All mutable state lives behind a single mutex — reads and writes are
// serialized, and snapshots handed to callers are deep copies taken
// under the lock and released before any outbound work.
package membership

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"kvshard/internal/placement"
)

// record is the controller's internal bookkeeping for one worker.
type record struct {
	address  string
	lastSeen time.Time
}

// Registry is the controller's worker table: id -> (address, last_seen).
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*record

	// fallback seeds the registry from a CSV of addresses if the registry
	// is empty on the first Mapping call; it is cleared after that call.
	fallback []string
}

// New creates an empty Registry. fallback is the WORKERS env-var CSV
// (may be nil/empty) used only to seed the registry on the first Mapping
// call, and only if no worker is registered at that point.
func New(fallback []string) *Registry {
	return &Registry{
		workers:  make(map[string]*record),
		fallback: fallback,
	}
}

// Heartbeat upserts (id, address) with last_seen = now. Always succeeds.
// A heartbeat for an id already registered under a different address
// overwrites the address — the most recent heartbeat wins.
func (r *Registry) Heartbeat(id, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = &record{address: address, lastSeen: time.Now()}
}

// List returns the current id -> address table.
func (r *Registry) List() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.workers))
	for id, rec := range r.workers {
		out[id] = rec.address
	}
	return out
}

// snapshotLocked builds an ordered placement.Snapshot from the current
// registry state. Caller must hold r.mu.
func (r *Registry) snapshotLocked() placement.Snapshot {
	s := make(placement.Snapshot, 0, len(r.workers))
	for id, rec := range r.workers {
		s = append(s, placement.Member{ID: id, Address: rec.address})
	}
	s.Sort()
	return s
}

// seedFallbackLocked populates the registry from the fallback address
// list if it is empty on the first Mapping call; later calls never seed.
// Seeded entries get last_seen = now so the failure detector will clear
// them if no real worker ever claims those ids.
func (r *Registry) seedFallbackLocked() {
	fallback := r.fallback
	r.fallback = nil
	if len(r.workers) != 0 || len(fallback) == 0 {
		return
	}
	now := time.Now()
	for i, addr := range fallback {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		id := syntheticID(i)
		r.workers[id] = &record{address: addr, lastSeen: now}
	}
}

// syntheticID mirrors original_source's f"w{i}" naming for fallback-seeded entries.
func syntheticID(i int) string {
	return "w" + strconv.Itoa(i)
}

// Mapping returns the ordered replica list for key using the current
// live snapshot, seeding from the fallback list first if the registry
// is empty. Returns placement.ErrNoWorkers if the (possibly seeded)
// registry is still empty.
func (r *Registry) Mapping(key string, replicas int) (primary string, addrs []string, err error) {
	r.mu.Lock()
	r.seedFallbackLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	members, err := placement.Place(key, snap, replicas)
	if err != nil {
		return "", nil, err
	}

	addrs = make([]string, len(members))
	for i, m := range members {
		addrs[i] = m.Address
	}
	return addrs[0], addrs, nil
}

// Remove deletes id from the registry. Used by the failure detector
// after it has captured a pre-removal snapshot for repair.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Snapshot returns a deep copy of the current id->address table. It is
// the pre-removal snapshot the failure detector hands to the repair
// engine; last_seen is not included.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.workers))
	for id, rec := range r.workers {
		out[id] = rec.address
	}
	return out
}

// StaleSince returns the ids whose last_seen is older than cutoff,
// excluding any id in skip. Used by the failure detector.
func (r *Registry) StaleSince(cutoff time.Time, skip map[string]bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []string
	for id, rec := range r.workers {
		if skip[id] {
			continue
		}
		if rec.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Count returns the number of workers currently registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
