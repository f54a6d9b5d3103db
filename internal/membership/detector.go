package membership

import (
	"context"
	"log"
	"sync"
	"time"
)

// Repairer is the subset of the repair engine the failure detector
// depends on. Kept as an interface so detector tests can supply a fake
// and so membership does not import repair (repair imports membership's
// exported types instead, avoiding an import cycle).
type Repairer interface {
	Repair(ctx context.Context, failedID string, snapshot map[string]string)
}

// Detector periodically scans a Registry for workers that have stopped
// heartbeating and, for each first-seen failure, snapshots the registry
// and triggers the repair engine asynchronously.
type Detector struct {
	registry         *Registry
	repairer         Repairer
	checkInterval    time.Duration
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	downSet map[string]bool
}

// NewDetector builds a Detector. downSet entries persist for the life of
// the process rather than pruning on
// worker return.
func NewDetector(registry *Registry, repairer Repairer, checkInterval, heartbeatTimeout time.Duration) *Detector {
	return &Detector{
		registry:         registry,
		repairer:         repairer,
		checkInterval:    checkInterval,
		heartbeatTimeout: heartbeatTimeout,
		downSet:          make(map[string]bool),
	}
}

// Run blocks, ticking every checkInterval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick runs a single detection pass. Run calls it on every tick; the
// package's tests call it directly.
func (d *Detector) tick() {
	cutoff := time.Now().Add(-d.heartbeatTimeout)

	d.mu.Lock()
	skip := make(map[string]bool, len(d.downSet))
	for id := range d.downSet {
		skip[id] = true
	}
	d.mu.Unlock()

	for _, id := range d.registry.StaleSince(cutoff, skip) {
		d.mu.Lock()
		if d.downSet[id] {
			d.mu.Unlock()
			continue
		}
		d.downSet[id] = true
		d.mu.Unlock()

		// Pre-removal snapshot: the repair engine must reconstruct
		// replica sets as they were at write time, which used the
		// full pre-failure membership size.
		snapshot := d.registry.Snapshot()
		log.Printf("membership: worker %s timed out, triggering repair", id)
		go d.repairer.Repair(context.Background(), id, snapshot)

		d.registry.Remove(id)
	}
}
