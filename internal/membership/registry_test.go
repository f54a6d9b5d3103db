package membership

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"kvshard/internal/placement"
)

func TestRegistryHeartbeatAndList(t *testing.T) {
	r := New(nil)
	r.Heartbeat("w0", "http://localhost:9000")
	r.Heartbeat("w1", "http://localhost:9001")

	got := r.List()
	want := map[string]string{"w0": "http://localhost:9000", "w1": "http://localhost:9001"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryHeartbeatOverwritesAddress(t *testing.T) {
	r := New(nil)
	r.Heartbeat("w0", "http://old")
	r.Heartbeat("w0", "http://new")

	got := r.List()
	if got["w0"] != "http://new" {
		t.Fatalf("expected most recent heartbeat address to win, got %s", got["w0"])
	}
}

func TestRegistryMappingNoWorkers(t *testing.T) {
	r := New(nil)
	_, _, err := r.Mapping("foo", 3)
	if err != placement.ErrNoWorkers {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

func TestRegistryMappingSeedsFallbackWhenEmpty(t *testing.T) {
	r := New([]string{"http://a", "http://b", "http://c"})

	primary, addrs, err := r.Mapping("foo", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary == "" {
		t.Fatalf("expected non-empty primary")
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 replicas, got %d", len(addrs))
	}
	if r.Count() != 3 {
		t.Fatalf("expected fallback to seed 3 workers, got %d", r.Count())
	}
}

func TestRegistryMappingPrefersRealHeartbeatsOverFallback(t *testing.T) {
	r := New([]string{"http://fallback-a", "http://fallback-b"})
	r.Heartbeat("real", "http://real")

	_, _, err := r.Mapping("foo", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A non-empty registry must never be seeded from fallback.
	if r.Count() != 1 {
		t.Fatalf("expected fallback seeding skipped, registry has %d workers", r.Count())
	}
}

func TestRegistryStaleSince(t *testing.T) {
	r := New(nil)
	r.Heartbeat("fresh", "http://fresh")

	r.mu.Lock()
	r.workers["stale"] = &record{address: "http://stale", lastSeen: time.Now().Add(-time.Hour)}
	r.mu.Unlock()

	stale := r.StaleSince(time.Now().Add(-time.Minute), nil)
	if len(stale) != 1 || stale[0] != "stale" {
		t.Fatalf("expected only 'stale' to be reported, got %v", stale)
	}
}

func TestRegistryStaleSinceSkipsDownSet(t *testing.T) {
	r := New(nil)
	r.mu.Lock()
	r.workers["stale"] = &record{address: "http://stale", lastSeen: time.Now().Add(-time.Hour)}
	r.mu.Unlock()

	stale := r.StaleSince(time.Now().Add(-time.Minute), map[string]bool{"stale": true})
	if len(stale) != 0 {
		t.Fatalf("expected skip set to suppress already-down worker, got %v", stale)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := New(nil)
	r.Heartbeat("w0", "http://w0")
	r.Remove("w0")
	if r.Count() != 0 {
		t.Fatalf("expected registry empty after Remove, got %d", r.Count())
	}
}

func TestRegistrySnapshotIsDeepCopy(t *testing.T) {
	r := New(nil)
	r.Heartbeat("w0", "http://w0")

	snap := r.Snapshot()
	r.Heartbeat("w0", "http://changed")

	if snap["w0"] != "http://w0" {
		t.Fatalf("expected snapshot to be unaffected by later heartbeats, got %s", snap["w0"])
	}
}
