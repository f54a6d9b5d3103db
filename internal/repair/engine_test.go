package repair

import (
	"context"
	"sort"
	"sync"
	"testing"

	"kvshard/internal/placement"
)

// fakeClient is an in-memory WorkerClient used to drive the repair
// engine without real HTTP — mirrors how store/keys are laid out across
// workers by address.
type fakeClient struct {
	mu    sync.Mutex
	store map[string]map[string]string // addr -> key -> value
	pulls []pullCall
}

type pullCall struct {
	target, source, key string
}

func newFakeClient(layout map[string]map[string]string) *fakeClient {
	return &fakeClient{store: layout}
}

func (f *fakeClient) ListKeys(ctx context.Context, addr string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.store[addr] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeClient) Probe(ctx context.Context, addr, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.store[addr][key]
	return ok
}

func (f *fakeClient) Pull(ctx context.Context, target, source string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, pullCall{target: target, source: source, key: keys[0]})
	if f.store[target] == nil {
		f.store[target] = make(map[string]string)
	}
	if v, ok := f.store[source][keys[0]]; ok {
		f.store[target][keys[0]] = v
	}
	return nil
}

// Build a 4-node cluster w0..w3 at addr0..addr3, find a key whose
// pre-failure replica set of size 3 includes the failed node, and
// assert repair restores R replicas among the 3 survivors.
func TestRepairRestoresReplica(t *testing.T) {
	snapshot := map[string]string{
		"w0": "addr0", "w1": "addr1", "w2": "addr2", "w3": "addr3",
	}

	// Find a key placed on w1 (the node we'll fail) among its 3 replicas.
	key := findKeyWithReplica(t, snapshot, "w1", 3)

	layout := map[string]map[string]string{
		"addr0": {}, "addr1": {key: "v1"}, "addr2": {key: "v1"}, "addr3": {},
	}
	client := newFakeClient(layout)
	engine := NewEngine(client, 3)

	engine.Repair(context.Background(), "w1", snapshot)

	count := 0
	for _, addr := range []string{"addr0", "addr2", "addr3"} {
		if _, ok := client.store[addr][key]; ok {
			count++
		}
	}
	if count < 3 {
		t.Fatalf("expected key present on all 3 survivors after repair, got %d: %+v", count, client.store)
	}
}

func TestRepairSkipsUnaffectedKeys(t *testing.T) {
	snapshot := map[string]string{
		"w0": "addr0", "w1": "addr1", "w2": "addr2", "w3": "addr3",
	}
	// A key whose replica set does NOT include w1 should be untouched.
	key := findKeyWithoutReplica(t, snapshot, "w1", 3)

	layout := map[string]map[string]string{
		"addr0": {}, "addr1": {}, "addr2": {key: "v1"}, "addr3": {key: "v1"},
	}
	client := newFakeClient(layout)
	engine := NewEngine(client, 3)

	engine.Repair(context.Background(), "w1", snapshot)

	if len(client.pulls) != 0 {
		t.Fatalf("expected no pulls for a key unaffected by w1's failure, got %+v", client.pulls)
	}
}

func TestRepairIdempotent(t *testing.T) {
	snapshot := map[string]string{
		"w0": "addr0", "w1": "addr1", "w2": "addr2", "w3": "addr3",
	}
	key := findKeyWithReplica(t, snapshot, "w1", 3)

	layout := map[string]map[string]string{
		"addr0": {}, "addr1": {key: "v1"}, "addr2": {key: "v1"}, "addr3": {},
	}
	client := newFakeClient(layout)
	engine := NewEngine(client, 3)

	engine.Repair(context.Background(), "w1", snapshot)
	first := snapshotKeys(client.store)

	engine.Repair(context.Background(), "w1", snapshot)
	second := snapshotKeys(client.store)

	if len(first) != len(second) {
		t.Fatalf("repair is not idempotent: %v != %v", first, second)
	}
	for addr, keys := range first {
		if len(keys) != len(second[addr]) {
			t.Fatalf("repair is not idempotent at %s: %v != %v", addr, keys, second[addr])
		}
	}
}

func snapshotKeys(store map[string]map[string]string) map[string][]string {
	out := make(map[string][]string, len(store))
	for addr, kv := range store {
		for k := range kv {
			out[addr] = append(out[addr], k)
		}
	}
	return out
}

func findKeyWithReplica(t *testing.T, snapshot map[string]string, wantID string, r int) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		key := randKey(i)
		if hasReplica(t, key, snapshot, r, wantID) {
			return key
		}
	}
	t.Fatalf("could not find a key placed on %s within search budget", wantID)
	return ""
}

func findKeyWithoutReplica(t *testing.T, snapshot map[string]string, avoidID string, r int) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		key := randKey(i)
		if !hasReplica(t, key, snapshot, r, avoidID) {
			return key
		}
	}
	t.Fatalf("could not find a key NOT placed on %s within search budget", avoidID)
	return ""
}

func hasReplica(t *testing.T, key string, snapshot map[string]string, r int, id string) bool {
	t.Helper()

	ids := make([]string, 0, len(snapshot))
	for wid := range snapshot {
		ids = append(ids, wid)
	}
	sort.Strings(ids)

	snap := make(placement.Snapshot, 0, len(ids))
	for _, wid := range ids {
		snap = append(snap, placement.Member{ID: wid, Address: snapshot[wid]})
	}
	snap.Sort()

	replicas, err := placement.Place(key, snap, r)
	if err != nil {
		t.Fatalf("placement error: %v", err)
	}
	for _, m := range replicas {
		if m.Address == snapshot[id] {
			return true
		}
	}
	return false
}

func randKey(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 10)
	n := i + 1
	for j := range b {
		b[j] = alphabet[n%len(alphabet)]
		n /= len(alphabet)
		n += i*7 + 3
	}
	return string(b)
}
