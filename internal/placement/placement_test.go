package placement

import (
	"crypto/sha256"
	"math/big"
	"testing"
)

func snap(ids ...string) Snapshot {
	s := make(Snapshot, len(ids))
	for i, id := range ids {
		s[i] = Member{ID: id, Address: "addr-" + id}
	}
	s.Sort()
	return s
}

func TestPlaceDeterministic(t *testing.T) {
	s := snap("w3", "w1", "w2", "w0")
	first, err := Place("foo", s, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Place("foo", s, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("length mismatch between repeated calls")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replica %d differs between repeated calls: %v != %v", i, first[i], second[i])
		}
	}
}

func TestPlaceEmptySnapshot(t *testing.T) {
	_, err := Place("foo", nil, 3)
	if err != ErrNoWorkers {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

func TestPlaceSizeCapsAtN(t *testing.T) {
	s := snap("w0", "w1")
	out, err := Place("foo", s, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 replicas when n=2 < R=3, got %d", len(out))
	}
}

func TestPlaceStartsAtHashModN(t *testing.T) {
	// snapshot ids ascending: w0 < w1 < w2 < w3
	s := snap("w0", "w1", "w2", "w3")
	key := "foo"

	sum := sha256.Sum256([]byte(key))
	h := new(big.Int).SetBytes(sum[:])
	idx := new(big.Int).Mod(h, big.NewInt(4)).Int64()

	out, err := Place(key, s, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ID != s[idx].ID {
		t.Fatalf("expected primary %s at index %d, got %s", s[idx].ID, idx, out[0].ID)
	}
	for i := 1; i < len(out); i++ {
		want := s[(int(idx)+i)%4].ID
		if out[i].ID != want {
			t.Fatalf("replica %d: expected %s, got %s", i, want, out[i].ID)
		}
	}
}

func TestPlaceNoDuplicateAddresses(t *testing.T) {
	s := snap("a", "b", "c", "d", "e")
	out, err := Place("some-key", s, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[string]bool)
	for _, m := range out {
		if seen[m.Address] {
			t.Fatalf("duplicate address %s in replica list", m.Address)
		}
		seen[m.Address] = true
	}
}

func TestPlaceStabilitySweep(t *testing.T) {
	// Adding a worker should not remap every key — sanity, not a strict bound.
	// With hash-mod-n placement a primary stays put on a 4->5 join only when
	// h mod 4 == h mod 5, i.e. h mod 20 < 4, so about 80% of primaries move.
	before := snap("w0", "w1", "w2", "w3")
	after := snap("w0", "w1", "w2", "w3", "w4")

	changed := 0
	const total = 500
	for i := 0; i < total; i++ {
		key := randKey(i)
		b, err := Place(key, before, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		a, err := Place(key, after, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b[0].ID != a[0].ID {
			changed++
		}
	}
	frac := float64(changed) / float64(total)
	if frac > 0.9 {
		t.Fatalf("primary replica churn too high on single join: %.2f", frac)
	}
}

func randKey(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	n := i + 1
	for j := range b {
		b[j] = alphabet[n%len(alphabet)]
		n /= len(alphabet)
		n += i * 7
	}
	return string(b)
}
