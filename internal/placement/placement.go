// Package placement implements the cluster's key routing rule: given a
// key and an ordered snapshot of live workers, deterministically pick
// the ordered replica set responsible for that key.
//
// The function here is pure — it never touches the registry, a clock,
// or the network. Every caller (the controller's membership registry,
// the repair engine) feeds it a snapshot it already holds.
package placement

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"sort"
)

// ErrNoWorkers is returned when the snapshot is empty.
var ErrNoWorkers = errors.New("placement: no available workers")

// Member is one entry of a membership snapshot: a worker id paired with
// its advertised address.
type Member struct {
	ID      string
	Address string
}

// Snapshot is an immutable, ordered capture of the membership registry.
// Ordering is ascending by ID — callers must sort before calling Place
// if the source isn't already sorted (Sort does this in place).
type Snapshot []Member

// Sort orders the snapshot ascending by ID, as required by Place.
func (s Snapshot) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

// Place returns the ordered replica list of size min(r, len(snapshot))
// for key, starting at the primary index and walking the ring formed by
// the snapshot's id order. The first element is the primary; the rest
// are secondary replicas in ring order.
func Place(key string, snapshot Snapshot, r int) ([]Member, error) {
	n := len(snapshot)
	if n == 0 {
		return nil, ErrNoWorkers
	}

	primary := primaryIndex(key, n)
	size := r
	if size > n {
		size = n
	}

	out := make([]Member, size)
	for i := 0; i < size; i++ {
		out[i] = snapshot[(primary+i)%n]
	}
	return out, nil
}

// primaryIndex hashes key with SHA-256, interprets the digest as a
// big-endian unsigned integer, and reduces it mod n.
func primaryIndex(key string, n int) int {
	sum := sha256.Sum256([]byte(key))
	h := new(big.Int).SetBytes(sum[:])
	mod := big.NewInt(int64(n))
	idx := new(big.Int).Mod(h, mod)
	return int(idx.Int64())
}
