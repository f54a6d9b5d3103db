// Package repair implements the controller's re-replication pass: given
// a worker the failure detector just declared down and a pre-failure
// membership snapshot, it restores R replicas for every key that
// worker used to hold.
package repair

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"kvshard/internal/placement"
)

// WorkerClient is the controller's outbound view of a worker during
// repair: list its keys, probe directly for one key, or instruct it to
// pull keys from a peer. Implemented over HTTP in httpclient.go.
type WorkerClient interface {
	ListKeys(ctx context.Context, addr string) ([]string, error)
	Probe(ctx context.Context, addr, key string) bool
	Pull(ctx context.Context, target, source string, keys []string) error
}

// Engine runs repair passes. It holds no membership state of its own —
// every call is handed the pre-failure snapshot it needs.
type Engine struct {
	client   WorkerClient
	replicas int
}

// NewEngine builds a repair Engine. replicas is R, the cluster-wide
// replication factor.
func NewEngine(client WorkerClient, replicas int) *Engine {
	return &Engine{client: client, replicas: replicas}
}

// Repair runs one repair pass for failedID using the pre-failure
// snapshot (id -> address, including failedID itself). It is safe to
// call from a detached goroutine; all errors are logged and absorbed —
// the next failure-detection cycle or a subsequent write will re-expose
// any persistent gap.
func (e *Engine) Repair(ctx context.Context, failedID string, snapshot map[string]string) {
	failedAddr, ok := snapshot[failedID]
	if !ok {
		return
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	preFailure := make(placement.Snapshot, 0, len(ids))
	for _, id := range ids {
		preFailure = append(preFailure, placement.Member{ID: id, Address: snapshot[id]})
	}
	preFailure.Sort()
	n := len(preFailure)

	live := make([]string, 0, n-1)
	for _, id := range ids {
		if id == failedID {
			continue
		}
		live = append(live, snapshot[id])
	}
	if len(live) == 0 {
		return
	}

	unionKeys, reportedBy := e.discoverKeys(ctx, live)

	for key := range unionKeys {
		e.repairKey(ctx, key, preFailure, n, failedAddr, live, reportedBy)
	}
}

// discoverKeys lists keys from every live address concurrently (bounded
// fan-out via errgroup) and returns the union plus a per-address
// reverse index. A listing failure contributes no keys for that address
// but does not abort the pass — the address is still considered live
// for targeting.
func (e *Engine) discoverKeys(ctx context.Context, live []string) (map[string]bool, map[string]map[string]bool) {
	var mu sync.Mutex
	union := make(map[string]bool)
	reportedBy := make(map[string]map[string]bool, len(live))
	for _, addr := range live {
		reportedBy[addr] = make(map[string]bool)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, addr := range live {
		addr := addr
		g.Go(func() error {
			keys, err := e.client.ListKeys(gctx, addr)
			if err != nil {
				log.Printf("repair: list keys on %s failed: %v", addr, err)
				return nil
			}
			mu.Lock()
			for _, k := range keys {
				union[k] = true
				reportedBy[addr][k] = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // errors are already logged and swallowed inside each goroutine

	return union, reportedBy
}

// repairKey restores one key's replica set, if the failed worker was
// actually among its pre-failure replicas.
func (e *Engine) repairKey(
	ctx context.Context,
	key string,
	preFailure placement.Snapshot,
	n int,
	failedAddr string,
	live []string,
	reportedBy map[string]map[string]bool,
) {
	oldReplicas, err := placement.Place(key, preFailure, e.replicas)
	if err != nil {
		return
	}
	affected := false
	for _, m := range oldReplicas {
		if m.Address == failedAddr {
			affected = true
			break
		}
	}
	if !affected {
		return
	}

	have := make(map[string]bool)
	for _, addr := range live {
		if reportedBy[addr][key] {
			have[addr] = true
			continue
		}
		// Direct probe resolves the race where a replicate completed
		// after the key listing was taken.
		if e.client.Probe(ctx, addr, key) {
			have[addr] = true
		}
	}

	var source string
	if len(have) > 0 {
		candidates := make([]string, 0, len(have))
		for addr := range have {
			candidates = append(candidates, addr)
		}
		sort.Strings(candidates)
		source = candidates[rand.Intn(len(candidates))]
	} else {
		source = live[0]
	}

	// Pull onto live workers lacking the key, in live order, until R
	// copies exist; if every live worker already has it, nothing is pulled.
	need := e.replicas - len(have)
	for _, target := range live {
		if need <= 0 {
			break
		}
		if have[target] {
			continue
		}
		if err := e.client.Pull(ctx, target, source, []string{key}); err != nil {
			log.Printf("repair: pull %s onto %s from %s failed: %v", key, target, source, err)
		}
		need--
	}
}
