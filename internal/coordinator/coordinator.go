// Package coordinator implements the worker-side write coordinator: the
// client-facing PUT protocol — local store if the
// coordinator is itself a replica, synchronous quorum fan-out to peers,
// and a detached best-effort fan-out to the remaining replicas once
// quorum is reached.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kvshard/internal/store"
)

// ErrControllerUnavailable is returned when the coordinator cannot
// reach the controller's mapping endpoint.
var ErrControllerUnavailable = errors.New("coordinator: controller unavailable")

// ErrQuorumUnreached is returned when the retry budget is exhausted
// without WRITE_QUORUM acknowledgements.
var ErrQuorumUnreached = errors.New("coordinator: write quorum not reached")

// ControllerClient is the coordinator's view of the controller: resolve
// a key's replica set.
type ControllerClient interface {
	Mapping(ctx context.Context, key string) (replicas []string, err error)
}

// PeerClient sends a replicate request to one peer worker.
type PeerClient interface {
	Replicate(ctx context.Context, addr, key, value string) error
}

// Config holds the coordinator's tunables.
type Config struct {
	SelfAddress    string
	WriteQuorum    int
	MaxRetries     int           // default 5
	Backoff        time.Duration // default 300ms
	RequestTimeout time.Duration // default 2s
	FanoutLimit    int           // bounded concurrency for background fan-out
}

// Coordinator implements the PUT protocol for one worker.
type Coordinator struct {
	cfg        Config
	store      *store.Store
	controller ControllerClient
	peers      PeerClient
}

// New builds a Coordinator.
func New(cfg Config, s *store.Store, controller ControllerClient, peers PeerClient) *Coordinator {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 300 * time.Millisecond
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if cfg.FanoutLimit == 0 {
		cfg.FanoutLimit = 8
	}
	return &Coordinator{cfg: cfg, store: s, controller: controller, peers: peers}
}

func normalize(addr string) string {
	return strings.TrimRight(addr, "/")
}

// Put runs the full write protocol and returns the number of distinct
// replicas (including the coordinator itself, if it is a replica) that
// acknowledged the write.
func (c *Coordinator) Put(ctx context.Context, key, value string) (acks int, err error) {
	replicas, err := c.controller.Mapping(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrControllerUnavailable, err)
	}

	self := normalize(c.cfg.SelfAddress)
	attempted := make(map[string]bool)

	isReplica := false
	for _, addr := range replicas {
		if normalize(addr) == self {
			isReplica = true
			break
		}
	}

	if isReplica {
		if err := c.store.Put(key, value); err != nil {
			return 0, fmt.Errorf("local write: %w", err)
		}
		acks = 1
		attempted[self] = true
	}

	controllerRetries := 0
	for acks < c.cfg.WriteQuorum {
		candidates := make([]string, 0, len(replicas))
		seen := make(map[string]bool)
		for _, addr := range replicas {
			a := normalize(addr)
			if a == self || attempted[a] || seen[a] {
				continue
			}
			seen[a] = true
			candidates = append(candidates, a)
		}

		if len(candidates) == 0 {
			controllerRetries++
			if controllerRetries > c.cfg.MaxRetries {
				break
			}
			time.Sleep(c.cfg.Backoff)
			// Membership may have changed — re-query the mapping.
			newReplicas, mapErr := c.controller.Mapping(ctx, key)
			if mapErr == nil {
				replicas = newReplicas
			}
			continue
		}

		rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

		anySuccess := false
		for _, addr := range candidates {
			if acks >= c.cfg.WriteQuorum {
				break
			}
			attempted[addr] = true
			rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
			err := c.peers.Replicate(rctx, addr, key, value)
			cancel()
			if err == nil {
				acks++
				anySuccess = true
			}
		}

		if !anySuccess {
			controllerRetries++
			if controllerRetries > c.cfg.MaxRetries {
				break
			}
			time.Sleep(c.cfg.Backoff)
		}
	}

	if acks < c.cfg.WriteQuorum {
		return acks, ErrQuorumUnreached
	}

	c.backgroundFanout(key, value, replicas, attempted, self)
	return acks, nil
}

// backgroundFanout best-effort replicates to every replica not already
// attempted, detached from the request — it neither blocks the caller
// nor is cancelled by the request's context.
func (c *Coordinator) backgroundFanout(key, value string, replicas []string, attempted map[string]bool, self string) {
	remaining := make([]string, 0, len(replicas))
	seen := make(map[string]bool)
	for _, addr := range replicas {
		a := normalize(addr)
		if a == self || attempted[a] || seen[a] {
			continue
		}
		seen[a] = true
		remaining = append(remaining, a)
	}
	if len(remaining) == 0 {
		return
	}

	go func() {
		g, ctx := errgroup.WithContext(context.Background())
		g.SetLimit(c.cfg.FanoutLimit)
		var mu sync.Mutex
		for _, addr := range remaining {
			addr := addr
			g.Go(func() error {
				rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
				defer cancel()
				if err := c.peers.Replicate(rctx, addr, key, value); err != nil {
					mu.Lock()
					log.Printf("coordinator: background replicate to %s failed: %v", addr, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}
