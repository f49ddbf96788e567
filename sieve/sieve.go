// Package sieve implements the backward block traversal described in
// spec.md §4.1: given a connector that can fetch the current tip and walk
// parent hashes, it streams back every block that could contain a
// transaction relevant to a swap, tolerating reorgs and gaps, and exposes a
// watch operator that resolves on the first transaction matching a
// predicate.
//
// The traversal is expressed as a producer goroutine feeding a channel
// (spec.md §9 "Design Notes" explicitly allows this in place of a
// generator), mirroring the *Event channel pattern lnd's chainntnfs package
// uses for block-epoch and confirmation notifications.
package sieve

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/decred/dcrd/lru"
)

// BlockHash is a 32-byte block identifier, shared by every ledger this
// package watches.
type BlockHash [32]byte

func (h BlockHash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Block is the minimal shape the sieve needs from a ledger's native block
// type.
type Block[Tx any] interface {
	Hash() BlockHash
	ParentHash() BlockHash
	Timestamp() time.Time
	Transactions() []Tx
}

// Connector is the minimal shape the sieve needs from a chain backend.
// Ledger packages wrap their real JSON-RPC client to satisfy this.
type Connector[B any] interface {
	LatestBlock(ctx context.Context) (B, error)
	BlockByHash(ctx context.Context, hash BlockHash) (B, error)
}

// Predicate inspects a single transaction and, if relevant, returns the
// decoded match. Predicates must be pure and side-effect-free (spec.md
// §4.1).
type Predicate[Tx any, M any] func(tx Tx) (M, bool)

// Sieve streams blocks backwards from the current tip of a chain until a
// start-of-swap timestamp is reached, re-walking from the tip on every
// poll so that a reorg shorter than the traversal window is never missed.
type Sieve[B Block[Tx], Tx any] struct {
	connector    Connector[B]
	startOfSwap  time.Time
	pollInterval time.Duration
	log          btclog.Logger

	seen *lru.Map
}

// DefaultSeenCapacity bounds the memory used to track walked block hashes.
// Spec.md §4.1 only requires pruning by start_of_swap age; capping by count
// is the simpler, equally sufficient bound lnd's own cache front-ends use.
const DefaultSeenCapacity = 10_000

// New constructs a Sieve bound to a single connector and swap start time.
func New[B Block[Tx], Tx any](connector Connector[B], startOfSwap time.Time,
	pollInterval time.Duration, log btclog.Logger) *Sieve[B, Tx] {

	return &Sieve[B, Tx]{
		connector:    connector,
		startOfSwap:  startOfSwap,
		pollInterval: pollInterval,
		log:          log,
		seen:         lru.NewMap(DefaultSeenCapacity),
	}
}

// Blocks returns a channel of blocks that could contain a transaction
// relevant to a swap starting at startOfSwap. The channel is closed when
// ctx is cancelled; callers must drain it (or cancel ctx) to release the
// producer goroutine.
func (s *Sieve[B, Tx]) Blocks(ctx context.Context) <-chan B {
	out := make(chan B)
	go s.run(ctx, out)
	return out
}

func (s *Sieve[B, Tx]) run(ctx context.Context, out chan<- B) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}

		tip, err := s.connector.LatestBlock(ctx)
		if err != nil {
			s.log.Warnf("sieve: latest block fetch failed: %v", err)
			if !sleepCtx(ctx, s.pollInterval) {
				return
			}
			continue
		}

		tipHash := tip.Hash()
		if s.seen.Contains(tipHash) {
			// Tip hasn't advanced; nothing new to walk.
			if !sleepCtx(ctx, s.pollInterval) {
				return
			}
			continue
		}

		if !s.walkAndEmit(ctx, tip, out) {
			return
		}

		if !sleepCtx(ctx, s.pollInterval) {
			return
		}
	}
}

// walkAndEmit yields tip and its ancestors, oldest boundary first reached,
// stopping at a block predating startOfSwap or at a parent already in the
// known frontier. Returns false if the caller should stop entirely (ctx
// cancelled mid-emit).
func (s *Sieve[B, Tx]) walkAndEmit(ctx context.Context, tip B, out chan<- B) bool {
	block := tip

	for {
		hash := block.Hash()

		select {
		case out <- block:
		case <-ctx.Done():
			return false
		}
		s.seen.Add(hash)

		if block.Timestamp().Before(s.startOfSwap) {
			return true
		}

		parentHash := block.ParentHash()
		if s.seen.Contains(parentHash) {
			return true
		}

		parent, err := s.connector.BlockByHash(ctx, parentHash)
		if err != nil {
			// Missing ancestor: stop walking this tip, resume from
			// the (possibly advanced) tip on the next poll rather
			// than blocking forever on a gap.
			s.log.Warnf("sieve: ancestor %v fetch failed: %v",
				parentHash, err)
			return true
		}
		block = parent
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Match is returned by Watch: the transaction that satisfied the predicate
// and the value the predicate decoded from it.
type Match[Tx any, M any] struct {
	Tx    Tx
	Value M
}

// Watch iterates s, evaluating predicate against every transaction of
// every yielded block, and returns the first match. It blocks until a
// match is found or ctx is cancelled.
func Watch[B Block[Tx], Tx any, M any](ctx context.Context, s *Sieve[B, Tx],
	predicate Predicate[Tx, M]) (Match[Tx, M], error) {

	for block := range s.Blocks(ctx) {
		for _, tx := range block.Transactions() {
			if value, ok := predicate(tx); ok {
				return Match[Tx, M]{Tx: tx, Value: value}, nil
			}
		}
	}

	var zero Match[Tx, M]
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("sieve: block stream ended without a match")
}
