// Package swapfsm implements the per-side protocol state machine of
// spec.md §4.4 (component C4): Started → Deployed? → Funded →
// race(Redeemed, Refunded). It is ledger-agnostic — per spec.md §9
// "Polymorphism over ledgers" it dispatches against a capability
// interface rather than inheriting from a concrete chain implementation,
// so the same RunToFunded and RaceRedeemRefund drive both the Bitcoin and
// Ethereum HTLC observers.
package swapfsm

import (
	"context"
	"fmt"
	"time"

	"github.com/atomicswap/swapd/swapdomain"
)

// State names the protocol state machine's position for one side of a
// swap.
type State uint8

const (
	StateStarted State = iota
	StateDeployed
	StateFunded
	StateRedeemed
	StateRefunded
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "Started"
	case StateDeployed:
		return "Deployed"
	case StateFunded:
		return "Funded"
	case StateRedeemed:
		return "Redeemed"
	case StateRefunded:
		return "Refunded"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Watcher is the capability set a ledger package must expose for its HTLC
// to be driven by this state machine. HasDeploy reports whether the
// underlying ledger has a separate deploy phase (true for Ethereum HTLCs,
// false for Bitcoin, which are born funded per spec.md §4.3).
type Watcher interface {
	HasDeploy() bool
	WaitForDeployed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error)
	WaitForFunded(ctx context.Context, params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error)
	WaitForRedeemed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error)
	WaitForRefunded(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error)
}

// Sink receives each ProtocolEvent as the machine advances, so the caller
// (the executor, C5) can persist it via the event store before reacting.
// Implementations must be idempotent: RunToFunded may re-emit an event the caller
// already has on resumption after a crash, relying on the sink (backed by
// swapdb's save) to no-op on a duplicate.
type Sink func(event swapdomain.ProtocolEvent) error

// RunToFunded drives a side from Started through Deployed (if applicable)
// to Funded, emitting each event to sink as it is observed. It does not
// run the redeem/refund race; callers that need to react to funding
// before racing call this first and race afterwards, either with
// RaceRedeemRefund or, as swapexec's RunBob does, with their own race
// (raceRedeemOrExpire, which races the redeem watch against the expiry).
func RunToFunded(ctx context.Context, w Watcher, params swapdomain.HtlcParams,
	pollInterval time.Duration, sink Sink) (swapdomain.ProtocolEvent, error) {

	if w.HasDeploy() {
		deployed, err := w.WaitForDeployed(ctx, params.StartOfSwap, pollInterval)
		if err != nil {
			return swapdomain.ProtocolEvent{}, fmt.Errorf("swapfsm: wait for deployed: %w", err)
		}
		if err := sink(deployed); err != nil {
			return swapdomain.ProtocolEvent{}, fmt.Errorf("swapfsm: persist deployed: %w", err)
		}
	}

	funded, err := w.WaitForFunded(ctx, params, pollInterval)
	if err != nil {
		return swapdomain.ProtocolEvent{}, fmt.Errorf("swapfsm: wait for funded: %w", err)
	}
	if err := sink(funded); err != nil {
		return swapdomain.ProtocolEvent{}, fmt.Errorf("swapfsm: persist funded: %w", err)
	}
	return funded, nil
}

// RaceRedeemRefund runs wait_for_redeemed and wait_for_refunded
// concurrently and returns the event produced by whichever resolves
// first (spec.md §4.4 "the race is exclusive"). The loser's context is
// cancelled so it releases its connector handles before RaceRedeemRefund
// returns (spec.md §4.4 "cancellation is cooperative").
func RaceRedeemRefund(ctx context.Context, w Watcher, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		event swapdomain.ProtocolEvent
		err   error
	}

	redeemed := make(chan result, 1)
	refunded := make(chan result, 1)

	go func() {
		e, err := w.WaitForRedeemed(raceCtx, startOfSwap, pollInterval)
		redeemed <- result{e, err}
	}()
	go func() {
		e, err := w.WaitForRefunded(raceCtx, startOfSwap, pollInterval)
		refunded <- result{e, err}
	}()

	select {
	case r := <-redeemed:
		cancel()
		<-refunded
		return r.event, r.err
	case r := <-refunded:
		cancel()
		<-redeemed
		return r.event, r.err
	case <-ctx.Done():
		<-redeemed
		<-refunded
		return swapdomain.ProtocolEvent{}, ctx.Err()
	}
}
