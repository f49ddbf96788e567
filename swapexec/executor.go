// Package swapexec implements the Swap Executor of spec.md §4.5
// (component C5): Alice/Bob role scripts composed from two swapfsm
// instances, issuing wallet actions at the right transitions and
// persisting every step through swapdb before reacting to it, so a
// crashed process replays instead of double-acting (spec.md §4.5
// "Resumability").
package swapexec

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/atomicswap/swapd/metrics"
	"github.com/atomicswap/swapd/swapdb"
	"github.com/atomicswap/swapd/swapdomain"
	"github.com/atomicswap/swapd/swapfsm"
	"github.com/atomicswap/swapd/walletops"
)

// Side bundles everything the executor needs to drive one leg of a swap:
// the ledger-agnostic watcher and the wallet that can act on it.
type Side struct {
	Watcher  swapfsm.Watcher
	Wallet   walletops.Wallet
	Location []byte
}

// Executor composes an alpha and a beta Side into the role script of
// spec.md §4.5.
type Executor struct {
	db           *swapdb.DB
	log          btclog.Logger
	safetyMargin time.Duration
	pollInterval time.Duration
	metrics      *metrics.Registry
}

// New constructs an Executor. pollInterval is passed through to every
// watcher; ledgers with different block times should each bind their own
// Executor instance or the caller should plumb per-side intervals via
// their Side's Watcher closures.
func New(db *swapdb.DB, log btclog.Logger, safetyMargin, pollInterval time.Duration) *Executor {
	return &Executor{db: db, log: log, safetyMargin: safetyMargin, pollInterval: pollInterval}
}

// WithMetrics attaches a metrics.Registry that abort() reports to. Metrics
// are optional: an Executor built via New alone runs with none attached
// and simply skips recording them.
func (e *Executor) WithMetrics(m *metrics.Registry) *Executor {
	e.metrics = m
	return e
}

// sink returns a swapfsm.Sink that persists to the event store under
// side, then logs. Save's idempotency (swapdb.DB.Save) is what makes
// replay after a crash safe to re-invoke.
func (e *Executor) sink(swapId swapdomain.SwapId, side swapdomain.Side) swapfsm.Sink {
	return func(event swapdomain.ProtocolEvent) error {
		if err := e.db.Save(swapId, side, event); err != nil {
			return fmt.Errorf("swapexec: persist %s event for %s: %w", event.Kind, side, err)
		}
		e.log.Infof("swap %s: %s %s", swapId, side, event.Kind)
		return nil
	}
}

// replayOrRun executes a two-phase wallet action at most once across
// restarts (spec.md §4.5 "Resumability", §5(c) "never cancel/duplicate a
// wallet broadcast already submitted"). broadcast submits the action and
// returns its txid; confirm turns an already-broadcast txid into side's
// terminal event by observing the chain, not by trusting the wallet's own
// report. The instant broadcast returns, a Pending{TxId} checkpoint is
// persisted — before confirm ever runs — so that if the process dies
// before the terminal event is persisted, a respawn finds the Pending
// checkpoint and calls confirm on its txid instead of calling broadcast
// again.
func (e *Executor) replayOrRun(swapId swapdomain.SwapId, side swapdomain.Side,
	kind swapdomain.EventKind,
	broadcast func() (string, error),
	confirm func(txid string) (swapdomain.ProtocolEvent, error),
) (swapdomain.ProtocolEvent, error) {

	record, err := e.db.Load(swapId)
	if err == nil {
		if event, ok := record.HasEvent(side, kind); ok {
			e.log.Debugf("swap %s: %s replaying persisted %s", swapId, side, kind)
			return event, nil
		}
		if pending, ok := record.HasEvent(side, swapdomain.EventPending); ok {
			e.log.Infof("swap %s: %s reconciling already-broadcast %s instead of rebroadcasting", swapId, side, pending.TxId)
			return e.confirmAndSave(swapId, side, pending.TxId, confirm)
		}
	}

	txid, err := broadcast()
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}
	pending := swapdomain.ProtocolEvent{Kind: swapdomain.EventPending, TxId: txid, Timestamp: time.Now()}
	if err := e.db.Save(swapId, side, pending); err != nil {
		return swapdomain.ProtocolEvent{}, fmt.Errorf("swapexec: persist pending %s: %w", txid, err)
	}

	return e.confirmAndSave(swapId, side, txid, confirm)
}

// confirmAndSave runs confirm against an already-broadcast (possibly
// reconciled-on-replay) txid and persists the terminal event it produces.
func (e *Executor) confirmAndSave(swapId swapdomain.SwapId, side swapdomain.Side, txid string,
	confirm func(txid string) (swapdomain.ProtocolEvent, error)) (swapdomain.ProtocolEvent, error) {

	event, err := confirm(txid)
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}
	if err := e.db.Save(swapId, side, event); err != nil {
		return swapdomain.ProtocolEvent{}, fmt.Errorf("swapexec: persist %s: %w", event.Kind, err)
	}
	return event, nil
}

// fundingRef looks up the Funded (or FundedIncorrectly) event already
// recorded for side, giving the redeem/refund actions the outpoint
// (Bitcoin) or contract address (Ethereum) and value needed to spend it.
// It looks the event up by kind rather than taking side's single latest
// event, because on a resumed run side may already carry a later
// EventPending checkpoint for its own redeem/refund action by the time
// this is called again.
func (e *Executor) fundingRef(swapId swapdomain.SwapId, side swapdomain.Side) (location string, asset swapdomain.Asset, err error) {
	record, err := e.db.Load(swapId)
	if err != nil {
		return "", swapdomain.Asset{}, fmt.Errorf("swapexec: load funding reference: %w", err)
	}
	if event, ok := record.HasEvent(side, swapdomain.EventFunded); ok {
		return event.Location, event.Asset, nil
	}
	if event, ok := record.HasEvent(side, swapdomain.EventFundedIncorrectly); ok {
		return event.Location, event.Asset, nil
	}
	return "", swapdomain.Asset{}, fmt.Errorf("swapexec: no funded event recorded for %s", side)
}

func (e *Executor) abort(swapId swapdomain.SwapId, side swapdomain.Side, reason string) error {
	event := swapdomain.ProtocolEvent{Kind: swapdomain.EventAborted, Reason: reason, Timestamp: time.Now()}
	e.log.Warnf("swap %s: %s aborted: %s", swapId, side, reason)
	if e.metrics != nil {
		e.metrics.Aborts.WithLabelValues(reason).Inc()
	}
	return e.db.Save(swapId, side, event)
}

// RunBob executes the responder role script of spec.md §4.5.
func (e *Executor) RunBob(ctx context.Context, params swapdomain.SwapParams, alpha, beta Side) error {
	now := time.Now()
	if !params.Beta.ExpiryAbsolute.After(now.Add(e.safetyMargin)) {
		return e.abort(params.SwapId, swapdomain.SideBeta,
			"beta expiry does not exceed now+safety_margin before acting")
	}

	alphaFunded, err := swapfsm.RunToFunded(ctx, alpha.Watcher, params.Alpha, e.pollInterval,
		e.sink(params.SwapId, swapdomain.SideAlpha))
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideAlpha, err.Error())
	}
	if alphaFunded.Kind == swapdomain.EventFundedIncorrectly {
		return e.abort(params.SwapId, swapdomain.SideAlpha, "alpha funded incorrectly")
	}
	if !params.Alpha.ExpiryAbsolute.Add(-e.safetyMargin).After(time.Now()) {
		return e.abort(params.SwapId, swapdomain.SideAlpha, "alpha expiry safety margin breached before beta funding")
	}

	_, err = e.replayOrRun(params.SwapId, swapdomain.SideBeta, swapdomain.EventFunded,
		func() (string, error) {
			result, err := beta.Wallet.Fund(ctx, walletops.FundAction{Params: params.Beta, Location: beta.Location})
			if err != nil {
				return "", fmt.Errorf("fund beta: %w", err)
			}
			return result.TxId, nil
		},
		func(string) (swapdomain.ProtocolEvent, error) {
			return beta.Watcher.WaitForFunded(ctx, params.Beta, e.pollInterval)
		})
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideBeta, err.Error())
	}

	raceResult, err := e.raceRedeemOrExpire(ctx, beta.Watcher, params.Beta, e.pollInterval)
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideBeta, err.Error())
	}

	if raceResult.Kind == swapdomain.EventRefunded {
		return e.refundBeta(ctx, params, beta)
	}

	if err := e.sink(params.SwapId, swapdomain.SideBeta)(raceResult); err != nil {
		return err
	}
	if !params.Beta.SecretHash.Verify(raceResult.Secret) {
		return e.abort(params.SwapId, swapdomain.SideBeta, "observed redeem secret does not hash to secret_hash")
	}

	outpoint, asset, err := e.fundingRef(params.SwapId, swapdomain.SideAlpha)
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideAlpha, err.Error())
	}

	_, err = e.replayOrRun(params.SwapId, swapdomain.SideAlpha, swapdomain.EventRedeemed,
		func() (string, error) {
			result, err := alpha.Wallet.Redeem(ctx, walletops.RedeemAction{
				Params: params.Alpha, Location: alpha.Location, Secret: raceResult.Secret,
				Outpoint: outpoint, PrevValue: int64(asset.Sats),
			})
			if err != nil {
				return "", fmt.Errorf("redeem alpha: %w", err)
			}
			return result.TxId, nil
		},
		func(string) (swapdomain.ProtocolEvent, error) {
			return alpha.Watcher.WaitForRedeemed(ctx, params.Alpha.StartOfSwap, e.pollInterval)
		})
	return err
}

// RunAlice executes the initiator role script of spec.md §4.5.
func (e *Executor) RunAlice(ctx context.Context, params swapdomain.SwapParams,
	secret swapdomain.Secret, alpha, beta Side) error {

	if err := params.ValidateExpiries(e.safetyMargin); err != nil {
		return e.abort(params.SwapId, swapdomain.SideAlpha, err.Error())
	}

	_, err := e.replayOrRun(params.SwapId, swapdomain.SideAlpha, swapdomain.EventFunded,
		func() (string, error) {
			result, err := alpha.Wallet.Fund(ctx, walletops.FundAction{Params: params.Alpha, Location: alpha.Location})
			if err != nil {
				return "", fmt.Errorf("fund alpha: %w", err)
			}
			return result.TxId, nil
		},
		func(string) (swapdomain.ProtocolEvent, error) {
			// The persisted Funded event comes from observing the broadcast
			// transaction on-chain rather than trusting the wallet's own
			// report, so it carries the same location/asset derivation the
			// respawner relies on after a crash (spec.md §4.5 scenario 5).
			return alpha.Watcher.WaitForFunded(ctx, params.Alpha, e.pollInterval)
		})
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideAlpha, err.Error())
	}

	betaFunded, err := beta.Watcher.WaitForFunded(ctx, params.Beta, e.pollInterval)
	if err != nil {
		if !params.Alpha.ExpiryAbsolute.Add(-e.safetyMargin).After(time.Now()) {
			return e.refundAlice(ctx, params, alpha)
		}
		return e.abort(params.SwapId, swapdomain.SideBeta, err.Error())
	}
	if err := e.sink(params.SwapId, swapdomain.SideBeta)(betaFunded); err != nil {
		return err
	}
	if betaFunded.Kind == swapdomain.EventFundedIncorrectly {
		return e.refundAlice(ctx, params, alpha)
	}

	outpoint, asset, err := e.fundingRef(params.SwapId, swapdomain.SideBeta)
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideBeta, err.Error())
	}

	_, err = e.replayOrRun(params.SwapId, swapdomain.SideBeta, swapdomain.EventRedeemed,
		func() (string, error) {
			result, err := beta.Wallet.Redeem(ctx, walletops.RedeemAction{
				Params: params.Beta, Location: beta.Location, Secret: secret,
				Outpoint: outpoint, PrevValue: int64(asset.Sats),
			})
			if err != nil {
				return "", fmt.Errorf("redeem beta: %w", err)
			}
			return result.TxId, nil
		},
		func(string) (swapdomain.ProtocolEvent, error) {
			return beta.Watcher.WaitForRedeemed(ctx, params.Beta.StartOfSwap, e.pollInterval)
		})
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideBeta, err.Error())
	}

	alphaFinal, err := alpha.Watcher.WaitForRedeemed(ctx, params.Alpha.StartOfSwap, e.pollInterval)
	if err != nil {
		if !params.Alpha.ExpiryAbsolute.After(time.Now()) {
			return err
		}
		return e.refundAlice(ctx, params, alpha)
	}
	return e.sink(params.SwapId, swapdomain.SideAlpha)(alphaFinal)
}

// raceRedeemOrExpire implements spec.md §4.5 step 4 for Bob: watch beta
// for Redeemed, but also race against beta's own expiry clock, since
// unlike redeem (which Alice may broadcast), nobody refunds Bob's beta
// HTLC but Bob himself. The loser is cancelled and drained before
// returning, matching the cancellation discipline of swapfsm.RaceRedeemRefund.
func (e *Executor) raceRedeemOrExpire(ctx context.Context, watcher swapfsm.Watcher,
	params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		event swapdomain.ProtocolEvent
		err   error
	}
	results := make(chan outcome, 2)

	go func() {
		event, err := watcher.WaitForRedeemed(raceCtx, params.StartOfSwap, pollInterval)
		results <- outcome{event: event, err: err}
	}()

	go func() {
		wait := time.Until(params.ExpiryAbsolute)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
			results <- outcome{event: swapdomain.ProtocolEvent{Kind: swapdomain.EventRefunded}}
		case <-raceCtx.Done():
			results <- outcome{err: raceCtx.Err()}
		}
	}()

	first := <-results
	cancel()
	<-results

	return first.event, first.err
}

func (e *Executor) refundBeta(ctx context.Context, params swapdomain.SwapParams, beta Side) error {
	outpoint, asset, err := e.fundingRef(params.SwapId, swapdomain.SideBeta)
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideBeta, err.Error())
	}

	_, err = e.replayOrRun(params.SwapId, swapdomain.SideBeta, swapdomain.EventRefunded,
		func() (string, error) {
			result, err := beta.Wallet.Refund(ctx, walletops.RefundAction{
				Params: params.Beta, Location: beta.Location,
				Outpoint: outpoint, PrevValue: int64(asset.Sats),
			})
			if err != nil {
				return "", fmt.Errorf("refund beta: %w", err)
			}
			return result.TxId, nil
		},
		func(string) (swapdomain.ProtocolEvent, error) {
			return beta.Watcher.WaitForRefunded(ctx, params.Beta.StartOfSwap, e.pollInterval)
		})
	return err
}

func (e *Executor) refundAlice(ctx context.Context, params swapdomain.SwapParams, alpha Side) error {
	outpoint, asset, err := e.fundingRef(params.SwapId, swapdomain.SideAlpha)
	if err != nil {
		return e.abort(params.SwapId, swapdomain.SideAlpha, err.Error())
	}

	_, err = e.replayOrRun(params.SwapId, swapdomain.SideAlpha, swapdomain.EventRefunded,
		func() (string, error) {
			result, err := alpha.Wallet.Refund(ctx, walletops.RefundAction{
				Params: params.Alpha, Location: alpha.Location,
				Outpoint: outpoint, PrevValue: int64(asset.Sats),
			})
			if err != nil {
				return "", fmt.Errorf("refund alpha: %w", err)
			}
			return result.TxId, nil
		},
		func(string) (swapdomain.ProtocolEvent, error) {
			return alpha.Watcher.WaitForRefunded(ctx, params.Alpha.StartOfSwap, e.pollInterval)
		})
	return err
}
