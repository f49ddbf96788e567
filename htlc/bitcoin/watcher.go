package bitcoin

import (
	"context"
	"time"

	"github.com/atomicswap/swapd/swapdomain"
)

// Watcher binds an Observer to one HTLC's script and pkScript, exposing
// the ledger-agnostic interface swapfsm.Watcher expects.
type Watcher struct {
	observer     *Observer
	pkScript     []byte
	redeemScript []byte
	secretHash   swapdomain.SecretHash
}

// NewWatcher constructs a Watcher for a single HTLC instance.
func NewWatcher(observer *Observer, pkScript, redeemScript []byte,
	secretHash swapdomain.SecretHash) *Watcher {

	return &Watcher{
		observer:     observer,
		pkScript:     pkScript,
		redeemScript: redeemScript,
		secretHash:   secretHash,
	}
}

// HasDeploy is always false: Bitcoin HTLCs are born funded (spec.md
// §4.3).
func (w *Watcher) HasDeploy() bool { return false }

func (w *Watcher) WaitForDeployed(ctx context.Context, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	return swapdomain.ProtocolEvent{Kind: swapdomain.EventDeployed, Timestamp: startOfSwap}, nil
}

func (w *Watcher) WaitForFunded(ctx context.Context, params swapdomain.HtlcParams,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	return w.observer.WaitForFunded(ctx, w.pkScript, params, pollInterval)
}

func (w *Watcher) WaitForRedeemed(ctx context.Context, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	return w.observer.WaitForRedeemed(ctx, w.redeemScript, w.secretHash, startOfSwap, pollInterval)
}

func (w *Watcher) WaitForRefunded(ctx context.Context, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	return w.observer.WaitForRefunded(ctx, w.redeemScript, startOfSwap, pollInterval)
}
