package ethereum

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicswap/swapd/swapdomain"
)

// Watcher binds an Observer to one HTLC's deployment parameters, exposing
// the ledger-agnostic interface swapfsm.Watcher expects. Unlike Bitcoin,
// the contract address is not known until WaitForDeployed resolves, so
// Watcher is stateful: swapfsm.RunToFunded calls WaitForDeployed before
// WaitForFunded on the same instance, by contract of running the phases
// sequentially.
type Watcher struct {
	observer   *Observer
	sender     common.Address
	template   InitCodeTemplate
	secretHash swapdomain.SecretHash

	// contractAddr is populated by WaitForDeployed and is a precondition
	// for every call after it.
	contractAddr common.Address
}

// NewWatcher constructs a Watcher for an HTLC deployed by sender using
// template's bytecode shape.
func NewWatcher(observer *Observer, sender common.Address, template InitCodeTemplate,
	secretHash swapdomain.SecretHash) *Watcher {

	return &Watcher{observer: observer, sender: sender, template: template, secretHash: secretHash}
}

// NewWatcherAt constructs a Watcher for an HTLC whose address is already
// known (e.g. from a persisted Deployed event on resumption), skipping
// the deploy watch entirely.
func NewWatcherAt(observer *Observer, contractAddr common.Address,
	secretHash swapdomain.SecretHash) *Watcher {

	return &Watcher{observer: observer, contractAddr: contractAddr, secretHash: secretHash}
}

// HasDeploy is true while the contract address is unknown: it is false
// for a watcher constructed with a pre-resolved address via NewWatcherAt,
// and false once WaitForDeployed has resolved the address.
func (w *Watcher) HasDeploy() bool {
	return w.contractAddr == (common.Address{})
}

func (w *Watcher) WaitForDeployed(ctx context.Context, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	event, addr, err := w.observer.WaitForDeployed(ctx, w.sender, w.template, startOfSwap, pollInterval)
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}
	w.contractAddr = addr
	return event, nil
}

func (w *Watcher) WaitForFunded(ctx context.Context, params swapdomain.HtlcParams,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	if w.contractAddr == (common.Address{}) {
		return swapdomain.ProtocolEvent{}, fmt.Errorf("htlc/ethereum: WaitForFunded called before contract address known")
	}
	return w.observer.WaitForFunded(ctx, w.contractAddr, params, pollInterval)
}

func (w *Watcher) WaitForRedeemed(ctx context.Context, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	return w.observer.WaitForRedeemed(ctx, w.contractAddr, w.secretHash, startOfSwap, pollInterval)
}

func (w *Watcher) WaitForRefunded(ctx context.Context, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	return w.observer.WaitForRefunded(ctx, w.contractAddr, startOfSwap, pollInterval)
}
