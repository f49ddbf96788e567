package swapexec

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/atomicswap/swapd/swapdb"
	"github.com/atomicswap/swapd/swapdomain"
	"github.com/atomicswap/swapd/walletops"
)

type scriptedWatcher struct {
	hasDeploy bool
	funded    swapdomain.ProtocolEvent
	redeemed  swapdomain.ProtocolEvent
	refunded  swapdomain.ProtocolEvent
	redeemErr error
	refundErr error
}

func (w *scriptedWatcher) HasDeploy() bool { return w.hasDeploy }
func (w *scriptedWatcher) WaitForDeployed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	return swapdomain.ProtocolEvent{Kind: swapdomain.EventDeployed}, nil
}
func (w *scriptedWatcher) WaitForFunded(ctx context.Context, params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	return w.funded, nil
}
func (w *scriptedWatcher) WaitForRedeemed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	if w.redeemErr != nil {
		<-ctx.Done()
		return swapdomain.ProtocolEvent{}, ctx.Err()
	}
	if w.redeemed.Kind == swapdomain.EventRedeemed {
		return w.redeemed, nil
	}
	<-ctx.Done()
	return swapdomain.ProtocolEvent{}, ctx.Err()
}
func (w *scriptedWatcher) WaitForRefunded(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	if w.refundErr != nil {
		return swapdomain.ProtocolEvent{}, w.refundErr
	}
	if w.refunded.Kind == swapdomain.EventRefunded {
		return w.refunded, nil
	}
	<-ctx.Done()
	return swapdomain.ProtocolEvent{}, ctx.Err()
}

type scriptedWallet struct {
	redeemCalls int
	refundCalls int
	fundCalls   int
}

func (w *scriptedWallet) Fund(ctx context.Context, action walletops.FundAction) (walletops.TxResult, error) {
	w.fundCalls++
	return walletops.TxResult{TxId: "fund-tx"}, nil
}
func (w *scriptedWallet) Deploy(ctx context.Context, action walletops.DeployAction) (walletops.TxResult, []byte, error) {
	return walletops.TxResult{}, nil, nil
}
func (w *scriptedWallet) Redeem(ctx context.Context, action walletops.RedeemAction) (walletops.TxResult, error) {
	w.redeemCalls++
	return walletops.TxResult{TxId: "redeem-tx"}, nil
}
func (w *scriptedWallet) Refund(ctx context.Context, action walletops.RefundAction) (walletops.TxResult, error) {
	w.refundCalls++
	return walletops.TxResult{TxId: "refund-tx"}, nil
}
func (w *scriptedWallet) BlockchainTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func newParams(t *testing.T) swapdomain.SwapParams {
	t.Helper()
	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	secret := swapdomain.Secret{1, 2, 3}
	now := time.Now()

	return swapdomain.SwapParams{
		SwapId: id,
		Alpha: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 100000},
			ExpiryAbsolute: now.Add(4 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Beta: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 100000},
			ExpiryAbsolute: now.Add(2 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		StartOfSwap: now,
	}
}

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	return newExecutorWithMargin(t, 30*time.Minute)
}

func newExecutorWithMargin(t *testing.T, safetyMargin time.Duration) *Executor {
	t.Helper()
	db, err := swapdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, btclog.Disabled, safetyMargin, time.Millisecond)
}

func TestRunBobHappyPathFundsRedeemsAndPersists(t *testing.T) {
	e := newExecutor(t)
	params := newParams(t)
	secret := swapdomain.Secret{1, 2, 3}

	alphaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, TxId: "alpha-fund", Location: "alpha-txid:0", Asset: params.Alpha.Asset},
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, TxId: "redeem-tx", Secret: secret},
	}
	betaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-txid:0", Asset: params.Beta.Asset},
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Secret: secret},
	}
	alphaWallet := &scriptedWallet{}
	betaWallet := &scriptedWallet{}

	err := e.RunBob(context.Background(), params,
		Side{Watcher: alphaWatcher, Wallet: alphaWallet},
		Side{Watcher: betaWatcher, Wallet: betaWallet})
	require.NoError(t, err)

	require.Equal(t, 1, betaWallet.fundCalls)
	require.Equal(t, 1, alphaWallet.redeemCalls)

	record, err := e.db.Load(params.SwapId)
	require.NoError(t, err)
	_, ok := record.HasEvent(swapdomain.SideAlpha, swapdomain.EventRedeemed)
	require.True(t, ok)
}

func TestRunBobAbortsWhenAlphaFundedIncorrectly(t *testing.T) {
	e := newExecutor(t)
	params := newParams(t)

	alphaWatcher := &scriptedWatcher{
		funded: swapdomain.ProtocolEvent{Kind: swapdomain.EventFundedIncorrectly},
	}
	betaWatcher := &scriptedWatcher{}
	alphaWallet := &scriptedWallet{}
	betaWallet := &scriptedWallet{}

	err := e.RunBob(context.Background(), params,
		Side{Watcher: alphaWatcher, Wallet: alphaWallet},
		Side{Watcher: betaWatcher, Wallet: betaWallet})
	require.NoError(t, err)

	require.Zero(t, betaWallet.fundCalls, "must never fund beta on incorrect alpha funding")

	record, err := e.db.Load(params.SwapId)
	require.NoError(t, err)
	_, ok := record.HasEvent(swapdomain.SideAlpha, swapdomain.EventAborted)
	require.True(t, ok)
}

func TestRunBobRefundsBetaWhenRedeemNeverObserved(t *testing.T) {
	e := newExecutorWithMargin(t, time.Millisecond)
	params := newParams(t)
	params.Beta.ExpiryAbsolute = time.Now().Add(20 * time.Millisecond)

	alphaWatcher := &scriptedWatcher{
		funded: swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset},
	}
	betaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-txid:0", Asset: params.Beta.Asset},
		refunded: swapdomain.ProtocolEvent{Kind: swapdomain.EventRefunded, TxId: "refund-tx"},
	}
	alphaWallet := &scriptedWallet{}
	betaWallet := &scriptedWallet{}

	err := e.RunBob(context.Background(), params,
		Side{Watcher: alphaWatcher, Wallet: alphaWallet},
		Side{Watcher: betaWatcher, Wallet: betaWallet})
	require.NoError(t, err)

	require.Equal(t, 1, betaWallet.refundCalls)
	require.Zero(t, alphaWallet.redeemCalls)

	record, err := e.db.Load(params.SwapId)
	require.NoError(t, err)
	_, ok := record.HasEvent(swapdomain.SideBeta, swapdomain.EventRefunded)
	require.True(t, ok)
}

func TestRunAliceHappyPathRedeemsBetaThenConfirmsAlpha(t *testing.T) {
	e := newExecutor(t)
	params := newParams(t)
	secret := swapdomain.Secret{1, 2, 3}

	alphaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset},
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Secret: secret},
	}
	betaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-contract", Asset: params.Beta.Asset},
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, TxId: "redeem-tx", Secret: secret},
	}
	alphaWallet := &scriptedWallet{}
	betaWallet := &scriptedWallet{}

	err := e.RunAlice(context.Background(), params, secret,
		Side{Watcher: alphaWatcher, Wallet: alphaWallet},
		Side{Watcher: betaWatcher, Wallet: betaWallet})
	require.NoError(t, err)

	require.Equal(t, 1, alphaWallet.fundCalls)
	require.Equal(t, 1, betaWallet.redeemCalls)

	record, err := e.db.Load(params.SwapId)
	require.NoError(t, err)
	_, ok := record.HasEvent(swapdomain.SideAlpha, swapdomain.EventRedeemed)
	require.True(t, ok)
}

// TestRunBobResumesWithoutDoubleActing exercises spec.md §4.5's crash/
// replay scenario: a Funded event for beta is already persisted from a
// prior (crashed) run, so a fresh RunBob must not call Fund again.
func TestRunBobResumesWithoutDoubleActing(t *testing.T) {
	e := newExecutor(t)
	params := newParams(t)
	secret := swapdomain.Secret{1, 2, 3}

	require.NoError(t, e.db.Save(params.SwapId, swapdomain.SideAlpha,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset}))
	require.NoError(t, e.db.Save(params.SwapId, swapdomain.SideBeta,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-txid:0", Asset: params.Beta.Asset}))

	alphaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset},
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, TxId: "redeem-tx", Secret: secret},
	}
	betaWatcher := &scriptedWatcher{
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Secret: secret},
	}
	alphaWallet := &scriptedWallet{}
	betaWallet := &scriptedWallet{}

	err := e.RunBob(context.Background(), params,
		Side{Watcher: alphaWatcher, Wallet: alphaWallet},
		Side{Watcher: betaWatcher, Wallet: betaWallet})
	require.NoError(t, err)

	require.Zero(t, betaWallet.fundCalls, "resumed run must replay the persisted Funded event, not re-fund")
	require.Equal(t, 1, alphaWallet.redeemCalls)
}

// TestRunBobReconcilesPendingRedeemWithoutRebroadcasting exercises the
// window between a wallet broadcast succeeding on the wire and its
// terminal event being persisted: if the process crashed there, only a
// Pending{TxId} checkpoint survives for alpha's redeem. A respawned
// RunBob must recover by reconciling that txid through the watcher, never
// by calling Wallet.Redeem again (spec.md §5(c)).
func TestRunBobReconcilesPendingRedeemWithoutRebroadcasting(t *testing.T) {
	e := newExecutor(t)
	params := newParams(t)
	secret := swapdomain.Secret{1, 2, 3}

	require.NoError(t, e.db.Save(params.SwapId, swapdomain.SideAlpha,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset}))
	require.NoError(t, e.db.Save(params.SwapId, swapdomain.SideBeta,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-txid:0", Asset: params.Beta.Asset}))
	require.NoError(t, e.db.Save(params.SwapId, swapdomain.SideAlpha,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventPending, TxId: "alpha-redeem-tx-already-broadcast"}))

	alphaWatcher := &scriptedWatcher{
		funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset},
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, TxId: "alpha-redeem-tx-already-broadcast", Secret: secret},
	}
	betaWatcher := &scriptedWatcher{
		redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Secret: secret},
	}
	alphaWallet := &scriptedWallet{}
	betaWallet := &scriptedWallet{}

	err := e.RunBob(context.Background(), params,
		Side{Watcher: alphaWatcher, Wallet: alphaWallet},
		Side{Watcher: betaWatcher, Wallet: betaWallet})
	require.NoError(t, err)

	require.Zero(t, alphaWallet.redeemCalls, "a pending redeem must be reconciled via the watcher, never rebroadcast")

	record, err := e.db.Load(params.SwapId)
	require.NoError(t, err)
	event, ok := record.HasEvent(swapdomain.SideAlpha, swapdomain.EventRedeemed)
	require.True(t, ok)
	require.Equal(t, "alpha-redeem-tx-already-broadcast", event.TxId)
}
