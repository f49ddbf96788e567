package respawn

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"

	"github.com/atomicswap/swapd/swapdb"
	"github.com/atomicswap/swapd/swapdomain"
	"github.com/atomicswap/swapd/swapexec"
	"github.com/atomicswap/swapd/walletops"
)

type stubWatcher struct {
	funded   swapdomain.ProtocolEvent
	redeemed swapdomain.ProtocolEvent
}

func (w *stubWatcher) HasDeploy() bool { return false }
func (w *stubWatcher) WaitForDeployed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	return swapdomain.ProtocolEvent{Kind: swapdomain.EventDeployed}, nil
}
func (w *stubWatcher) WaitForFunded(ctx context.Context, params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	return w.funded, nil
}
func (w *stubWatcher) WaitForRedeemed(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	if w.redeemed.Kind == swapdomain.EventRedeemed {
		return w.redeemed, nil
	}
	<-ctx.Done()
	return swapdomain.ProtocolEvent{}, ctx.Err()
}
func (w *stubWatcher) WaitForRefunded(ctx context.Context, startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {
	<-ctx.Done()
	return swapdomain.ProtocolEvent{}, ctx.Err()
}

type stubWallet struct{ redeemCalls, fundCalls int }

func (w *stubWallet) Fund(ctx context.Context, action walletops.FundAction) (walletops.TxResult, error) {
	w.fundCalls++
	return walletops.TxResult{TxId: "fund-tx"}, nil
}
func (w *stubWallet) Deploy(ctx context.Context, action walletops.DeployAction) (walletops.TxResult, []byte, error) {
	return walletops.TxResult{}, nil, nil
}
func (w *stubWallet) Redeem(ctx context.Context, action walletops.RedeemAction) (walletops.TxResult, error) {
	w.redeemCalls++
	return walletops.TxResult{TxId: "redeem-tx"}, nil
}
func (w *stubWallet) Refund(ctx context.Context, action walletops.RefundAction) (walletops.TxResult, error) {
	return walletops.TxResult{TxId: "refund-tx"}, nil
}
func (w *stubWallet) BlockchainTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }

// stubFactory hands back one of two pre-scripted Sides, chosen by the
// requested HtlcParams' amount (100000 sats is alpha, anything else is
// beta), so the test can observe which leg each relaunched call acted on.
type stubFactory struct {
	alpha, beta swapexec.Side
}

func (f *stubFactory) Side(ctx context.Context, params swapdomain.HtlcParams) (swapexec.Side, error) {
	if params.Asset.Sats == 100000 {
		return f.alpha, nil
	}
	return f.beta, nil
}

func TestRunRelaunchesBobAndResumesFromPersistedFunded(t *testing.T) {
	db, err := swapdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	net := &chaincfg.RegressionNetParams
	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)
	secret := swapdomain.Secret{4, 5, 6}
	now := time.Now()

	params := swapdomain.SwapParams{
		SwapId: id,
		Alpha: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 100000},
			ExpiryAbsolute: now.Add(4 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Beta: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 50000},
			ExpiryAbsolute: now.Add(2 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Role:        swapdomain.RoleBob,
		StartOfSwap: now,
	}
	require.NoError(t, db.SaveParams(net, params))

	// Simulate a crash after alpha funded but before beta funded.
	require.NoError(t, db.Save(id, swapdomain.SideAlpha,
		swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset}))

	alphaWallet := &stubWallet{}
	betaWallet := &stubWallet{}
	factory := &stubFactory{
		alpha: swapexec.Side{
			Watcher: &stubWatcher{
				funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset},
				redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, TxId: "redeem-tx", Secret: secret},
			},
			Wallet: alphaWallet,
		},
		beta: swapexec.Side{
			Watcher: &stubWatcher{
				funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-txid:0", Asset: params.Beta.Asset},
				redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Secret: secret},
			},
			Wallet: betaWallet,
		},
	}

	executor := swapexec.New(db, btclog.Disabled, 30*time.Minute, time.Millisecond)
	r := New(db, executor, factory, net, btclog.Disabled)
	require.NoError(t, r.Run(context.Background()))

	require.Zero(t, alphaWallet.fundCalls, "alpha was already funded before the crash; must not fund it again")
	require.Equal(t, 1, betaWallet.fundCalls)
	require.Equal(t, 1, alphaWallet.redeemCalls)

	record, err := db.Load(id)
	require.NoError(t, err)
	_, ok := record.HasEvent(swapdomain.SideAlpha, swapdomain.EventRedeemed)
	require.True(t, ok)
}

func TestRunRelaunchesAliceUsingPersistedSecret(t *testing.T) {
	db, err := swapdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	net := &chaincfg.RegressionNetParams
	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)
	secret := swapdomain.Secret{7, 8, 9}
	now := time.Now()

	params := swapdomain.SwapParams{
		SwapId: id,
		Alpha: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 100000},
			ExpiryAbsolute: now.Add(4 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Beta: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 50000},
			ExpiryAbsolute: now.Add(2 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Role:        swapdomain.RoleAlice,
		StartOfSwap: now,
	}
	require.NoError(t, db.SaveParams(net, params))
	require.NoError(t, db.SaveSecret(id, secret))

	alphaWallet := &stubWallet{}
	betaWallet := &stubWallet{}
	factory := &stubFactory{
		alpha: swapexec.Side{
			Watcher: &stubWatcher{
				funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "alpha-txid:0", Asset: params.Alpha.Asset},
				redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, Secret: secret},
			},
			Wallet: alphaWallet,
		},
		beta: swapexec.Side{
			Watcher: &stubWatcher{
				funded:   swapdomain.ProtocolEvent{Kind: swapdomain.EventFunded, Location: "beta-txid:0", Asset: params.Beta.Asset},
				redeemed: swapdomain.ProtocolEvent{Kind: swapdomain.EventRedeemed, TxId: "redeem-tx", Secret: secret},
			},
			Wallet: betaWallet,
		},
	}

	executor := swapexec.New(db, btclog.Disabled, 30*time.Minute, time.Millisecond)
	r := New(db, executor, factory, net, btclog.Disabled)
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, 1, alphaWallet.fundCalls)
	require.Equal(t, 1, betaWallet.redeemCalls)
}
