package swapdb

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/atomicswap/swapd/swapdomain"
)

func btcAddrForTest(net *chaincfg.Params) (btcutil.Address, error) {
	return btcutil.NewAddressPubKeyHash(make([]byte, 20), net)
}

func TestSaveParamsThenLoadRoundTrips(t *testing.T) {
	db := openTestDB(t)
	net := &chaincfg.RegressionNetParams

	btcAddr, err := btcAddrForTest(net)
	require.NoError(t, err)

	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	secret := swapdomain.Secret{9, 9, 9}
	now := time.Now().Truncate(time.Second)

	params := swapdomain.SwapParams{
		SwapId: id,
		Alpha: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: 50000},
			RedeemIdentity: swapdomain.Identity{Ledger: swapdomain.LedgerBitcoin, Bitcoin: btcAddr},
			RefundIdentity: swapdomain.Identity{Ledger: swapdomain.LedgerBitcoin, Bitcoin: btcAddr},
			ExpiryAbsolute: now.Add(4 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Beta: swapdomain.HtlcParams{
			Asset:          swapdomain.Asset{Kind: swapdomain.AssetErc20, Quantity: big.NewInt(4200), TokenContract: common.Address{1}},
			ExpiryAbsolute: now.Add(2 * time.Hour),
			StartOfSwap:    now,
			SecretHash:     secret.Hash(),
		},
		Role:             swapdomain.RoleBob,
		CounterpartyPeer: "peer-id",
		StartOfSwap:      now,
	}

	require.NoError(t, db.SaveParams(net, params))

	loaded, err := db.LoadParams(id, net)
	require.NoError(t, err)
	require.Equal(t, params.SwapId, loaded.SwapId)
	require.Equal(t, params.Role, loaded.Role)
	require.Equal(t, params.CounterpartyPeer, loaded.CounterpartyPeer)
	require.EqualValues(t, 50000, loaded.Alpha.Asset.Sats)
	require.Equal(t, btcAddr.EncodeAddress(), loaded.Alpha.RedeemIdentity.Bitcoin.EncodeAddress())
	require.Equal(t, 0, params.Beta.Asset.Quantity.Cmp(loaded.Beta.Asset.Quantity))
	require.Equal(t, params.Alpha.SecretHash, loaded.Alpha.SecretHash)
	require.WithinDuration(t, params.Alpha.ExpiryAbsolute, loaded.Alpha.ExpiryAbsolute, time.Second)
}

func TestSaveParamsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	net := &chaincfg.RegressionNetParams

	id, err := swapdomain.NewSwapId()
	require.NoError(t, err)

	params := swapdomain.SwapParams{SwapId: id, CounterpartyPeer: "first"}
	require.NoError(t, db.SaveParams(net, params))

	params.CounterpartyPeer = "second"
	require.NoError(t, db.SaveParams(net, params))

	loaded, err := db.LoadParams(id, net)
	require.NoError(t, err)
	require.Equal(t, "first", loaded.CounterpartyPeer, "SaveParams must not overwrite an already-recorded swap")
}
