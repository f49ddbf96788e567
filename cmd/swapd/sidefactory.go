package main

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"

	htlcbtc "github.com/atomicswap/swapd/htlc/bitcoin"
	htlceth "github.com/atomicswap/swapd/htlc/ethereum"
	ledgerbtc "github.com/atomicswap/swapd/ledger/bitcoin"
	ledgereth "github.com/atomicswap/swapd/ledger/ethereum"
	"github.com/atomicswap/swapd/swapdomain"
	"github.com/atomicswap/swapd/swapexec"
	"github.com/atomicswap/swapd/walletops"
)

// chainSideFactory implements respawn.SideFactory: turning one side's negotiated
// HtlcParams into a live swapexec.Side bound to the dialed chain
// backends, grounded on chainregistry.go's newChainControl — built once
// from cfg and handed to every component that needs a chain, rather than
// redialed per swap.
type chainSideFactory struct {
	btcConn   *ledgerbtc.Connector
	btcWallet *walletops.BitcoinWallet
	btcSigner walletops.Signer
	btcNet    *chaincfg.Params

	ethConn   *ledgereth.Connector
	ethWallet *walletops.EthereumWallet

	htlcTemplate htlceth.InitCodeTemplate
}

func (f *chainSideFactory) Side(ctx context.Context, params swapdomain.HtlcParams) (swapexec.Side, error) {
	switch params.Asset.Kind {
	case swapdomain.AssetBitcoin:
		return f.bitcoinSide(params)
	case swapdomain.AssetEther, swapdomain.AssetErc20:
		return f.ethereumSide(ctx, params)
	default:
		return swapexec.Side{}, fmt.Errorf("sidefactory: unsupported asset kind %d", params.Asset.Kind)
	}
}

func (f *chainSideFactory) bitcoinSide(params swapdomain.HtlcParams) (swapexec.Side, error) {
	redeemKey, err := f.btcSigner.PrivateKeyFor(params.RedeemIdentity.Bitcoin)
	if err != nil {
		return swapexec.Side{}, fmt.Errorf("sidefactory: resolve redeem key: %w", err)
	}
	refundKey, err := f.btcSigner.PrivateKeyFor(params.RefundIdentity.Bitcoin)
	if err != nil {
		return swapexec.Side{}, fmt.Errorf("sidefactory: resolve refund key: %w", err)
	}

	redeemScript, err := htlcbtc.BuildScript(redeemKey.PubKey(), refundKey.PubKey(),
		params.SecretHash, params.ExpiryAbsolute.Unix())
	if err != nil {
		return swapexec.Side{}, fmt.Errorf("sidefactory: build htlc script: %w", err)
	}
	scriptHash := sha256.Sum256(redeemScript)
	pkScript, err := txscript.PayToWitnessScriptHashScript(scriptHash[:])
	if err != nil {
		return swapexec.Side{}, fmt.Errorf("sidefactory: p2wsh pkscript: %w", err)
	}

	observer := htlcbtc.New(f.btcConn, swapdLog)
	watcher := htlcbtc.NewWatcher(observer, pkScript, redeemScript, params.SecretHash)

	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], f.btcNet)
	if err != nil {
		return swapexec.Side{}, fmt.Errorf("sidefactory: derive htlc address: %w", err)
	}

	return swapexec.Side{Watcher: watcher, Wallet: f.btcWallet, Location: []byte(addr.EncodeAddress())}, nil
}

func (f *chainSideFactory) ethereumSide(ctx context.Context, params swapdomain.HtlcParams) (swapexec.Side, error) {
	observer := htlceth.New(f.ethConn, swapdLog)

	sender := params.RedeemIdentity.Ethereum
	if sender == (common.Address{}) {
		sender = params.RefundIdentity.Ethereum
	}
	watcher := htlceth.NewWatcher(observer, sender, f.htlcTemplate, params.SecretHash)

	return swapexec.Side{Watcher: watcher, Wallet: f.ethWallet}, nil
}

// rpcClient dials a btcd/bitcoind JSON-RPC backend the way
// chainregistry.go's newChainControl dials btcrpcclient, using
// rpcclient's HTTP POST mode rather than its websocket notification mode
// since the sieve polls rather than subscribes.
func rpcClient(host, user, pass string, cert []byte) (*rpcclient.Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		Certificates: cert,
		HTTPPostMode: true,
		DisableTLS:   len(cert) == 0,
	}
	return rpcclient.New(connCfg, nil)
}
