package walletops

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/atomicswap/swapd/swapdomain"
)

// EthKeySource resolves the private key controlling an address; kept
// minimal since key management is out of scope for the core (spec.md
// §1).
type EthKeySource interface {
	PrivateKeyFor(addr common.Address) (*ecdsa.PrivateKey, error)
}

// EthereumWallet implements walletops.Wallet against an ethclient.Client
// and a local key source.
type EthereumWallet struct {
	rpc     *ethclient.Client
	keys    EthKeySource
	chainID *big.Int
}

// NewEthereumWallet constructs an EthereumWallet for chainID.
func NewEthereumWallet(rpc *ethclient.Client, keys EthKeySource, chainID *big.Int) *EthereumWallet {
	return &EthereumWallet{rpc: rpc, keys: keys, chainID: chainID}
}

func (w *EthereumWallet) sign(ctx context.Context, from common.Address, to *common.Address,
	value *big.Int, data []byte) (*types.Transaction, error) {

	nonce, err := w.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: pending nonce: %w", err)
	}
	gasTip, err := w.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: suggest gas tip: %w", err)
	}
	head, err := w.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: header by number: %w", err)
	}
	gasFeeCap := new(big.Int).Add(gasTip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	msg := ethereumCallMsg(from, to, value, data)
	gasLimit, err := w.rpc.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: gasTip,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        to,
		Value:     value,
		Data:      data,
	})

	key, err := w.keys.PrivateKeyFor(from)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: resolve signing key: %w", err)
	}
	signed, err := types.SignTx(tx, types.NewLondonSigner(w.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: sign transaction: %w", err)
	}
	return signed, nil
}

func (w *EthereumWallet) broadcast(ctx context.Context, tx *types.Transaction) (TxResult, error) {
	if err := w.rpc.SendTransaction(ctx, tx); err != nil {
		return TxResult{}, fmt.Errorf("walletops/ethereum: broadcast: %w", err)
	}
	return TxResult{TxId: tx.Hash().Hex()}, nil
}

// Deploy submits nothing: DeployAction carries no init code for the HTLC
// contract, so Deploy always returns an error.
func (w *EthereumWallet) Deploy(ctx context.Context, action DeployAction) (TxResult, []byte, error) {
	return TxResult{}, nil, fmt.Errorf("walletops/ethereum: Deploy requires pre-assembled init code, not modeled by DeployAction")
}

// Fund pays action.Params.Asset into the HTLC at action.Location (a
// 20-byte contract address), as plain ether or an ERC-20 transfer
// depending on Asset.Kind.
func (w *EthereumWallet) Fund(ctx context.Context, action FundAction) (TxResult, error) {
	to := common.BytesToAddress(action.Location)
	sender := action.Params.RedeemIdentity.Ethereum

	switch action.Params.Asset.Kind {
	case swapdomain.AssetEther:
		tx, err := w.sign(ctx, sender, &to, action.Params.Asset.Quantity, nil)
		if err != nil {
			return TxResult{}, err
		}
		return w.broadcast(ctx, tx)
	case swapdomain.AssetErc20:
		data, err := encodeERC20Transfer(to, action.Params.Asset.Quantity)
		if err != nil {
			return TxResult{}, err
		}
		token := action.Params.Asset.TokenContract
		tx, err := w.sign(ctx, sender, &token, big.NewInt(0), data)
		if err != nil {
			return TxResult{}, err
		}
		return w.broadcast(ctx, tx)
	default:
		return TxResult{}, fmt.Errorf("walletops/ethereum: unsupported asset kind %v", action.Params.Asset.Kind)
	}
}

// Redeem calls redeem(secret) on the HTLC at action.Location.
func (w *EthereumWallet) Redeem(ctx context.Context, action RedeemAction) (TxResult, error) {
	to := common.BytesToAddress(action.Location)
	sender := action.Params.RedeemIdentity.Ethereum

	data := append(append([]byte{}, redeemSelector...), action.Secret[:]...)
	tx, err := w.sign(ctx, sender, &to, big.NewInt(0), data)
	if err != nil {
		return TxResult{}, err
	}
	return w.broadcast(ctx, tx)
}

// Refund calls refund() on the HTLC at action.Location.
func (w *EthereumWallet) Refund(ctx context.Context, action RefundAction) (TxResult, error) {
	to := common.BytesToAddress(action.Location)
	sender := action.Params.RefundIdentity.Ethereum

	tx, err := w.sign(ctx, sender, &to, big.NewInt(0), append([]byte{}, refundSelector...))
	if err != nil {
		return TxResult{}, err
	}
	return w.broadcast(ctx, tx)
}

func (w *EthereumWallet) BlockchainTime(ctx context.Context) (time.Time, error) {
	head, err := w.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("walletops/ethereum: header by number: %w", err)
	}
	return time.Unix(int64(head.Time), 0), nil
}

var _ Wallet = (*EthereumWallet)(nil)

// redeemSelector/refundSelector duplicate htlc/ethereum's unexported
// selectors; kept local to avoid a walletops -> htlc/ethereum import
// cycle, since htlc/ethereum's Watcher will eventually depend on wallet
// action shapes for resumed-at-address construction.
var (
	redeemSelector = crypto.Keccak256([]byte("redeem(bytes32)"))[:4]
	refundSelector = crypto.Keccak256([]byte("refund()"))[:4]
)
