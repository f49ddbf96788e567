package walletops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	htlcbtc "github.com/atomicswap/swapd/htlc/bitcoin"
	"github.com/atomicswap/swapd/swapdomain"
)

// Weight constants mirror lnwallet/size.go's P2WSH/witness sizing so fee
// estimation for the HTLC funding and spend transactions follows the same
// model the teacher's sweep package uses for its own witness inputs.
const (
	p2wshOutputSize   = 8 + 1 + 34
	redeemWitnessSize = 1 + 1 + 73 + 1 + 32 + 1 + 1 + 1 + 100
	baseTxOverhead    = 10
)

// Signer abstracts the key material a Bitcoin wallet needs; kept minimal
// since signing itself is out of scope for the core (spec.md §1).
type Signer interface {
	PrivateKeyFor(addr btcutil.Address) (*btcec.PrivateKey, error)
}

// BitcoinWallet implements walletops.Wallet against a btcd RPC client and
// a local signer.
type BitcoinWallet struct {
	rpc       *rpcclient.Client
	signer    Signer
	net       *chaincfg.Params
	feePerKVB btcutil.Amount
}

// NewBitcoinWallet constructs a BitcoinWallet quoting fees at feePerKVB
// satoshis per kilo-vbyte.
func NewBitcoinWallet(rpc *rpcclient.Client, signer Signer, net *chaincfg.Params,
	feePerKVB btcutil.Amount) *BitcoinWallet {

	return &BitcoinWallet{rpc: rpc, signer: signer, net: net, feePerKVB: feePerKVB}
}

func (w *BitcoinWallet) estimateFee(weight int64) btcutil.Amount {
	vsize := (weight + 3) / 4
	return btcutil.Amount(int64(w.feePerKVB) * vsize / 1000)
}

func (w *BitcoinWallet) dustLimit() btcutil.Amount {
	return txrules.GetDustThreshold(p2wshOutputSize, w.feePerKVB)
}

// Fund broadcasts a transaction paying action.Params.Asset to the HTLC's
// p2wsh output (action.Location). Input selection and signing are left to
// the wallet's backing node via rpcclient's wallet RPCs.
func (w *BitcoinWallet) Fund(ctx context.Context, action FundAction) (TxResult, error) {
	amount := action.Params.Asset.Sats
	if amount <= w.dustLimit() {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: funding amount %s is below dust limit", amount)
	}

	addr, err := btcutil.DecodeAddress(string(action.Location), w.net)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: decode htlc address: %w", err)
	}

	txid, err := w.rpc.SendToAddress(addr, amount)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: send to address: %w", err)
	}
	return TxResult{TxId: txid.String()}, nil
}

// Deploy is a no-op on Bitcoin: HTLCs are born funded, so there is no
// separate deploy phase (spec.md §4.3).
func (w *BitcoinWallet) Deploy(ctx context.Context, action DeployAction) (TxResult, []byte, error) {
	return TxResult{}, nil, fmt.Errorf("walletops/bitcoin: Deploy is not applicable; Bitcoin HTLCs are born funded")
}

// Redeem spends the HTLC's redeem branch, revealing action.Secret, to
// action.Params.RedeemIdentity.
func (w *BitcoinWallet) Redeem(ctx context.Context, action RedeemAction) (TxResult, error) {
	return w.spend(action.Outpoint, action.Location, action.PrevValue,
		action.Params.RedeemIdentity, 0,
		func(sig []byte, redeemScript []byte) wire.TxWitness {
			return htlcbtc.RedeemWitness(sig, action.Secret[:], redeemScript)
		})
}

// Refund spends the HTLC's refund branch after expiry, to
// action.Params.RefundIdentity.
func (w *BitcoinWallet) Refund(ctx context.Context, action RefundAction) (TxResult, error) {
	return w.spend(action.Outpoint, action.Location, action.PrevValue,
		action.Params.RefundIdentity, action.Params.ExpiryAbsolute.Unix(),
		func(sig []byte, redeemScript []byte) wire.TxWitness {
			return htlcbtc.RefundWitness(sig, redeemScript)
		})
}

// spend constructs, signs, and broadcasts a single-input transaction
// spending the HTLC output at outpoint (encoded "txid:vout") back to
// recipient, using witness to build the branch-specific witness stack.
// locktime is 0 for a redeem (valid immediately) or the HTLC's absolute
// expiry for a refund (txscript.OP_CHECKLOCKTIMEVERIFY requires the
// spending transaction's nLockTime to be set and its input sequence to
// be non-final).
func (w *BitcoinWallet) spend(outpoint string, redeemScript []byte, prevValue int64,
	recipient swapdomain.Identity, locktime int64,
	witness func(sig, redeemScript []byte) wire.TxWitness) (TxResult, error) {

	op, err := parseOutpoint(outpoint)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: %w", err)
	}

	fee := w.estimateFee(baseTxOverhead*4 + redeemWitnessSize)
	outValue := prevValue - int64(fee)
	if btcutil.Amount(outValue) <= w.dustLimit() {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: spend output %s is below dust limit after fees", btcutil.Amount(outValue))
	}

	outScript, err := txscript.PayToAddrScript(recipient.Bitcoin)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: pkscript for recipient: %w", err)
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = uint32(locktime)
	txIn := wire.NewTxIn(op, nil, nil)
	if locktime > 0 {
		txIn.Sequence = wire.MaxTxInSequenceNum - 1
	}
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(outValue, outScript))

	key, err := w.signer.PrivateKeyFor(recipient.Bitcoin)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: resolve signing key: %w", err)
	}

	prevOut := wire.NewTxOut(prevValue, nil)
	sig, err := txscript.RawTxInWitnessSignature(tx, txscript.NewTxSigHashes(tx),
		0, prevOut.Value, redeemScript, txscript.SigHashAll, key)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: sign witness: %w", err)
	}
	tx.TxIn[0].Witness = witness(sig, redeemScript)

	txid, err := w.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return TxResult{}, fmt.Errorf("walletops/bitcoin: broadcast: %w", err)
	}
	return TxResult{TxId: txid.String()}, nil
}

func parseOutpoint(s string) (*wire.OutPoint, error) {
	txidStr, voutStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("parse outpoint %q: missing \":\"", s)
	}
	hash, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return nil, fmt.Errorf("parse outpoint txid %q: %w", txidStr, err)
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse outpoint vout %q: %w", voutStr, err)
	}
	return wire.NewOutPoint(hash, uint32(vout)), nil
}

func (w *BitcoinWallet) BlockchainTime(ctx context.Context) (time.Time, error) {
	info, err := w.rpc.GetBlockChainInfo()
	if err != nil {
		return time.Time{}, fmt.Errorf("walletops/bitcoin: get blockchain info: %w", err)
	}
	return info.MedianTime, nil
}

var _ Wallet = (*BitcoinWallet)(nil)
