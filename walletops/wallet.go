// Package walletops defines the opaque Wallet interface spec.md §6
// requires the executor to consume (key management and signing are out
// of scope for the core) and provides per-ledger adapters implementing
// it. Fee/weight estimation for the Bitcoin adapter is grounded on
// sweep/txgenerator.go's dust-limit and weight-estimator approach.
package walletops

import (
	"context"
	"time"

	"github.com/atomicswap/swapd/swapdomain"
)

// FundAction describes a wallet fund call: pay params.Asset to the HTLC
// at location (the HTLC's encoded address string for Bitcoin, a contract
// address for Ethereum).
type FundAction struct {
	Params   swapdomain.HtlcParams
	Location []byte
}

// DeployAction describes a wallet deploy call: construct and broadcast a
// new HTLC contract for params, returning its creation tx and resulting
// location. Only meaningful on ledgers with a deploy phase (Ethereum).
type DeployAction struct {
	Params swapdomain.HtlcParams
}

// RedeemAction describes a wallet redeem call against an already-funded
// HTLC, revealing secret. On UTXO ledgers Location carries the redeem
// script and Outpoint/PrevValue identify the funding output (the caller
// reads these from the Funded event's Location and Asset); on account-model
// ledgers only Location (the contract address) and Params are used.
type RedeemAction struct {
	Params    swapdomain.HtlcParams
	Location  []byte
	Secret    swapdomain.Secret
	Outpoint  string
	PrevValue int64
}

// RefundAction describes a wallet refund call against an expired,
// unredeemed HTLC. See RedeemAction for field meaning by ledger kind.
type RefundAction struct {
	Params    swapdomain.HtlcParams
	Location  []byte
	Outpoint  string
	PrevValue int64
}

// TxResult is the outcome of a broadcast wallet action.
type TxResult struct {
	TxId string
}

// Wallet is the per-ledger opaque interface the executor issues actions
// through. Implementations own key management, fee estimation, and
// signing; the executor never constructs a raw transaction itself.
type Wallet interface {
	Fund(ctx context.Context, action FundAction) (TxResult, error)
	Deploy(ctx context.Context, action DeployAction) (TxResult, []byte, error)
	Redeem(ctx context.Context, action RedeemAction) (TxResult, error)
	Refund(ctx context.Context, action RefundAction) (TxResult, error)
	BlockchainTime(ctx context.Context) (time.Time, error)
}
