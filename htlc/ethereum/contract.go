// Package ethereum implements the Ethereum realization of HTLC Observers
// (spec.md §4.3, component C3). Unlike Bitcoin, an Ethereum HTLC has a
// distinct Deployed phase (the contract's creation transaction) before it
// can be funded, so this package's observer exposes one extra watch that
// htlc/bitcoin does not need.
package ethereum

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	ledgereth "github.com/atomicswap/swapd/ledger/ethereum"
	"github.com/atomicswap/swapd/sieve"
	"github.com/atomicswap/swapd/swapdomain"
)

// erc20TransferSignature is the topic0 of the standard ERC-20 Transfer
// event: keccak256("Transfer(address,address,uint256)").
var erc20TransferSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// erc20TransferABI decodes the (non-indexed) value field of a Transfer
// log.
var erc20TransferABI abi.Arguments

func init() {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	erc20TransferABI = abi.Arguments{{Type: uint256Ty}}
}

// InitCodeTemplate identifies a deployed HTLC by matching a contract
// creation transaction's input data against a known prefix, the way a
// compiled-then-parameter-appended constructor's bytecode is recognized
// before its constructor arguments are decoded.
type InitCodeTemplate struct {
	Prefix []byte
}

// Matches reports whether creationInput was produced by this template
// (i.e. it begins with the compiled HTLC contract's bytecode).
func (t InitCodeTemplate) Matches(creationInput []byte) bool {
	return bytes.HasPrefix(creationInput, t.Prefix)
}

// ContractAddress derives the deterministic address a contract-creation
// transaction from sender with the given account nonce will be deployed
// to, so the observer can confirm a candidate transaction produced the
// expected HTLC instance.
func ContractAddress(sender common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(sender, nonce)
}

// decodeTransferValue decodes the value field of an ERC-20 Transfer log.
func decodeTransferValue(l *types.Log) (*big.Int, error) {
	if len(l.Topics) != 3 || l.Topics[0] != erc20TransferSignature {
		return nil, fmt.Errorf("htlc/ethereum: log is not an ERC-20 Transfer")
	}
	values, err := erc20TransferABI.Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("htlc/ethereum: unpack transfer value: %w", err)
	}
	return values[0].(*big.Int), nil
}

// erc20Transfer is a decoded ERC-20 Transfer log's token and value.
type erc20Transfer struct {
	token common.Address
	value *big.Int
}

// decodeTransferTo reports whether l is an ERC-20 Transfer into recipient,
// from any token contract. A transfer from a token other than the one the
// swap expects is still reported — it is the caller's job to compare
// against the expected token and surface Funded::Incorrectly (spec.md §4.1)
// rather than this decoding step silently discarding it.
func decodeTransferTo(l *types.Log, recipient common.Address) (erc20Transfer, bool) {
	if len(l.Topics) != 3 || l.Topics[0] != erc20TransferSignature {
		return erc20Transfer{}, false
	}
	if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
		return erc20Transfer{}, false
	}
	value, err := decodeTransferValue(l)
	if err != nil {
		return erc20Transfer{}, false
	}
	return erc20Transfer{token: l.Address, value: value}, true
}

// Observer watches a single Ethereum HTLC through its deployed/funded/
// redeemed/refunded lifecycle.
type Observer struct {
	conn       *ledgereth.Connector
	log        btclog.Logger
	newBackoff func() backoff.BackOff
}

// New constructs an Observer for a single connector.
func New(conn *ledgereth.Connector, log btclog.Logger) *Observer {
	return &Observer{
		conn: conn,
		log:  log,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func watchRetrying[T any](ctx context.Context, o *Observer, watch func() (T, error)) (T, error) {
	var result T
	op := func() error {
		v, err := watch()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			o.log.Warnf("htlc/ethereum: watch attempt failed, retrying: %v", err)
			return err
		}
		result = v
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(o.newBackoff(), ctx))
	return result, err
}

// WaitForDeployed watches for a contract-creation transaction from sender
// whose init code matches template, returning its deployed address.
func (o *Observer) WaitForDeployed(ctx context.Context, sender common.Address,
	template InitCodeTemplate, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, common.Address, error) {

	type deployMatch struct {
		txid string
		addr common.Address
	}

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*types.Transaction, deployMatch], error) {
		s := sieve.New[ledgereth.Block, *types.Transaction](o.conn, startOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgereth.Block, *types.Transaction, deployMatch](ctx, s,
			func(tx *types.Transaction) (deployMatch, bool) {
				if tx.To() != nil {
					return deployMatch{}, false
				}
				if !template.Matches(tx.Data()) {
					return deployMatch{}, false
				}
				from, err := types.Sender(types.NewLondonSigner(tx.ChainId()), tx)
				if err != nil || from != sender {
					return deployMatch{}, false
				}
				return deployMatch{
					txid: tx.Hash().Hex(),
					addr: ContractAddress(sender, tx.Nonce()),
				}, true
			})
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, common.Address{}, err
	}

	return swapdomain.ProtocolEvent{
		Kind:      swapdomain.EventDeployed,
		TxId:      match.Value.txid,
		Location:  match.Value.addr.Hex(),
		Timestamp: time.Now(),
	}, match.Value.addr, nil
}

// WaitForFunded watches for the HTLC at contractAddr receiving at least
// params.Asset, either as plain ether (a transaction whose To is
// contractAddr) or as an ERC-20 Transfer log into it.
func (o *Observer) WaitForFunded(ctx context.Context, contractAddr common.Address,
	params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	if params.Asset.Kind == swapdomain.AssetErc20 {
		return o.waitForFundedErc20(ctx, contractAddr, params, pollInterval)
	}
	return o.waitForFundedEther(ctx, contractAddr, params, pollInterval)
}

func (o *Observer) waitForFundedEther(ctx context.Context, contractAddr common.Address,
	params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*types.Transaction, *big.Int], error) {
		s := sieve.New[ledgereth.Block, *types.Transaction](o.conn, params.StartOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgereth.Block, *types.Transaction, *big.Int](ctx, s,
			func(tx *types.Transaction) (*big.Int, bool) {
				if tx.To() == nil || *tx.To() != contractAddr {
					return nil, false
				}
				if tx.Value().Sign() <= 0 {
					return nil, false
				}
				return tx.Value(), true
			})
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}

	observed := swapdomain.Asset{Kind: swapdomain.AssetEther, Quantity: match.Value}
	kind := swapdomain.EventFunded
	if !observed.AtLeast(params.Asset) {
		kind = swapdomain.EventFundedIncorrectly
	}
	return swapdomain.ProtocolEvent{
		Kind:      kind,
		TxId:      match.Tx.Hash().Hex(),
		Location:  contractAddr.Hex(),
		Asset:     observed,
		Timestamp: time.Now(),
	}, nil
}

// erc20Match is what scanErc20Transfers resolves on: the transaction that
// moved tokens into the HTLC and what it moved.
type erc20Match struct {
	txid     string
	transfer erc20Transfer
}

func (o *Observer) waitForFundedErc20(ctx context.Context, contractAddr common.Address,
	params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (erc20Match, error) {
		s := sieve.New[ledgereth.Block, *types.Transaction](o.conn, params.StartOfSwap, pollInterval, o.log)
		return o.scanErc20Transfers(ctx, s, contractAddr)
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}

	observed := swapdomain.Asset{
		Kind:          swapdomain.AssetErc20,
		TokenContract: match.transfer.token,
		Quantity:      match.transfer.value,
	}
	kind := swapdomain.EventFunded
	if !observed.AtLeast(params.Asset) {
		kind = swapdomain.EventFundedIncorrectly
	}
	return swapdomain.ProtocolEvent{
		Kind:      kind,
		TxId:      match.txid,
		Location:  contractAddr.Hex(),
		Asset:     observed,
		Timestamp: time.Now(),
	}, nil
}

// scanErc20Transfers walks s's blocks looking for an ERC-20 Transfer into
// contractAddr. Unlike sieve.Watch's pure predicate, fetching a
// transaction's receipt is a network call, so it is done here, outside any
// predicate, where a transient failure can be returned instead of silently
// read as "no match" (spec.md §4.1's predicate-purity requirement, and
// §7's transient-error retry policy). A returned error propagates to
// watchRetrying, which retries the whole walk — including the block the
// failing receipt fetch belongs to — rather than permanently losing it.
func (o *Observer) scanErc20Transfers(ctx context.Context, s *sieve.Sieve[ledgereth.Block, *types.Transaction],
	contractAddr common.Address) (erc20Match, error) {

	for block := range s.Blocks(ctx) {
		for _, tx := range block.Transactions() {
			receipt, err := o.conn.TransactionReceipt(ctx, sieve.BlockHash(tx.Hash()))
			if err != nil {
				return erc20Match{}, fmt.Errorf("htlc/ethereum: transaction receipt %s: %w", tx.Hash(), err)
			}
			for _, l := range receipt.Logs {
				if transfer, ok := decodeTransferTo(l, contractAddr); ok {
					return erc20Match{txid: tx.Hash().Hex(), transfer: transfer}, nil
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return erc20Match{}, err
	}
	return erc20Match{}, fmt.Errorf("htlc/ethereum: block stream ended without a match")
}
