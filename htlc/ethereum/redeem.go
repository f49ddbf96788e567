package ethereum

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	ledgereth "github.com/atomicswap/swapd/ledger/ethereum"
	"github.com/atomicswap/swapd/sieve"
	"github.com/atomicswap/swapd/swapdomain"
)

// redeemSelector and refundSelector are the 4-byte function selectors of
// the HTLC contract's redeem(bytes32) and refund() methods.
var (
	redeemSelector = crypto.Keccak256([]byte("redeem(bytes32)"))[:4]
	refundSelector = crypto.Keccak256([]byte("refund()"))[:4]
)

// decodeRedeemSecret extracts the bytes32 argument from a redeem(bytes32)
// call's input data.
func decodeRedeemSecret(input []byte) (swapdomain.Secret, bool) {
	if len(input) != 4+32 {
		return swapdomain.Secret{}, false
	}
	if string(input[:4]) != string(redeemSelector) {
		return swapdomain.Secret{}, false
	}
	var secret swapdomain.Secret
	copy(secret[:], input[4:])
	return secret, true
}

// WaitForRedeemed watches contractAddr for a successful call to
// redeem(bytes32), verifying the revealed secret against secretHash
// before accepting it (spec.md §9 secret extraction rule).
func (o *Observer) WaitForRedeemed(ctx context.Context, contractAddr common.Address,
	secretHash swapdomain.SecretHash, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*types.Transaction, swapdomain.Secret], error) {
		s := sieve.New[ledgereth.Block, *types.Transaction](o.conn, startOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgereth.Block, *types.Transaction, swapdomain.Secret](ctx, s,
			func(tx *types.Transaction) (swapdomain.Secret, bool) {
				if tx.To() == nil || *tx.To() != contractAddr {
					return swapdomain.Secret{}, false
				}
				secret, ok := decodeRedeemSecret(tx.Data())
				if !ok || !secretHash.Verify(secret) {
					return swapdomain.Secret{}, false
				}
				return secret, true
			})
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}

	return swapdomain.ProtocolEvent{
		Kind:      swapdomain.EventRedeemed,
		TxId:      match.Tx.Hash().Hex(),
		Secret:    match.Value,
		Timestamp: time.Now(),
	}, nil
}

// WaitForRefunded watches contractAddr for a successful call to refund().
func (o *Observer) WaitForRefunded(ctx context.Context, contractAddr common.Address,
	startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*types.Transaction, struct{}], error) {
		s := sieve.New[ledgereth.Block, *types.Transaction](o.conn, startOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgereth.Block, *types.Transaction, struct{}](ctx, s,
			func(tx *types.Transaction) (struct{}, bool) {
				if tx.To() == nil || *tx.To() != contractAddr {
					return struct{}{}, false
				}
				if len(tx.Data()) != 4 || string(tx.Data()) != string(refundSelector) {
					return struct{}{}, false
				}
				return struct{}{}, true
			})
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}

	return swapdomain.ProtocolEvent{
		Kind:      swapdomain.EventRefunded,
		TxId:      match.Tx.Hash().Hex(),
		Timestamp: time.Now(),
	}, nil
}
