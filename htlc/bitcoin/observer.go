package bitcoin

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/cenkalti/backoff/v4"

	ledgerbtc "github.com/atomicswap/swapd/ledger/bitcoin"
	"github.com/atomicswap/swapd/sieve"
	"github.com/atomicswap/swapd/swapdomain"
)

// Observer watches a single Bitcoin HTLC through its funded/redeemed/
// refunded lifecycle (spec.md §4.3). Bitcoin HTLCs are born funded, so
// unlike the Ethereum observer there is no separate deployed phase.
type Observer struct {
	conn       *ledgerbtc.Connector
	log        btclog.Logger
	newBackoff func() backoff.BackOff
}

// New constructs an Observer for a single connector. log should be tagged
// with the owning swap id by the caller.
func New(conn *ledgerbtc.Connector, log btclog.Logger) *Observer {
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

// watchRetrying runs watch, retrying the whole sieve-backed watch with
// exponential backoff if it fails for a reason other than ctx cancellation
// (spec.md §7: TransientConnector errors are retried by the caller, not
// surfaced to the executor).
func watchRetrying[T any](ctx context.Context, o *Observer, watch func() (T, error)) (T, error) {
	var result T
	op := func() error {
		v, err := watch()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			o.log.Warnf("htlc/bitcoin: watch attempt failed, retrying: %v", err)
			return err
		}
		result = v
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(o.newBackoff(), ctx))
	return result, err
}

// WaitForFunded watches for a transaction with an output paying to
// pkScript, starting from params.StartOfSwap, per spec watch_for_funded.
// It distinguishes correct funding from underfunding using Asset.AtLeast:
// the matched output is Funded if it pays at least params.Asset and
// FundedIncorrectly otherwise.
func (o *Observer) WaitForFunded(ctx context.Context, pkScript []byte,
	params swapdomain.HtlcParams, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*wire.MsgTx, fundingMatch], error) {
		s := sieve.New[ledgerbtc.Block, *wire.MsgTx](o.conn, params.StartOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgerbtc.Block, *wire.MsgTx, fundingMatch](ctx, s,
			func(tx *wire.MsgTx) (fundingMatch, bool) {
				for i, out := range tx.TxOut {
					if bytes.Equal(out.PkScript, pkScript) {
						return fundingMatch{txid: tx.TxHash().String(), index: i,
							amount: btcutil.Amount(out.Value)}, true
					}
				}
				return fundingMatch{}, false
			})
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}

	observed := swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: match.Value.amount}
	kind := swapdomain.EventFunded
	if !observed.AtLeast(params.Asset) {
		kind = swapdomain.EventFundedIncorrectly
	}

	return swapdomain.ProtocolEvent{
		Kind:      kind,
		TxId:      match.Value.txid,
		Location:  fmt.Sprintf("%s:%d", match.Value.txid, match.Value.index),
		Asset:     observed,
		Timestamp: time.Now(),
	}, nil
}

type fundingMatch struct {
	txid   string
	index  int
	amount btcutil.Amount
}

// WaitForRedeemed watches for a transaction spending redeemScript's
// output via the redeem branch, extracting and verifying the secret
// against secretHash before returning (spec.md §9 secret extraction
// rule).
func (o *Observer) WaitForRedeemed(ctx context.Context, redeemScript []byte,
	secretHash swapdomain.SecretHash, startOfSwap time.Time,
	pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*wire.MsgTx, swapdomain.Secret], error) {
		s := sieve.New[ledgerbtc.Block, *wire.MsgTx](o.conn, startOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgerbtc.Block, *wire.MsgTx, swapdomain.Secret](ctx, s,
			func(tx *wire.MsgTx) (swapdomain.Secret, bool) {
				secret, ok := ExtractSecret(tx, redeemScript)
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
		Secret:    match.Value,
		Timestamp: time.Now(),
	}, nil
}

// WaitForRefunded watches for a transaction spending redeemScript's
// output via the refund branch (a three-element witness: <sig>, an empty
// element selecting the refund branch, <redeemScript>; the redeem
// branch's witness has four elements).
func (o *Observer) WaitForRefunded(ctx context.Context, redeemScript []byte,
	startOfSwap time.Time, pollInterval time.Duration) (swapdomain.ProtocolEvent, error) {

	match, err := watchRetrying(ctx, o, func() (sieve.Match[*wire.MsgTx, string], error) {
		s := sieve.New[ledgerbtc.Block, *wire.MsgTx](o.conn, startOfSwap, pollInterval, o.log)
		return sieve.Watch[ledgerbtc.Block, *wire.MsgTx, string](ctx, s,
			func(tx *wire.MsgTx) (string, bool) {
				for _, in := range tx.TxIn {
					w := in.Witness
					if len(w) == 3 && len(w[1]) == 0 && string(w[2]) == string(redeemScript) {
						return tx.TxHash().String(), true
					}
				}
				return "", false
			})
	})
	if err != nil {
		return swapdomain.ProtocolEvent{}, err
	}

	return swapdomain.ProtocolEvent{
		Kind:      swapdomain.EventRefunded,
		TxId:      match.Value,
		Timestamp: time.Now(),
	}, nil
}
