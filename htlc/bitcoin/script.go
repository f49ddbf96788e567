// Package bitcoin implements the Bitcoin realization of HTLC Observers
// (spec.md §4.3, component C3): contract script construction, address
// derivation, and the wait_for_funded/redeemed/refunded watches built on
// top of the sieve.
//
// The contract script is the classic CLTV atomic-swap redeem script (as
// used by decred/atomicswap and documented in BIP-199), generalized from
// the two-branch IF/ELSE shape lnd's commitment HTLC script uses in
// lnwallet/script_utils.go: the revocation branch there has no counterpart
// here since atomic swaps have no third "breach" party, leaving a plain
// redeem-with-secret vs. refund-after-timeout split.
package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/atomicswap/swapd/swapdomain"
)

// Contract is the parsed form of an HTLC script plus the data needed to
// spend it from either branch.
type Contract struct {
	Script         []byte
	RedeemPubKey   *btcec.PublicKey
	RefundPubKey   *btcec.PublicKey
	SecretHash     swapdomain.SecretHash
	LockTime       int64
}

// BuildScript constructs the redeem script:
//
// OP_IF
//     OP_SHA256 <secret_hash> OP_EQUALVERIFY
//     <redeem_pubkey> OP_CHECKSIG
// OP_ELSE
//     <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//     <refund_pubkey> OP_CHECKSIG
// OP_ENDIF
//
// Spending the redeem branch requires <sig> <secret> 1; the refund branch
// requires <sig> 0 and is only valid once locktime has passed.
func BuildScript(redeemPubKey, refundPubKey *btcec.PublicKey,
	secretHash swapdomain.SecretHash, lockTime int64) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(redeemPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(lockTime)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundPubKey.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// P2WSHAddress derives the witness-program address paying to script,
// mirroring lnwallet's witnessScriptHash for a 2-of-2 funding output.
func P2WSHAddress(script []byte, net *chaincfg.Params) (btcutil.Address, []byte, error) {
	scriptHash := chainhash.HashB(script)

	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash, net)
	if err != nil {
		return nil, nil, fmt.Errorf("htlc/bitcoin: derive p2wsh address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("htlc/bitcoin: pkscript for p2wsh: %w", err)
	}
	return addr, pkScript, nil
}

// RedeemWitness builds the witness stack that spends the redeem branch.
func RedeemWitness(sig, secret, redeemScript []byte) wire.TxWitness {
	return wire.TxWitness{sig, secret, []byte{1}, redeemScript}
}

// RefundWitness builds the witness stack that spends the refund branch
// after locktime has elapsed.
func RefundWitness(sig, redeemScript []byte) wire.TxWitness {
	return wire.TxWitness{sig, nil, redeemScript}
}

// ExtractSecret inspects a transaction's witnesses for one spending via
// the redeem branch (four-element witness: signature, 32-byte secret, the
// 0x01 branch selector, redeemScript) and, if found, returns the preimage.
// Matches spec.md §9: "secret extraction is ledger-specific... must be
// matched against secret_hash before accepting."
func ExtractSecret(tx *wire.MsgTx, redeemScript []byte) (swapdomain.Secret, bool) {
	for _, in := range tx.TxIn {
		w := in.Witness
		if len(w) != 4 {
			continue
		}
		if len(w[1]) != 32 {
			continue
		}
		if len(w[2]) != 1 || w[2][0] != 1 {
			continue
		}
		if string(w[3]) != string(redeemScript) {
			continue
		}
		var secret swapdomain.Secret
		copy(secret[:], w[1])
		return secret, true
	}
	return swapdomain.Secret{}, false
}
