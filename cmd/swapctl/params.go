package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicswap/swapd/swapdomain"
)

// negotiatedSwap is the on-disk JSON shape start-swap reads: the output of
// the (out of scope, per spec.md §1) negotiation layer, handed to swapctl
// once both sides have agreed terms. It mirrors swapdomain.SwapParams field
// for field, with addresses and byte arrays as hex/base58 strings instead
// of the in-memory interface/array types, and an optional secret for the
// Alice role.
type negotiatedSwap struct {
	SwapId           string            `json:"swap_id"`
	Role             string            `json:"role"`
	CounterpartyPeer string            `json:"counterparty_peer"`
	Secret           string            `json:"secret,omitempty"`
	Alpha            negotiatedHtlc    `json:"alpha"`
	Beta             negotiatedHtlc    `json:"beta"`
}

type negotiatedHtlc struct {
	AssetKind      string `json:"asset_kind"`
	Sats           int64  `json:"sats,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	TokenContract  string `json:"token_contract,omitempty"`
	RedeemBitcoin  string `json:"redeem_bitcoin,omitempty"`
	RedeemEthereum string `json:"redeem_ethereum,omitempty"`
	RefundBitcoin  string `json:"refund_bitcoin,omitempty"`
	RefundEthereum string `json:"refund_ethereum,omitempty"`
	ExpiryUnix     int64  `json:"expiry_unix"`
	SecretHash     string `json:"secret_hash"`
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func loadNegotiatedSwap(path string, net *chaincfg.Params) (swapdomain.SwapParams, swapdomain.Secret, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return swapdomain.SwapParams{}, swapdomain.Secret{}, fmt.Errorf("read negotiated swap file: %w", err)
	}

	var neg negotiatedSwap
	if err := json.Unmarshal(raw, &neg); err != nil {
		return swapdomain.SwapParams{}, swapdomain.Secret{}, fmt.Errorf("parse negotiated swap file: %w", err)
	}

	id, err := parseSwapId(neg.SwapId)
	if err != nil {
		return swapdomain.SwapParams{}, swapdomain.Secret{}, err
	}

	role, err := parseRole(neg.Role)
	if err != nil {
		return swapdomain.SwapParams{}, swapdomain.Secret{}, err
	}

	alpha, err := decodeNegotiatedHtlc(neg.Alpha, net)
	if err != nil {
		return swapdomain.SwapParams{}, swapdomain.Secret{}, fmt.Errorf("alpha leg: %w", err)
	}
	beta, err := decodeNegotiatedHtlc(neg.Beta, net)
	if err != nil {
		return swapdomain.SwapParams{}, swapdomain.Secret{}, fmt.Errorf("beta leg: %w", err)
	}

	params := swapdomain.SwapParams{
		SwapId:           id,
		Alpha:            alpha,
		Beta:             beta,
		Role:             role,
		CounterpartyPeer: neg.CounterpartyPeer,
		StartOfSwap:      time.Now(),
	}

	var secret swapdomain.Secret
	if role == swapdomain.RoleAlice {
		if neg.Secret == "" {
			return swapdomain.SwapParams{}, swapdomain.Secret{}, fmt.Errorf("negotiated swap file: alice role requires a secret")
		}
		raw, err := parseHex(neg.Secret)
		if err != nil || len(raw) != len(secret) {
			return swapdomain.SwapParams{}, swapdomain.Secret{}, fmt.Errorf("negotiated swap file: invalid secret")
		}
		copy(secret[:], raw)
	}

	return params, secret, nil
}

func parseRole(s string) (swapdomain.Role, error) {
	switch s {
	case "alice":
		return swapdomain.RoleAlice, nil
	case "bob":
		return swapdomain.RoleBob, nil
	default:
		return 0, fmt.Errorf("role must be \"alice\" or \"bob\", got %q", s)
	}
}

func decodeNegotiatedHtlc(h negotiatedHtlc, net *chaincfg.Params) (swapdomain.HtlcParams, error) {
	var asset swapdomain.Asset
	switch h.AssetKind {
	case "bitcoin":
		asset = swapdomain.Asset{Kind: swapdomain.AssetBitcoin, Sats: btcutil.Amount(h.Sats)}
	case "ether":
		qty, ok := new(big.Int).SetString(h.Quantity, 10)
		if !ok {
			return swapdomain.HtlcParams{}, fmt.Errorf("invalid ether quantity %q", h.Quantity)
		}
		asset = swapdomain.Asset{Kind: swapdomain.AssetEther, Quantity: qty}
	case "erc20":
		qty, ok := new(big.Int).SetString(h.Quantity, 10)
		if !ok {
			return swapdomain.HtlcParams{}, fmt.Errorf("invalid erc20 quantity %q", h.Quantity)
		}
		asset = swapdomain.Asset{
			Kind:          swapdomain.AssetErc20,
			Quantity:      qty,
			TokenContract: common.HexToAddress(h.TokenContract),
		}
	default:
		return swapdomain.HtlcParams{}, fmt.Errorf("unknown asset kind %q", h.AssetKind)
	}

	redeem, err := decodeNegotiatedIdentity(h.RedeemBitcoin, h.RedeemEthereum, net)
	if err != nil {
		return swapdomain.HtlcParams{}, fmt.Errorf("redeem identity: %w", err)
	}
	refund, err := decodeNegotiatedIdentity(h.RefundBitcoin, h.RefundEthereum, net)
	if err != nil {
		return swapdomain.HtlcParams{}, fmt.Errorf("refund identity: %w", err)
	}

	hashRaw, err := parseHex(h.SecretHash)
	if err != nil || len(hashRaw) != 32 {
		return swapdomain.HtlcParams{}, fmt.Errorf("invalid secret_hash %q", h.SecretHash)
	}
	var secretHash swapdomain.SecretHash
	copy(secretHash[:], hashRaw)

	return swapdomain.HtlcParams{
		Asset:          asset,
		RedeemIdentity: redeem,
		RefundIdentity: refund,
		ExpiryAbsolute: time.Unix(h.ExpiryUnix, 0).UTC(),
		StartOfSwap:    time.Now(),
		SecretHash:     secretHash,
	}, nil
}

func decodeNegotiatedIdentity(bitcoinAddr, ethAddr string, net *chaincfg.Params) (swapdomain.Identity, error) {
	switch {
	case bitcoinAddr != "":
		addr, err := btcutil.DecodeAddress(bitcoinAddr, net)
		if err != nil {
			return swapdomain.Identity{}, err
		}
		return swapdomain.Identity{Ledger: swapdomain.LedgerBitcoin, Bitcoin: addr}, nil
	case ethAddr != "":
		return swapdomain.Identity{Ledger: swapdomain.LedgerEthereum, Ethereum: common.HexToAddress(ethAddr)}, nil
	default:
		return swapdomain.Identity{}, fmt.Errorf("identity requires either a bitcoin or ethereum address")
	}
}
