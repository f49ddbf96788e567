// Package swapdomain defines the data model shared by every component of
// the swap execution engine: identifiers, the per-ledger parameter sets
// negotiated before a swap starts, and the events the protocol state
// machine emits as a swap progresses.
package swapdomain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"
)

// SwapId is an opaque 128-bit identifier for a swap, stable across process
// restarts.
type SwapId [16]byte

// NewSwapId generates a random SwapId.
func NewSwapId() (SwapId, error) {
	var id SwapId
	if _, err := rand.Read(id[:]); err != nil {
		return SwapId{}, fmt.Errorf("generate swap id: %w", err)
	}
	return id, nil
}

func (id SwapId) String() string {
	return hex.EncodeToString(id[:])
}

// Role determines which side of the swap a local instance of the executor
// is playing: Alice holds the secret and funds first, Bob responds.
type Role uint8

const (
	RoleAlice Role = iota
	RoleBob
)

func (r Role) String() string {
	switch r {
	case RoleAlice:
		return "alice"
	case RoleBob:
		return "bob"
	default:
		return "unknown"
	}
}

// Side identifies which of the two HTLCs of a swap an event or parameter
// set pertains to. Alpha is the ledger Alice funds first; beta is the
// ledger Bob funds second and Alice redeems first.
type Side uint8

const (
	SideAlpha Side = iota
	SideBeta
)

func (s Side) String() string {
	switch s {
	case SideAlpha:
		return "alpha"
	case SideBeta:
		return "beta"
	default:
		return "unknown"
	}
}

// LedgerKind tags which chain a Ledger, Asset, or Identity value belongs
// to.
type LedgerKind uint8

const (
	LedgerBitcoin LedgerKind = iota
	LedgerEthereum
	LedgerLightning
)

func (l LedgerKind) String() string {
	switch l {
	case LedgerBitcoin:
		return "bitcoin"
	case LedgerEthereum:
		return "ethereum"
	case LedgerLightning:
		return "lightning"
	default:
		return "unknown"
	}
}

// Identity is a ledger-tagged spend/receive identity: a Bitcoin address or
// an Ethereum account, depending on Ledger.
type Identity struct {
	Ledger   LedgerKind
	Bitcoin  btcutil.Address
	Ethereum common.Address
}

// AssetKind distinguishes the three asset shapes a swap side can lock.
type AssetKind uint8

const (
	AssetBitcoin AssetKind = iota
	AssetEther
	AssetErc20
)

// Asset is the tagged amount locked by one side of a swap.
type Asset struct {
	Kind AssetKind

	// Sats is populated when Kind == AssetBitcoin.
	Sats btcutil.Amount

	// Quantity is populated when Kind == AssetEther (wei) or
	// Kind == AssetErc20 (token base units).
	Quantity *big.Int

	// TokenContract is populated when Kind == AssetErc20.
	TokenContract common.Address
}

// Equal reports whether two assets describe the same kind and quantity.
func (a Asset) Equal(other Asset) bool {
	if a.Kind != other.Kind {
		return false
	}
	switch a.Kind {
	case AssetBitcoin:
		return a.Sats == other.Sats
	case AssetEther:
		return a.Quantity.Cmp(other.Quantity) == 0
	case AssetErc20:
		return a.TokenContract == other.TokenContract &&
			a.Quantity.Cmp(other.Quantity) == 0
	default:
		return false
	}
}

// AtLeast reports whether a is a funding amount sufficient to satisfy a
// requirement of other (used to distinguish Funded::Correctly from
// Funded::Incorrectly on ERC-20, per spec watch_for_funded_erc20).
func (a Asset) AtLeast(required Asset) bool {
	if a.Kind != required.Kind {
		return false
	}
	switch a.Kind {
	case AssetBitcoin:
		return a.Sats >= required.Sats
	case AssetEther:
		return a.Quantity.Cmp(required.Quantity) >= 0
	case AssetErc20:
		return a.TokenContract == required.TokenContract &&
			a.Quantity.Cmp(required.Quantity) >= 0
	default:
		return false
	}
}

// Secret is the 32-byte preimage known only to Alice until she redeems on
// the beta ledger.
type Secret [32]byte

// SecretHash is the SHA-256 digest of a Secret.
type SecretHash [32]byte

// Hash returns the SHA-256 digest of the secret.
func (s Secret) Hash() SecretHash {
	return sha256.Sum256(s[:])
}

// Verify reports whether s hashes to h. Every observed redeem transaction
// must pass this check before a Redeemed event is accepted (spec.md §9
// "Secret extraction is ledger-specific... must be matched against
// secret_hash before accepting").
func (h SecretHash) Verify(s Secret) bool {
	return s.Hash() == h
}

func (h SecretHash) String() string {
	return hex.EncodeToString(h[:])
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

// HtlcParams describes one side's HTLC: who can redeem it, who can refund
// it, when it expires, and under what hash. Immutable once negotiation
// concludes.
type HtlcParams struct {
	Asset           Asset
	RedeemIdentity  Identity
	RefundIdentity  Identity
	ExpiryAbsolute  time.Time
	StartOfSwap     time.Time
	SecretHash      SecretHash
}

// SwapParams is the fully negotiated, matched parameter set for both sides
// of a swap, as produced by the (out of scope) negotiation layer.
type SwapParams struct {
	SwapId             SwapId
	Alpha              HtlcParams
	Beta               HtlcParams
	Role               Role
	CounterpartyPeer   string
	StartOfSwap        time.Time
}

// ValidateExpiries enforces the invariant in spec.md §3: the chain Alice
// redeems from (alpha) must expire strictly later than the chain Bob
// redeems from (beta), with at least safetyMargin of slack. Violating this
// lets Alice reveal the secret after Bob's refund window opens and steal
// both sides, so it MUST be checked before any on-chain action.
func (p SwapParams) ValidateExpiries(safetyMargin time.Duration) error {
	if !p.Alpha.ExpiryAbsolute.After(p.Beta.ExpiryAbsolute.Add(safetyMargin)) {
		return fmt.Errorf(
			"invariant violation: alpha expiry %s does not exceed "+
				"beta expiry %s by the safety margin %s",
			p.Alpha.ExpiryAbsolute, p.Beta.ExpiryAbsolute, safetyMargin,
		)
	}
	return nil
}

// HtlcParams returns the HtlcParams for the requested side.
func (p SwapParams) HtlcParams(side Side) HtlcParams {
	if side == SideAlpha {
		return p.Alpha
	}
	return p.Beta
}
