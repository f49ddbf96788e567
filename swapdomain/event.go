package swapdomain

import "time"

// EventKind enumerates the variants of ProtocolEvent described in spec.md
// §3. Deployed only ever occurs on ledgers with a deploy-then-fund
// separation (ERC-20); Bitcoin HTLCs are born funded and skip straight to
// Funded.
type EventKind uint8

const (
	EventStarted EventKind = iota
	EventDeployed
	EventFunded
	EventFundedIncorrectly
	EventRedeemed
	EventRefunded
	EventAborted
	// EventPending records a wallet broadcast that succeeded on the wire
	// but whose bookkeeping did not complete locally before a crash (spec
	// §5 cancellation rule (c)). Recovery reconciles it via the sieve
	// instead of re-broadcasting.
	EventPending
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "Started"
	case EventDeployed:
		return "Deployed"
	case EventFunded:
		return "Funded"
	case EventFundedIncorrectly:
		return "FundedIncorrectly"
	case EventRedeemed:
		return "Redeemed"
	case EventRefunded:
		return "Refunded"
	case EventAborted:
		return "Aborted"
	case EventPending:
		return "Pending"
	default:
		return "Unknown"
	}
}

// Terminal reports whether this event kind ends the state machine for its
// side.
func (k EventKind) Terminal() bool {
	switch k {
	case EventRedeemed, EventRefunded, EventAborted:
		return true
	default:
		return false
	}
}

// ProtocolEvent is a single observation or action recorded against one
// side of a swap.
type ProtocolEvent struct {
	Kind EventKind

	// TxId identifies the on-chain transaction responsible for this
	// event, when applicable (Deployed, Funded, Redeemed, Refunded,
	// Pending).
	TxId string

	// Location is the HTLC's on-chain location: a contract address for
	// ERC-20, an outpoint for Bitcoin.
	Location string

	// Asset is the observed funding amount, present on Funded and
	// FundedIncorrectly.
	Asset Asset

	// Secret is the extracted preimage, present only on Redeemed.
	Secret Secret

	// Reason carries the abort explanation, present only on Aborted.
	Reason string

	Timestamp time.Time
}

// SidedEvent pairs a ProtocolEvent with the side (alpha/beta) it pertains
// to, the unit persisted by the event store (C6).
type SidedEvent struct {
	Side  Side
	Event ProtocolEvent
}

// SwapRecord is the full, ordered history persisted for one swap. Replaying
// it deterministically yields the swap's current state (spec.md §3
// "Lifecycle").
type SwapRecord struct {
	SwapId SwapId
	Events []SidedEvent
}

// LatestFor returns the most recently appended event for the given side,
// and whether one exists.
func (r SwapRecord) LatestFor(side Side) (ProtocolEvent, bool) {
	var (
		latest ProtocolEvent
		found  bool
	)
	for _, e := range r.Events {
		if e.Side == side {
			latest = e.Event
			found = true
		}
	}
	return latest, found
}

// HasEvent reports whether an event of the given kind has already been
// recorded for the given side, returning the most recently appended one.
// The executor uses this for the at-most-once replay described in spec.md
// §4.5 "Resumability". Every kind but Pending is recorded at most once per
// side, so "most recent" and "only" coincide for them; Pending is
// re-recorded once per broadcast phase (fund, then later redeem/refund),
// so its latest occurrence is the one a reconciling replay must act on.
func (r SwapRecord) HasEvent(side Side, kind EventKind) (ProtocolEvent, bool) {
	var (
		latest ProtocolEvent
		found  bool
	)
	for _, e := range r.Events {
		if e.Side == side && e.Event.Kind == kind {
			latest = e.Event
			found = true
		}
	}
	return latest, found
}

// Finished reports whether both sides have reached a terminal event
// (Redeemed or Refunded; an Aborted side also counts as finished for the
// purposes of list_unfinished, since no further action will be taken on
// it).
func (r SwapRecord) Finished() bool {
	alpha, aok := r.LatestFor(SideAlpha)
	beta, bok := r.LatestFor(SideBeta)
	return aok && bok && alpha.Kind.Terminal() && beta.Kind.Terminal()
}

// Append returns a copy of the record with the event appended. The event
// store is responsible for idempotency on (swap_id, event_variant); this
// is a pure helper for replay/tests.
func (r SwapRecord) Append(side Side, event ProtocolEvent) SwapRecord {
	events := make([]SidedEvent, len(r.Events), len(r.Events)+1)
	copy(events, r.Events)
	events = append(events, SidedEvent{Side: side, Event: event})
	return SwapRecord{SwapId: r.SwapId, Events: events}
}
