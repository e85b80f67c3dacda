// Package consensus defines the interface and types for XRPL consensus algorithms.
// It provides a pluggable architecture allowing different consensus implementations
// to be used interchangeably.
package consensus

import (
	"time"
)

// Mode represents the current consensus operating mode.
// A node can transition between modes during consensus rounds.
type Mode int

const (
	// ModeProposing means the node is actively participating in consensus,
	// proposing transactions and voting on proposals. Only validators in sync.
	ModeProposing Mode = iota

	// ModeObserving means the node is watching consensus but not proposing.
	// Non-validators always operate in this mode.
	ModeObserving

	// ModeWrongLedger means the node detected it's on a different ledger
	// than the network and is acquiring the correct one.
	ModeWrongLedger

	// ModeSwitchedLedger means the node recovered from wrong ledger
	// and is now observing until fully synced.
	ModeSwitchedLedger
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeProposing:
		return "proposing"
	case ModeObserving:
		return "observing"
	case ModeWrongLedger:
		return "wrongLedger"
	case ModeSwitchedLedger:
		return "switchedLedger"
	default:
		return "unknown"
	}
}

// Phase represents the current phase within a consensus round.
type Phase int

const (
	// PhaseOpen is the initial phase where transactions are being accumulated.
	// The ledger is "open" for new transactions.
	PhaseOpen Phase = iota

	// PhaseEstablish is the negotiation phase where validators exchange
	// proposals and work toward agreement on the transaction set.
	PhaseEstablish

	// PhaseAccepted is the idle phase between rounds: a new engine starts
	// in it, and the round driver returns to it once a ledger has been
	// committed. Waiting for validation quorum happens in PhaseProcessing.
	PhaseAccepted

	// PhaseProcessing means we are waiting for the validation store to
	// report quorum for our candidate ledger, or for the acquirer to
	// fetch the network's prevailing ledger if we lost the race.
	PhaseProcessing
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseEstablish:
		return "establish"
	case PhaseAccepted:
		return "accepted"
	case PhaseProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Result represents the outcome of a consensus round.
type Result int

const (
	// ResultSuccess means consensus was reached normally.
	ResultSuccess Result = iota

	// ResultTimeout means the round timed out without consensus.
	ResultTimeout

	// ResultMovedOn means we moved on without full consensus
	// (e.g., supermajority agreed).
	ResultMovedOn

	// ResultFail means consensus failed for this round.
	ResultFail
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultMovedOn:
		return "movedOn"
	case ResultFail:
		return "fail"
	default:
		return "unknown"
	}
}

// RoundID uniquely identifies a consensus round.
type RoundID struct {
	// Seq is the ledger sequence number being built.
	Seq uint32

	// ParentHash is the hash of the parent ledger.
	ParentHash [32]byte
}

// NodeID uniquely identifies a node in the network.
type NodeID [33]byte // Compressed public key

// TxID uniquely identifies a transaction.
type TxID [32]byte

// TxSetID uniquely identifies a transaction set.
type TxSetID [32]byte

// LedgerID uniquely identifies a ledger.
type LedgerID [32]byte

// Proposal represents a consensus proposal from a validator.
type Proposal struct {
	// Round identifies which consensus round this proposal is for.
	Round RoundID

	// NodeID is the proposing validator's public key.
	NodeID NodeID

	// Position is the sequence number of this proposal (0, 1, 2...).
	// Validators can update their position during establish phase.
	Position uint32

	// TxSet is the hash of the proposed transaction set.
	TxSet TxSetID

	// CloseTime is the proposed ledger close time.
	CloseTime time.Time

	// Signature is the validator's signature on this proposal.
	Signature []byte

	// PreviousLedger is the hash of the ledger this builds on.
	PreviousLedger LedgerID

	// Timestamp is when this proposal was created.
	Timestamp time.Time
}

// Validation represents a validation message from a validator.
type Validation struct {
	// LedgerID is the hash of the validated ledger.
	LedgerID LedgerID

	// LedgerSeq is the sequence number of the validated ledger.
	LedgerSeq uint32

	// NodeID is the validating node's public key.
	NodeID NodeID

	// SignTime is when the validation was signed.
	SignTime time.Time

	// SeenTime is when we received this validation.
	SeenTime time.Time

	// Signature is the validator's signature.
	Signature []byte

	// Full indicates if this is a full validation (vs partial).
	Full bool

	// Cookie is a unique identifier for this validation session.
	Cookie uint64

	// LoadFee is the validator's current load-based fee.
	LoadFee uint32
}

// Manifest announces the signing key currently delegated by a trusted
// master key, per spec §6 scenario 6. Validators rotate signing keys
// periodically without changing their long-lived master key; UNL
// membership is keyed on the master key, and proposal/validation
// signatures are checked against whichever signing key the most recent
// accepted manifest names.
type Manifest struct {
	// MasterKey is the long-lived validator identity (the UNL entry).
	MasterKey NodeID

	// SigningKey is the ephemeral key delegated by MasterKey.
	SigningKey NodeID

	// Seq increases on every rotation; higher Seq supersedes lower for
	// the same MasterKey.
	Seq uint32

	// MasterSignature is MasterKey's signature over (SigningKey, Seq),
	// proving the master key authorized this delegation.
	MasterSignature []byte

	// Revoked marks this manifest as a revocation: the signing key
	// above (if any) is being withdrawn, not newly delegated.
	Revoked bool
}

// DisputedTx represents a transaction that validators disagree on.
type DisputedTx struct {
	// TxID is the transaction hash.
	TxID TxID

	// Tx is the raw transaction bytes.
	Tx []byte

	// OurVote is whether we think this tx should be included.
	OurVote bool

	// Yays is the count of validators who voted to include.
	Yays int

	// Nays is the count of validators who voted to exclude.
	Nays int
}

// CloseTimes tracks proposed close times from validators.
type CloseTimes struct {
	// Peers maps close time to count of validators proposing it.
	Peers map[time.Time]int

	// Self is our proposed close time.
	Self time.Time
}

// RoundState represents the current state of a consensus round.
type RoundState struct {
	// Round identifies this consensus round.
	Round RoundID

	// Mode is the current operating mode.
	Mode Mode

	// Phase is the current consensus phase.
	Phase Phase

	// Proposals is the set of proposals received this round.
	Proposals map[NodeID]*Proposal

	// Disputed tracks transactions with disagreement.
	Disputed map[TxID]*DisputedTx

	// CloseTimes tracks proposed close times.
	CloseTimes CloseTimes

	// OurPosition is our current proposal (if proposing).
	OurPosition *Proposal

	// StartTime is when this round started.
	StartTime time.Time

	// PhaseStart is when the current phase started.
	PhaseStart time.Time

	// Converged indicates if proposals have converged.
	Converged bool

	// HaveCorrectLCL indicates if we have the correct last closed ledger.
	HaveCorrectLCL bool

	// StuckSince is set once the establish phase has run past its normal
	// agreement window without reaching consensus; nil while not stuck.
	StuckSince *time.Time
}

// Timing holds consensus timing parameters, named after the constants
// in spec §6.
type Timing struct {
	// LedgerMinClose is the minimum time a ledger stays open (LEDGER_MIN_CLOSE).
	LedgerMinClose time.Duration

	// LedgerMinConsensus is the minimum establish-phase duration before
	// Yes can be declared (LEDGER_MIN_CONSENSUS).
	LedgerMinConsensus time.Duration

	// LedgerIdleInterval is the idle time before closing an empty ledger
	// with no peer activity (LEDGER_IDLE_INTERVAL).
	LedgerIdleInterval time.Duration

	// LedgerGranularity is the period of the consensus tick (LEDGER_GRANULARITY).
	LedgerGranularity time.Duration

	// ValidationValidInterval bounds how long a validation stays current
	// after a ledger's close time (LEDGER_VAL_INTERVAL).
	ValidationValidInterval time.Duration

	// ValidationEarlyInterval bounds how early a validation may arrive
	// relative to a ledger's close time (LEDGER_EARLY_INTERVAL).
	ValidationEarlyInterval time.Duration

	// ProposeFreshness is how long a peer proposal is considered fresh
	// (PROPOSE_FRESHNESS).
	ProposeFreshness time.Duration

	// ProposeInterval is how often we rebroadcast our own unchanged
	// proposal (PROPOSE_INTERVAL).
	ProposeInterval time.Duration

	// PeerReplyTimeout bounds how long we wait for one peer's reply
	// during ledger acquisition.
	PeerReplyTimeout time.Duration
}

// DefaultTiming returns the default consensus timing parameters, taken
// directly from spec §6's constants table.
func DefaultTiming() Timing {
	return Timing{
		LedgerMinClose:          2 * time.Second,
		LedgerMinConsensus:      2 * time.Second,
		LedgerIdleInterval:      15 * time.Second,
		LedgerGranularity:       1 * time.Second,
		ValidationValidInterval: 300 * time.Second,
		ValidationEarlyInterval: 180 * time.Second,
		ProposeFreshness:        20 * time.Second,
		ProposeInterval:         12 * time.Second,
		PeerReplyTimeout:        2500 * time.Millisecond,
	}
}

// Thresholds holds the consensus percentage schedule of spec §4.B.
// The threshold required for Yes rises as the establish phase ages,
// expressed as a percentage of the previous round's time-to-agreement.
type Thresholds struct {
	// MinConsensusPct is the network-wide floor below which MovedOn
	// cannot be declared (MIN_CONSENSUS_PCT).
	MinConsensusPct int

	// InitPct is the threshold from the start of establish (AV_INIT).
	InitPct int

	// MidPct/MidTimePct: threshold rises to MidPct once cur_agree_ms
	// exceeds MidTimePct% of prev_agree_ms (AV_MID_TIME/AV_MID_PCT).
	MidTimePct int
	MidPct     int

	// LatePct/LateTimePct: as above, the next step (AV_LATE_TIME/AV_LATE_PCT).
	LateTimePct int
	LatePct     int

	// StuckPct/StuckTimePct: the final step once a round is considered
	// stuck (AV_STUCK_TIME/AV_STUCK_PCT).
	StuckTimePct int
	StuckPct     int
}

// DefaultThresholds returns the default consensus threshold schedule,
// taken directly from spec §6's constants table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConsensusPct: 80,
		InitPct:         50,
		MidTimePct:      50,
		MidPct:          65,
		LateTimePct:     85,
		LatePct:         70,
		StuckTimePct:    200,
		StuckPct:        95,
	}
}
