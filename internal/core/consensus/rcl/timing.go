package rcl

import (
	"time"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// closeResolutions is the fixed ordered set of close-time resolutions a
// round may select, in seconds.
var closeResolutions = []time.Duration{
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
	90 * time.Second,
	120 * time.Second,
}

// increaseEvery is how many ledger-seq boundaries a round waits before
// stepping the close resolution up after a failed-to-agree round.
const increaseEvery = 8

// decreaseEvery is how many ledger-seq boundaries a round waits before
// stepping the close resolution down after an agreed round.
const decreaseEvery = 1

// ShouldCloseLedger decides whether the open ledger should close this
// tick, per spec §4.B.
func ShouldCloseLedger(
	anyTransactions bool,
	prevProposers int,
	proposersClosed int,
	proposersValidated int,
	prevRoundTime time.Duration,
	timeSincePrevClose time.Duration,
	openTime time.Duration,
	idleInterval time.Duration,
) bool {
	if timeSincePrevClose < minLedgerClose() {
		return false
	}

	if prevProposers == 0 && proposersClosed == 0 && !anyTransactions && openTime < idleInterval {
		return false
	}

	// If a meaningful fraction of the previous round's proposers have
	// already closed, we are not leading a premature close: close now.
	if prevProposers > 0 && proposersClosed*100/prevProposers >= 50 {
		return true
	}

	minClose := prevRoundTime
	if minClose < minLedgerClose() {
		minClose = minLedgerClose()
	}
	if openTime < minClose {
		return false
	}

	if anyTransactions {
		return true
	}
	if openTime >= idleInterval {
		return true
	}
	if prevProposers > 0 && proposersClosed*2 >= prevProposers {
		return true
	}

	return false
}

func minLedgerClose() time.Duration { return 2 * time.Second }

// ConsensusCheckResult is the outcome of CheckConsensus.
type ConsensusCheckResult int

const (
	// ConsensusNo means consensus has not been reached and the round
	// should continue negotiating.
	ConsensusNo ConsensusCheckResult = iota
	// ConsensusMovedOn means the rest of the network has moved on
	// without us; we should abandon this round.
	ConsensusMovedOn
	// ConsensusYes means consensus has been reached.
	ConsensusYes
)

func (r ConsensusCheckResult) String() string {
	switch r {
	case ConsensusNo:
		return "No"
	case ConsensusMovedOn:
		return "MovedOn"
	case ConsensusYes:
		return "Yes"
	default:
		return "Unknown"
	}
}

// CheckConsensus implements spec §4.B's check_consensus. prevProposers is
// the number of proposers in the previous round (used only for context by
// callers); curProposers/curAgree/curFinished are trusted counts for the
// current round; prevAgreeTime/curAgreeTime are the previous round's total
// time-to-agreement and this round's elapsed establish time.
func CheckConsensus(
	thresholds consensus.Thresholds,
	minConsensus time.Duration,
	prevProposers int,
	curProposers int,
	curAgree int,
	curFinished int,
	prevAgreeTime time.Duration,
	curAgreeTime time.Duration,
) ConsensusCheckResult {
	_ = prevProposers

	denom := curProposers
	if denom < 1 {
		denom = 1
	}

	if curFinished*100/denom >= thresholds.MinConsensusPct {
		return ConsensusMovedOn
	}

	if curAgreeTime < minConsensus {
		return ConsensusNo
	}

	threshold := AgreementThreshold(thresholds, prevAgreeTime, curAgreeTime)
	if curAgree*100/denom >= threshold {
		return ConsensusYes
	}

	return ConsensusNo
}

// AgreementThreshold returns the percentage of trusted proposers that must
// agree on a transaction set (or a position) at the given point in the
// establish phase, per the piecewise schedule of spec §4.B.
func AgreementThreshold(t consensus.Thresholds, prevAgreeTime, curAgreeTime time.Duration) int {
	if prevAgreeTime <= 0 {
		return t.InitPct
	}

	pct := func(d time.Duration) int {
		return int(d * 100 / prevAgreeTime)
	}

	elapsedPct := pct(curAgreeTime)

	switch {
	case elapsedPct >= t.StuckTimePct:
		return t.StuckPct
	case elapsedPct >= t.LateTimePct:
		return t.LatePct
	case elapsedPct >= t.MidTimePct:
		return t.MidPct
	default:
		return t.InitPct
	}
}

// NextTimeResolution selects the next round's close-time resolution from
// the fixed ladder {10,20,30,60,90,120}s, per spec §4.B. prevAgree
// indicates whether the previous round reached agreement; ledgerSeq is
// the sequence number of the ledger about to be built.
func NextTimeResolution(prevResolution time.Duration, prevAgree bool, ledgerSeq uint32) time.Duration {
	idx := resolutionIndex(prevResolution)

	if !prevAgree {
		if ledgerSeq%increaseEvery == 0 && idx < len(closeResolutions)-1 {
			idx++
		}
		return closeResolutions[idx]
	}

	if ledgerSeq%decreaseEvery == 0 && idx > 0 {
		idx--
	}
	return closeResolutions[idx]
}

func resolutionIndex(d time.Duration) int {
	for i, r := range closeResolutions {
		if r == d {
			return i
		}
	}
	// Unknown resolution: snap to the nearest known one (closest below,
	// else the smallest).
	best := 0
	for i, r := range closeResolutions {
		if r <= d {
			best = i
		}
	}
	return best
}

// RoundCloseTime rounds closeTime to the nearest multiple of resolution,
// per spec §4.B. Zero maps to zero.
func RoundCloseTime(closeTime time.Time, resolution time.Duration) time.Time {
	if closeTime.IsZero() || resolution <= 0 {
		return closeTime
	}

	unix := closeTime.Unix()
	res := int64(resolution / time.Second)
	if res <= 0 {
		return closeTime
	}

	rounded := ((unix + res/2) / res) * res
	return time.Unix(rounded, 0).UTC()
}
