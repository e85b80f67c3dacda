package rcl

import (
	"sync"
	"time"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// Equivocation records that a validator signed two different ledgers at
// the same sequence number, per spec §4.D / §8 scenario 4. We keep both
// validations for trust-weighted counting (a dishonest signature still
// counts toward whichever specific hash it endorses) but never remove
// the validator from the UNL here — that is an operator/governance
// decision outside this package's scope.
type Equivocation struct {
	NodeID consensus.NodeID
	Seq    uint32
	First  consensus.LedgerID
	Second consensus.LedgerID
	SeenAt time.Time
}

// ValidationTracker tracks validations and determines ledger finality
// (spec §4.D: the validation store).
type ValidationTracker struct {
	mu sync.RWMutex

	// validations maps ledger ID to validations for that ledger
	validations map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation

	// byNode maps node ID to their latest validation
	byNode map[consensus.NodeID]*consensus.Validation

	// trusted is the set of trusted validators
	trusted map[consensus.NodeID]bool

	// quorum is the number of validations needed for finality
	quorum int

	// freshness is how long validations are considered fresh
	freshness time.Duration

	// equivocations records every observed double-signing event
	equivocations []Equivocation

	// callbacks
	onFullyValidated func(ledgerID consensus.LedgerID)
}

// NewValidationTracker creates a new validation tracker.
func NewValidationTracker(quorum int, freshness time.Duration) *ValidationTracker {
	return &ValidationTracker{
		validations: make(map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation),
		byNode:      make(map[consensus.NodeID]*consensus.Validation),
		trusted:     make(map[consensus.NodeID]bool),
		quorum:      quorum,
		freshness:   freshness,
	}
}

// SetTrusted updates the set of trusted validators.
func (vt *ValidationTracker) SetTrusted(nodes []consensus.NodeID) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.trusted = make(map[consensus.NodeID]bool)
	for _, node := range nodes {
		vt.trusted[node] = true
	}
}

// SetQuorum updates the quorum requirement.
func (vt *ValidationTracker) SetQuorum(quorum int) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.quorum = quorum
}

// SetFullyValidatedCallback sets the callback for when a ledger is fully validated.
func (vt *ValidationTracker) SetFullyValidatedCallback(fn func(consensus.LedgerID)) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.onFullyValidated = fn
}

// Insert adds a validation to the tracker, implementing spec §4.D's
// insert_validation. verified must already reflect signature validation
// by the caller. now is the arrival time used for the early/valid window
// check against the validation's SignTime.
func (vt *ValidationTracker) Insert(
	validation *consensus.Validation,
	verified bool,
	now time.Time,
) Disposition {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if !verified {
		return Invalid
	}
	if validation.SignTime.After(now.Add(vt.earlyWindowLocked())) {
		return Invalid
	}
	if now.Sub(validation.SignTime) > vt.freshness {
		return Stale
	}

	disposition := Accepted

	existing, hasExisting := vt.byNode[validation.NodeID]
	if hasExisting {
		switch {
		case validation.LedgerSeq < existing.LedgerSeq:
			return Stale
		case validation.LedgerSeq == existing.LedgerSeq && validation.LedgerID != existing.LedgerID:
			vt.equivocations = append(vt.equivocations, Equivocation{
				NodeID: validation.NodeID,
				Seq:    validation.LedgerSeq,
				First:  existing.LedgerID,
				Second: validation.LedgerID,
				SeenAt: now,
			})
			disposition = Conflict
			// Keep existing as the node's "latest" for future freshness
			// comparisons; still record this one below against its own
			// ledger hash so quorum counting sees it.
		default:
			vt.byNode[validation.NodeID] = validation
		}
	} else {
		vt.byNode[validation.NodeID] = validation
	}

	ledgerVals, exists := vt.validations[validation.LedgerID]
	if !exists {
		ledgerVals = make(map[consensus.NodeID]*consensus.Validation)
		vt.validations[validation.LedgerID] = ledgerVals
	}
	ledgerVals[validation.NodeID] = validation

	vt.checkFullValidation(validation.LedgerID)

	return disposition
}

// earlyWindowLocked bounds how far in the future a SignTime may be
// relative to arrival before being rejected outright. Callers hold vt.mu.
func (vt *ValidationTracker) earlyWindowLocked() time.Duration {
	return vt.freshness
}

// checkFullValidation checks if a ledger has reached full validation.
func (vt *ValidationTracker) checkFullValidation(ledgerID consensus.LedgerID) {
	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return
	}

	// Count trusted validations
	trustedCount := 0
	for nodeID := range ledgerVals {
		if vt.trusted[nodeID] {
			trustedCount++
		}
	}

	if trustedCount >= vt.quorum && vt.onFullyValidated != nil {
		vt.onFullyValidated(ledgerID)
	}
}

// Equivocations returns every equivocation observed so far.
func (vt *ValidationTracker) Equivocations() []Equivocation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	result := make([]Equivocation, len(vt.equivocations))
	copy(result, vt.equivocations)
	return result
}

// TrustedFor returns, for a given ledger sequence, the trusted-validator
// count backing each distinct ledger hash proposed at that sequence.
func (vt *ValidationTracker) TrustedFor(seq uint32) map[consensus.LedgerID]int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	result := make(map[consensus.LedgerID]int)
	for ledgerID, ledgerVals := range vt.validations {
		count := 0
		for nodeID, v := range ledgerVals {
			if v.LedgerSeq == seq && vt.trusted[nodeID] {
				count++
			}
		}
		if count > 0 {
			result[ledgerID] = count
		}
	}
	return result
}

// BestValidatedLedger returns the ledger hash at seq with the most
// trusted support, provided it reaches quorum. Ties are broken toward
// the lexicographically smaller hash (spec §9 Open Question). ok is
// false if no hash at seq has reached quorum.
func (vt *ValidationTracker) BestValidatedLedger(seq uint32) (id consensus.LedgerID, ok bool) {
	counts := vt.TrustedFor(seq)

	vt.mu.RLock()
	quorum := vt.quorum
	vt.mu.RUnlock()

	best := -1
	for ledgerID, count := range counts {
		if count > best || (count == best && lessHash(consensus.TxSetID(ledgerID), consensus.TxSetID(id))) {
			id = ledgerID
			best = count
		}
	}
	if best < quorum {
		var zero consensus.LedgerID
		return zero, false
	}
	return id, true
}

// GetValidations returns all validations for a ledger.
func (vt *ValidationTracker) GetValidations(ledgerID consensus.LedgerID) []*consensus.Validation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return nil
	}

	result := make([]*consensus.Validation, 0, len(ledgerVals))
	for _, v := range ledgerVals {
		result = append(result, v)
	}
	return result
}

// GetTrustedValidations returns trusted validations for a ledger.
func (vt *ValidationTracker) GetTrustedValidations(ledgerID consensus.LedgerID) []*consensus.Validation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return nil
	}

	var result []*consensus.Validation
	for nodeID, v := range ledgerVals {
		if vt.trusted[nodeID] {
			result = append(result, v)
		}
	}
	return result
}

// GetValidationCount returns the count of validations for a ledger.
func (vt *ValidationTracker) GetValidationCount(ledgerID consensus.LedgerID) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return 0
	}
	return len(ledgerVals)
}

// GetTrustedValidationCount returns the count of trusted validations.
func (vt *ValidationTracker) GetTrustedValidationCount(ledgerID consensus.LedgerID) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return 0
	}

	count := 0
	for nodeID := range ledgerVals {
		if vt.trusted[nodeID] {
			count++
		}
	}
	return count
}

// IsFullyValidated returns true if the ledger has reached full validation.
func (vt *ValidationTracker) IsFullyValidated(ledgerID consensus.LedgerID) bool {
	return vt.GetTrustedValidationCount(ledgerID) >= vt.quorum
}

// GetLatestValidation returns the latest validation from a node.
func (vt *ValidationTracker) GetLatestValidation(nodeID consensus.NodeID) *consensus.Validation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return vt.byNode[nodeID]
}

// GetCurrentValidators returns nodes that have recently validated.
func (vt *ValidationTracker) GetCurrentValidators(now time.Time) []consensus.NodeID {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	cutoff := now.Add(-vt.freshness)
	var result []consensus.NodeID

	for nodeID, v := range vt.byNode {
		if v.SignTime.After(cutoff) {
			result = append(result, nodeID)
		}
	}
	return result
}

// ExpireOld removes old validations.
func (vt *ValidationTracker) ExpireOld(minSeq uint32) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	// Remove old ledger validations
	for ledgerID, ledgerVals := range vt.validations {
		// Get any validation to check sequence
		for _, v := range ledgerVals {
			if v.LedgerSeq < minSeq {
				delete(vt.validations, ledgerID)
			}
			break
		}
	}
}

// Clear removes all tracked validations.
func (vt *ValidationTracker) Clear() {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.validations = make(map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation)
	vt.byNode = make(map[consensus.NodeID]*consensus.Validation)
}

// ValidationStats reports aggregate counters over tracked validations.
type ValidationStats struct {
	TotalValidations   int
	TrustedValidations int
	ValidatorsActive   int
	LedgersTracked     int
	Equivocations      int
}

// GetStats returns current validation statistics.
func (vt *ValidationTracker) GetStats() ValidationStats {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	totalValidations := 0
	trustedValidations := 0

	for _, ledgerVals := range vt.validations {
		for nodeID := range ledgerVals {
			totalValidations++
			if vt.trusted[nodeID] {
				trustedValidations++
			}
		}
	}

	return ValidationStats{
		TotalValidations:   totalValidations,
		TrustedValidations: trustedValidations,
		ValidatorsActive:   len(vt.byNode),
		LedgersTracked:     len(vt.validations),
		Equivocations:      len(vt.equivocations),
	}
}
