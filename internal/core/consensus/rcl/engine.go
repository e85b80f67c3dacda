// Package rcl implements the Ripple Consensus Ledger algorithm.
// This is the default consensus algorithm used by the XRP Ledger.
package rcl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// Engine implements the RCL consensus algorithm: the Open → Establish →
// Accepted → Processing → Open round cycle.
type Engine struct {
	mu sync.RWMutex

	// Configuration
	timing     consensus.Timing
	thresholds consensus.Thresholds

	// Dependencies
	adaptor   consensus.Adaptor
	eventBus  *consensus.EventBus
	clock     Clock
	acquirer  *Acquirer
	manifests *ManifestStore

	// Current state
	mode       consensus.Mode
	phase      consensus.Phase
	state      *consensus.RoundState
	prevLedger consensus.Ledger

	// Proposal/dispute/validation tracking
	proposals   *ProposalTracker
	disputes    *DisputeTracker
	validations *ValidationTracker
	ourTxSet    consensus.TxSet

	// candidateLedger is the ledger we built and validated locally,
	// awaiting network validation quorum during PhaseProcessing.
	candidateLedger consensus.Ledger

	// Round history, feeding ShouldCloseLedger/CheckConsensus/
	// NextTimeResolution on the next round (spec §4.B).
	prevProposers      int
	prevRoundTime      time.Duration
	prevAgreeTime      time.Duration
	closeResolution    time.Duration
	prevRoundAgreed    bool
	proposersClosed    int
	establishStart     time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   atomic.Bool

	// Stats
	roundCount     atomic.Uint64
	consensusCount atomic.Uint64
}

// Config holds RCL engine configuration.
type Config struct {
	Timing      consensus.Timing
	Thresholds  consensus.Thresholds
	Clock       Clock
	Acquirer    *Acquirer
	Manifests   *ManifestStore
	ValQuorum   int
	PropFresh   time.Duration
	ValFreshSec time.Duration
}

// DefaultConfig returns the default RCL configuration.
func DefaultConfig() Config {
	return Config{
		Timing:     consensus.DefaultTiming(),
		Thresholds: consensus.DefaultThresholds(),
		Clock:      NewSystemClock(),
	}
}

// NewEngine creates a new RCL consensus engine.
func NewEngine(adaptor consensus.Adaptor, config Config) *Engine {
	clock := config.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	quorum := config.ValQuorum
	if quorum <= 0 {
		quorum = adaptor.GetQuorum()
	}

	freshness := config.Timing.ProposeFreshness
	if freshness <= 0 {
		freshness = consensus.DefaultTiming().ProposeFreshness
	}

	valFreshness := config.Timing.ValidationValidInterval
	if valFreshness <= 0 {
		valFreshness = consensus.DefaultTiming().ValidationValidInterval
	}

	return &Engine{
		timing:          config.Timing,
		thresholds:      config.Thresholds,
		adaptor:         adaptor,
		eventBus:        consensus.NewEventBus(100),
		clock:           clock,
		acquirer:        config.Acquirer,
		manifests:       config.Manifests,
		mode:            consensus.ModeObserving,
		phase:           consensus.PhaseAccepted,
		proposals:       NewProposalTracker(freshness),
		disputes:        NewDisputeTracker(),
		validations:     NewValidationTracker(quorum, valFreshness),
		closeResolution: 30 * time.Second,
	}
}

// Start begins the consensus engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.eventBus.Start()
	e.stop.Store(false)

	ledger, err := e.adaptor.GetLastClosedLedger()
	if err != nil {
		return fmt.Errorf("rcl: get last closed ledger: %w", err)
	}
	e.prevLedger = ledger

	e.validations.SetFullyValidatedCallback(e.onLedgerFullyValidated)

	e.wg.Add(1)
	go e.run()

	return nil
}

// Stop gracefully shuts down the consensus engine. It is safe to call
// more than once.
func (e *Engine) Stop() error {
	if e.stop.Swap(true) {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	e.eventBus.Stop()
	return nil
}

// StartRound begins a new consensus round.
func (e *Engine) StartRound(round consensus.RoundID, proposing bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startRoundLocked(round, proposing)
}

func (e *Engine) startRoundLocked(round consensus.RoundID, proposing bool) error {
	if proposing && e.adaptor.IsValidator() && e.adaptor.GetOperatingMode() == consensus.OpModeFull {
		e.setMode(consensus.ModeProposing)
	} else {
		e.setMode(consensus.ModeObserving)
	}

	now := e.clock.Now()

	e.state = &consensus.RoundState{
		Round:          round,
		Mode:           e.mode,
		Phase:          consensus.PhaseOpen,
		Proposals:      make(map[consensus.NodeID]*consensus.Proposal),
		Disputed:       make(map[consensus.TxID]*consensus.DisputedTx),
		CloseTimes:     consensus.CloseTimes{Peers: make(map[time.Time]int)},
		StartTime:      now,
		PhaseStart:     now,
		HaveCorrectLCL: true,
	}

	e.proposals.SetRound(round)
	e.proposals.SetTrusted(e.adaptor.GetTrustedValidators())
	e.validations.SetTrusted(e.adaptor.GetTrustedValidators())
	e.disputes.Clear()
	e.ourTxSet = nil
	e.proposersClosed = 0

	e.setPhase(consensus.PhaseOpen)

	e.eventBus.Publish(&consensus.RoundStartedEvent{
		Round:     round,
		Mode:      e.mode,
		Timestamp: now,
	})

	e.roundCount.Add(1)
	return nil
}

// OnProposal handles an incoming proposal from a peer.
func (e *Engine) OnProposal(proposal *consensus.Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	verifyErr := e.adaptor.VerifyProposal(proposal)
	trusted := e.adaptor.IsTrusted(proposal.NodeID)

	disposition := e.proposals.Insert(
		proposal,
		verifyErr == nil,
		e.clock.Now(),
		e.timing.ValidationEarlyInterval,
		e.timing.ProposeFreshness,
	)

	e.eventBus.Publish(&consensus.ProposalReceivedEvent{
		Proposal:  proposal,
		Trusted:   trusted,
		Timestamp: e.clock.Now(),
	})

	if disposition != Accepted {
		return nil
	}

	if trusted {
		e.adaptor.RelayProposal(proposal)
	}

	if e.phase == consensus.PhaseOpen {
		e.proposersClosed = e.proposals.TrustedCount()
	}

	if _, err := e.adaptor.GetTxSet(proposal.TxSet); err != nil {
		e.adaptor.RequestTxSet(proposal.TxSet)
	}

	if e.phase == consensus.PhaseEstablish {
		e.checkConvergence()
	}

	return nil
}

// OnValidation handles an incoming validation from a peer.
func (e *Engine) OnValidation(validation *consensus.Validation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	verifyErr := e.adaptor.VerifyValidation(validation)
	trusted := e.adaptor.IsTrusted(validation.NodeID)

	e.validations.Insert(validation, verifyErr == nil, e.clock.Now())

	e.eventBus.Publish(&consensus.ValidationReceivedEvent{
		Validation: validation,
		Trusted:    trusted,
		Timestamp:  e.clock.Now(),
	})

	if e.phase == consensus.PhaseProcessing && e.state != nil {
		e.checkValidationQuorum()
	}

	return nil
}

// OnTxSet handles receiving a transaction set we requested.
func (e *Engine) OnTxSet(id consensus.TxSetID, txs [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txSet, err := e.adaptor.BuildTxSet(txs)
	if err != nil {
		return fmt.Errorf("rcl: build tx set: %w", err)
	}
	if txSet.ID() != id {
		return fmt.Errorf("rcl: tx set ID mismatch: expected %x, got %x", id, txSet.ID())
	}

	if e.phase == consensus.PhaseEstablish {
		e.checkConvergence()
	}

	return nil
}

// OnLedger handles receiving a ledger we were missing, completing any
// matching inbound-ledger acquisition.
func (e *Engine) OnLedger(id consensus.LedgerID, ledger []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acquirer != nil {
		e.acquirer.Deliver(id, ledger)
	}

	if e.mode == consensus.ModeWrongLedger {
		l, err := e.adaptor.GetLedger(id)
		if err == nil && l != nil {
			e.prevLedger = l
			if e.state != nil {
				e.state.HaveCorrectLCL = true
			}
			e.setMode(consensus.ModeSwitchedLedger)
		}
	}

	return nil
}

// OnManifest handles an incoming manifest announcing a rotated or
// revoked validator signing key.
func (e *Engine) OnManifest(manifest *consensus.Manifest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.manifests == nil {
		return nil
	}

	trusted := e.adaptor.IsTrusted(manifest.MasterKey)
	disposition := e.manifests.Insert(manifest, trusted)
	if disposition != Accepted {
		return nil
	}

	e.eventBus.Publish(&consensus.ManifestEvent{
		MasterKey:  manifest.MasterKey,
		SigningKey: manifest.SigningKey,
		Seq:        manifest.Seq,
		Revoked:    manifest.Revoked,
		Timestamp:  e.clock.Now(),
	})

	return nil
}

// State returns the current consensus state.
func (e *Engine) State() *consensus.RoundState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Mode returns the current operating mode.
func (e *Engine) Mode() consensus.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Phase returns the current consensus phase.
func (e *Engine) Phase() consensus.Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// IsProposing returns true if we're actively proposing.
func (e *Engine) IsProposing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode == consensus.ModeProposing
}

// Timing returns the consensus timing parameters.
func (e *Engine) Timing() consensus.Timing {
	return e.timing
}

// Subscribe adds an event subscriber.
func (e *Engine) Subscribe(sub consensus.EventSubscriber) {
	e.eventBus.Subscribe(sub)
}

// Events returns the event channel for direct consumption.
func (e *Engine) Events() <-chan consensus.Event {
	return e.eventBus.Events()
}

// run is the main consensus loop: a LEDGER_GRANULARITY tick driving
// phase transitions, per spec §4.A/§5.
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.clock.After(e.timing.LedgerGranularity):
			if e.stop.Load() {
				return
			}
			e.tick()
		}
	}
}

// tick evaluates one LEDGER_GRANULARITY step, dispatching on the
// current phase.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.adaptor.GetOperatingMode() != consensus.OpModeFull {
		return
	}

	switch e.phase {
	case consensus.PhaseAccepted:
		e.maybeStartRound()
	case consensus.PhaseOpen:
		e.maybeCloseLedger()
	case consensus.PhaseEstablish:
		e.maybeAdvanceConsensus()
	case consensus.PhaseProcessing:
		e.checkValidationQuorum()
	}
}

// maybeStartRound starts a new round once the last accepted ledger has
// aged past the idle interval.
func (e *Engine) maybeStartRound() {
	if e.prevLedger == nil {
		return
	}

	if e.clock.Now().Sub(e.prevLedger.CloseTime()) < e.timing.LedgerIdleInterval {
		return
	}

	proposing := e.adaptor.IsValidator() && e.adaptor.GetOperatingMode() == consensus.OpModeFull
	round := consensus.RoundID{Seq: e.prevLedger.Seq() + 1, ParentHash: e.prevLedger.ID()}
	e.startRoundLocked(round, proposing)
}

// maybeCloseLedger evaluates ShouldCloseLedger (spec §4.B) and closes
// the open ledger once it returns true.
func (e *Engine) maybeCloseLedger() {
	anyTx := len(e.adaptor.GetPendingTxs()) > 0
	openTime := e.clock.Now().Sub(e.state.StartTime)

	timeSincePrevClose := openTime
	if e.prevLedger != nil {
		timeSincePrevClose = e.clock.Now().Sub(e.prevLedger.CloseTime())
	}

	if !ShouldCloseLedger(
		anyTx,
		e.prevProposers,
		e.proposersClosed,
		e.validations.GetTrustedValidationCount(e.prevLedgerIDOrZero()),
		e.prevRoundTime,
		timeSincePrevClose,
		openTime,
		e.timing.LedgerIdleInterval,
	) {
		return
	}

	e.closeLedger()
}

func (e *Engine) prevLedgerIDOrZero() consensus.LedgerID {
	if e.prevLedger == nil {
		var zero consensus.LedgerID
		return zero
	}
	return e.prevLedger.ID()
}

// closeLedger transitions from open to establish phase.
func (e *Engine) closeLedger() {
	txs := e.adaptor.GetPendingTxs()
	txSet, err := e.adaptor.BuildTxSet(txs)
	if err != nil {
		return
	}
	e.ourTxSet = txSet

	e.closeResolution = NextTimeResolution(e.closeResolution, e.prevRoundAgreed, e.state.Round.Seq)

	closeTime := RoundCloseTime(e.clock.Now(), e.closeResolution)
	e.state.CloseTimes.Self = closeTime

	if e.mode == consensus.ModeProposing {
		e.broadcastPosition(txSet.ID(), closeTime, 0)
	}

	e.establishStart = e.clock.Now()
	e.setPhase(consensus.PhaseEstablish)
}

// broadcastPosition signs and broadcasts our current proposal.
func (e *Engine) broadcastPosition(txSet consensus.TxSetID, closeTime time.Time, position uint32) {
	nodeID, err := e.adaptor.GetValidatorKey()
	if err != nil {
		return
	}

	proposal := &consensus.Proposal{
		Round:          e.state.Round,
		NodeID:         nodeID,
		Position:       position,
		TxSet:          txSet,
		CloseTime:      closeTime,
		PreviousLedger: e.prevLedgerIDOrZero(),
		Timestamp:      e.clock.Now(),
	}

	if err := e.adaptor.SignProposal(proposal); err != nil {
		return
	}

	e.state.OurPosition = proposal
	e.proposals.SetLocal(proposal)
	e.adaptor.BroadcastProposal(proposal)
}

// maybeAdvanceConsensus re-evaluates convergence on every tick, so a
// round that stalls on proposal traffic alone still progresses.
func (e *Engine) maybeAdvanceConsensus() {
	e.checkConvergence()
}

// checkConvergence counts trusted support for the most popular whole tx
// set, decides via CheckConsensus whether consensus has been reached, and
// otherwise moves our position toward that tx set. Disputed transactions
// are not voted on one by one: the DisputeTracker is not consulted here.
func (e *Engine) checkConvergence() {
	if e.phase != consensus.PhaseEstablish {
		return
	}

	curProposers := e.proposals.TrustedCount()
	_, bestCount := e.proposals.GetWinningTxSet()

	curAgreeTime := e.clock.Now().Sub(e.establishStart)

	// curFinished counts trusted validators who have already validated a
	// ledger at the sequence we're building toward: they have moved on
	// to the next round without waiting for us.
	curFinished := 0
	for _, count := range e.validations.TrustedFor(e.state.Round.Seq) {
		curFinished += count
	}

	result := CheckConsensus(
		e.thresholds,
		e.timing.LedgerMinConsensus,
		e.prevProposers,
		curProposers,
		bestCount,
		curFinished,
		e.prevAgreeTime,
		curAgreeTime,
	)

	e.markStuckIfNeeded(curAgreeTime)

	switch result {
	case ConsensusYes:
		e.acceptLedger(consensus.ResultSuccess)
	case ConsensusMovedOn:
		e.abandonRound()
	case ConsensusNo:
		if e.mode == consensus.ModeProposing {
			e.updatePosition()
		}
	}
}

// markStuckIfNeeded records when the establish phase first runs past
// the stuck-time threshold, per spec §4.F step 7.
func (e *Engine) markStuckIfNeeded(curAgreeTime time.Duration) {
	if e.prevAgreeTime <= 0 || e.state.StuckSince != nil {
		return
	}
	elapsedPct := int(curAgreeTime * 100 / e.prevAgreeTime)
	if elapsedPct < e.thresholds.StuckTimePct {
		return
	}
	now := e.clock.Now()
	e.state.StuckSince = &now
}

// updatePosition moves our proposal toward the most popular tx set
// among trusted peers (spec §4.F step 3).
func (e *Engine) updatePosition() {
	bestTxSet, bestCount := e.proposals.GetWinningTxSet()

	if e.ourTxSet != nil && bestTxSet == e.ourTxSet.ID() {
		return
	}
	if bestCount == 0 || bestCount*2 < e.proposals.TrustedCount() {
		return
	}

	txSet, err := e.adaptor.GetTxSet(bestTxSet)
	if err != nil {
		e.adaptor.RequestTxSet(bestTxSet)
		return
	}

	e.ourTxSet = txSet

	position := uint32(1)
	if e.state.OurPosition != nil {
		position = e.state.OurPosition.Position + 1
	}
	e.broadcastPosition(txSet.ID(), e.state.CloseTimes.Self, position)
}

// abandonRound implements spec §4.F's MovedOn handling: the network has
// reached consensus on a ledger without us. We request it from peers
// via the acquirer rather than building our own.
func (e *Engine) abandonRound() {
	e.setPhase(consensus.PhaseProcessing)
	e.setMode(consensus.ModeWrongLedger)

	if e.acquirer == nil {
		return
	}

	seq := e.state.Round.Seq
	hash, ok := e.validations.BestValidatedLedger(seq)
	if !ok {
		return
	}
	go func() {
		data, err := e.acquirer.Acquire(e.ctx, hash, seq, ReasonConsensus)
		if err != nil {
			return
		}
		_ = e.OnLedger(hash, data)
	}()
}

// determineCloseTime picks the close time with the most trusted support,
// breaking ties in favour of our own self-proposed time and falling back
// to it when no trusted peer has proposed (spec §4.F step 4).
func (e *Engine) determineCloseTime() time.Time {
	for _, proposal := range e.proposals.GetTrusted() {
		e.state.CloseTimes.Peers[proposal.CloseTime]++
	}

	var bestTime time.Time
	bestCount := 0
	for t, count := range e.state.CloseTimes.Peers {
		if count > bestCount || (count == bestCount && t.Equal(e.state.CloseTimes.Self)) {
			bestTime = t
			bestCount = count
		}
	}

	if bestCount == 0 {
		return e.state.CloseTimes.Self
	}
	return bestTime
}

// acceptLedger finalizes our local view of consensus: builds, validates
// and stores the candidate ledger, broadcasts our validation, and moves
// to Processing to await network-wide validation quorum (spec §4.F
// steps 5-6).
func (e *Engine) acceptLedger(result consensus.Result) {
	if e.phase != consensus.PhaseEstablish {
		return
	}

	closeTime := e.determineCloseTime()

	txSet := e.ourTxSet
	if txSet == nil {
		bestID, _ := e.proposals.GetWinningTxSet()
		var err error
		txSet, err = e.adaptor.GetTxSet(bestID)
		if err != nil {
			return
		}
	}

	newLedger, err := e.adaptor.BuildLedger(e.prevLedger, txSet, closeTime)
	if err != nil {
		return
	}
	if err := e.adaptor.ValidateLedger(newLedger); err != nil {
		return
	}
	if err := e.adaptor.StoreLedger(newLedger); err != nil {
		return
	}

	e.prevRoundTime = e.clock.Now().Sub(e.state.StartTime)
	e.prevAgreeTime = e.clock.Now().Sub(e.establishStart)
	e.prevProposers = e.proposals.TrustedCount()
	e.prevRoundAgreed = result == consensus.ResultSuccess

	e.eventBus.Publish(&consensus.ConsensusReachedEvent{
		Round:     e.state.Round,
		TxSet:     txSet.ID(),
		CloseTime: closeTime,
		Proposers: e.proposals.TrustedCount(),
		Result:    result,
		Duration:  e.prevRoundTime,
		Timestamp: e.clock.Now(),
	})

	if e.adaptor.IsValidator() {
		e.sendValidation(newLedger)
	}

	e.candidateLedger = newLedger
	e.setPhase(consensus.PhaseProcessing)
}

// checkValidationQuorum polls the validation store for quorum on the
// candidate ledger's sequence, committing once it is reached and
// re-requesting the network's ledger if a competing hash won instead
// (spec §4.F step 6, §4.E).
func (e *Engine) checkValidationQuorum() {
	if e.candidateLedger == nil {
		return
	}

	seq := e.candidateLedger.Seq()
	winner, ok := e.validations.BestValidatedLedger(seq)
	if !ok {
		return
	}

	if winner == e.candidateLedger.ID() {
		e.commitLedger(e.candidateLedger)
		return
	}

	// Lost the race: someone else's ledger reached quorum. Fetch it.
	if e.acquirer == nil {
		return
	}
	go func(hash consensus.LedgerID) {
		data, err := e.acquirer.Acquire(e.ctx, hash, seq, ReasonValidation)
		if err != nil {
			return
		}
		_ = e.OnLedger(hash, data)
	}(winner)
}

// commitLedger finalizes the round: advances prevLedger and returns to
// Open for the next round.
func (e *Engine) commitLedger(ledger consensus.Ledger) {
	validations := e.validations.GetTrustedValidations(ledger.ID())

	e.adaptor.OnConsensusReached(ledger, validations)

	e.eventBus.Publish(&consensus.LedgerAcceptedEvent{
		LedgerID:    ledger.ID(),
		LedgerSeq:   ledger.Seq(),
		CloseTime:   ledger.CloseTime(),
		Validations: len(validations),
		Timestamp:   e.clock.Now(),
	})

	e.prevLedger = ledger
	e.candidateLedger = nil
	e.consensusCount.Add(1)
	e.setMode(consensus.ModeObserving)
	e.setPhase(consensus.PhaseAccepted)
}

// onLedgerFullyValidated is the validation store's fully-validated
// callback; it only matters while we're waiting in Processing. The
// tracker invokes it while holding its own lock, usually from inside
// OnValidation with e.mu held, so the check runs on its own goroutine.
func (e *Engine) onLedgerFullyValidated(ledgerID consensus.LedgerID) {
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.phase == consensus.PhaseProcessing {
			e.checkValidationQuorum()
		}
	}()
}

// sendValidation creates and broadcasts a validation for a ledger we've
// accepted locally.
func (e *Engine) sendValidation(ledger consensus.Ledger) {
	nodeID, err := e.adaptor.GetValidatorKey()
	if err != nil {
		return
	}

	validation := &consensus.Validation{
		LedgerID:  ledger.ID(),
		LedgerSeq: ledger.Seq(),
		NodeID:    nodeID,
		SignTime:  e.clock.Now(),
		SeenTime:  e.clock.Now(),
		Full:      true,
	}

	if err := e.adaptor.SignValidation(validation); err != nil {
		return
	}

	e.adaptor.BroadcastValidation(validation)
}

// setMode changes the consensus mode.
func (e *Engine) setMode(newMode consensus.Mode) {
	if e.mode == newMode {
		return
	}

	oldMode := e.mode
	e.mode = newMode

	e.eventBus.Publish(&consensus.ModeChangedEvent{
		OldMode:   oldMode,
		NewMode:   newMode,
		Timestamp: e.clock.Now(),
	})

	e.adaptor.OnModeChange(oldMode, newMode)
}

// setPhase changes the consensus phase.
func (e *Engine) setPhase(newPhase consensus.Phase) {
	if e.phase == newPhase {
		return
	}

	oldPhase := e.phase
	e.phase = newPhase
	if e.state != nil {
		e.state.Phase = newPhase
		e.state.PhaseStart = e.clock.Now()
	}

	round := consensus.RoundID{}
	if e.state != nil {
		round = e.state.Round
	}

	e.eventBus.Publish(&consensus.PhaseChangedEvent{
		Round:     round,
		OldPhase:  oldPhase,
		NewPhase:  newPhase,
		Timestamp: e.clock.Now(),
	})

	e.adaptor.OnPhaseChange(oldPhase, newPhase)
}
