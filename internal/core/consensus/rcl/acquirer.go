package rcl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// AcquireReason explains why a ledger is being fetched, for logging and
// metrics only — it does not change acquisition behavior.
type AcquireReason int

const (
	// ReasonConsensus means we lost a consensus round and need the
	// network's prevailing ledger to catch up.
	ReasonConsensus AcquireReason = iota
	// ReasonValidation means we saw enough trusted validations for a
	// ledger we don't have.
	ReasonValidation
	// ReasonHistorical means a historical/backfill request.
	ReasonHistorical
)

func (r AcquireReason) String() string {
	switch r {
	case ReasonConsensus:
		return "consensus"
	case ReasonValidation:
		return "validation"
	case ReasonHistorical:
		return "historical"
	default:
		return "unknown"
	}
}

// defaultMaxPeersPerFetch is the number of peers fanned out to
// concurrently for a single hash (the "K" in spec §4.E's bounded-
// concurrency process).
const defaultMaxPeersPerFetch = 3

// defaultFailureHoldoff is how long a hash stays in the failure cache
// before a fresh acquire attempt is allowed (is_failure / clear_failures
// per spec §4.E).
const defaultFailureHoldoff = 10 * time.Second

// acquisition tracks one in-flight fetch for a single ledger hash.
type acquisition struct {
	seq      uint32
	started  time.Time
	done     chan struct{}
	result   []byte
	err      error
	resolved bool
}

// Acquirer fetches ledgers we don't have from peers, with dedup, bounded
// concurrency, per-peer timeouts, and a failure cache, per spec §4.E.
type Acquirer struct {
	adaptor     consensus.Adaptor
	clock       Clock
	sem         *semaphore.Weighted
	peerTimeout time.Duration
	deadline    time.Duration
	maxPeers    int

	mu       sync.Mutex
	inFlight map[consensus.LedgerID]*acquisition

	failures *lru.Cache[consensus.LedgerID, time.Time]

	ewmaMu   sync.Mutex
	ewmaRate float64 // fetches per second, exponentially-weighted
	fetched  int

	bus *consensus.EventBus
}

// NewAcquirer creates an Acquirer with the given per-peer reply timeout
// and per-hash acquisition deadline.
func NewAcquirer(adaptor consensus.Adaptor, clock Clock, peerTimeout, deadline time.Duration, bus *consensus.EventBus) *Acquirer {
	failures, err := lru.New[consensus.LedgerID, time.Time](4096)
	if err != nil {
		// Only fails for a non-positive size, which 4096 never is.
		panic(fmt.Sprintf("rcl: failure cache: %v", err))
	}

	return &Acquirer{
		adaptor:     adaptor,
		clock:       clock,
		sem:         semaphore.NewWeighted(int64(defaultMaxPeersPerFetch) * 4),
		peerTimeout: peerTimeout,
		deadline:    deadline,
		maxPeers:    defaultMaxPeersPerFetch,
		inFlight:    make(map[consensus.LedgerID]*acquisition),
		failures:    failures,
		bus:         bus,
	}
}

// IsFailure reports whether hash recently failed acquisition and is
// still within its holdoff window (spec §4.E's is_failure).
func (a *Acquirer) IsFailure(hash consensus.LedgerID) bool {
	failedAt, ok := a.failures.Get(hash)
	if !ok {
		return false
	}
	return a.clock.Now().Sub(failedAt) < defaultFailureHoldoff
}

// ClearFailure removes hash from the failure cache, allowing an
// immediate retry (spec §4.E's clear_failures).
func (a *Acquirer) ClearFailure(hash consensus.LedgerID) {
	a.failures.Remove(hash)
}

// FetchRate returns the current EWMA of completed fetches per second.
func (a *Acquirer) FetchRate() float64 {
	a.ewmaMu.Lock()
	defer a.ewmaMu.Unlock()
	return a.ewmaRate
}

// FetchCount returns the total number of fetches completed successfully
// since the acquirer was created.
func (a *Acquirer) FetchCount() int {
	a.ewmaMu.Lock()
	defer a.ewmaMu.Unlock()
	return a.fetched
}

// Acquire fetches the ledger with the given hash, fanning the request
// out to up to maxPeers connected peers concurrently and returning as
// soon as any of them answers. A second call for the same hash while one
// is already in flight joins the existing attempt instead of issuing new
// peer requests (dedup, spec §4.E).
func (a *Acquirer) Acquire(ctx context.Context, hash consensus.LedgerID, seq uint32, reason AcquireReason) ([]byte, error) {
	if a.IsFailure(hash) {
		return nil, fmt.Errorf("rcl: acquire %x: recent failure, in holdoff", hash)
	}

	acq, isNew := a.joinOrStart(hash, seq)
	if isNew {
		go a.run(hash, acq, reason)
	}

	select {
	case <-acq.done:
		return acq.result, acq.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Acquirer) joinOrStart(hash consensus.LedgerID, seq uint32) (*acquisition, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.inFlight[hash]; ok {
		return existing, false
	}

	acq := &acquisition{seq: seq, started: a.clock.Now(), done: make(chan struct{})}
	a.inFlight[hash] = acq
	return acq, true
}

func (a *Acquirer) run(hash consensus.LedgerID, acq *acquisition, reason AcquireReason) {
	ctx, cancel := context.WithTimeout(context.Background(), a.deadline)
	defer cancel()

	peers := a.adaptor.Peers()
	if len(peers) > a.maxPeers {
		peers = peers[:a.maxPeers]
	}

	for _, peer := range peers {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			break
		}
		peer := peer
		go func() {
			defer a.sem.Release(1)
			_ = a.adaptor.RequestLedgerFromPeer(hash, peer)
		}()
	}

	peerCtx, peerCancel := context.WithTimeout(ctx, a.peerTimeout)
	defer peerCancel()
	<-peerCtx.Done()

	a.finish(hash, acq, nil, fmt.Errorf("rcl: acquire %x: exhausted %d peers for reason %s", hash, len(peers), reason))
}

// Deliver is called when ledger bytes for hash arrive (from the
// engine's OnLedger handling), completing any matching in-flight
// acquisition.
func (a *Acquirer) Deliver(hash consensus.LedgerID, data []byte) {
	a.mu.Lock()
	acq, ok := a.inFlight[hash]
	a.mu.Unlock()
	if !ok {
		return
	}
	a.finish(hash, acq, data, nil)
}

func (a *Acquirer) finish(hash consensus.LedgerID, acq *acquisition, data []byte, err error) {
	a.mu.Lock()
	if acq.resolved {
		a.mu.Unlock()
		return
	}
	acq.resolved = true
	delete(a.inFlight, hash)
	a.mu.Unlock()

	acq.result = data
	acq.err = err
	close(acq.done)

	if err != nil {
		a.failures.Add(hash, a.clock.Now())
		if a.bus != nil {
			a.bus.Publish(&consensus.AcquireFailedEvent{
				LedgerID:  hash,
				Seq:       acq.seq,
				Timestamp: a.clock.Now(),
			})
		}
		return
	}

	a.recordFetch(a.clock.Now().Sub(acq.started))
}

func (a *Acquirer) recordFetch(d time.Duration) {
	a.ewmaMu.Lock()
	defer a.ewmaMu.Unlock()

	a.fetched++
	if d <= 0 {
		d = time.Millisecond
	}
	rate := 1.0 / d.Seconds()

	const alpha = 0.2 // smoothing factor, consistent with the teacher's other EWMA-style load metrics
	if a.ewmaRate == 0 {
		a.ewmaRate = rate
	} else {
		a.ewmaRate = alpha*rate + (1-alpha)*a.ewmaRate
	}
}
