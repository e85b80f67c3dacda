package rcl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

func TestAcquirer_DeliverCompletesInFlight(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = []consensus.NodeID{{2}, {3}}
	clock := NewManualClock(adaptor.now)
	acquirer := NewAcquirer(adaptor, clock, time.Second, 5*time.Second, nil)

	hash := consensus.LedgerID{0xAA}
	want := []byte("ledger bytes")

	var (
		got []byte
		err error
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err = acquirer.Acquire(context.Background(), hash, 101, ReasonConsensus)
	}()

	// Give the goroutine a moment to register the in-flight acquisition,
	// then deliver the bytes as if they arrived from OnLedger.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		acquirer.mu.Lock()
		_, inFlight := acquirer.inFlight[hash]
		acquirer.mu.Unlock()
		if inFlight {
			break
		}
		time.Sleep(time.Millisecond)
	}

	acquirer.Deliver(hash, want)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, acquirer.IsFailure(hash))
}

func TestAcquirer_DedupJoinsExistingAttempt(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = []consensus.NodeID{{2}}
	clock := NewManualClock(adaptor.now)
	acquirer := NewAcquirer(adaptor, clock, time.Second, 5*time.Second, nil)

	hash := consensus.LedgerID{0xBB}

	acq1, isNew1 := acquirer.joinOrStart(hash, 50)
	acq2, isNew2 := acquirer.joinOrStart(hash, 50)

	assert.True(t, isNew1)
	assert.False(t, isNew2, "a second join for the same hash must not start a new attempt")
	assert.Same(t, acq1, acq2)
}

func TestAcquirer_ExhaustedPeersRecordsFailure(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = nil // no peers to answer
	clock := NewManualClock(adaptor.now)
	bus := consensus.NewEventBus(4)
	bus.Start()
	defer bus.Stop()

	acquirer := NewAcquirer(adaptor, clock, 10*time.Millisecond, 20*time.Millisecond, bus)

	events := make(chan consensus.Event, 4)
	bus.Subscribe(eventRecorder{events})

	hash := consensus.LedgerID{0xCC}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := acquirer.Acquire(ctx, hash, 77, ReasonValidation)
	require.Error(t, err)
	assert.True(t, acquirer.IsFailure(hash))

	select {
	case event := <-events:
		failed, ok := event.(*consensus.AcquireFailedEvent)
		require.True(t, ok)
		assert.Equal(t, hash, failed.LedgerID)
		assert.EqualValues(t, 77, failed.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected an AcquireFailedEvent")
	}
}

func TestAcquirer_FailureHoldoffBlocksImmediateRetry(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = nil
	clock := NewManualClock(adaptor.now)
	acquirer := NewAcquirer(adaptor, clock, 10*time.Millisecond, 20*time.Millisecond, nil)

	hash := consensus.LedgerID{0xDD}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := acquirer.Acquire(ctx, hash, 1, ReasonConsensus)
	require.Error(t, err)
	assert.True(t, acquirer.IsFailure(hash))

	_, err = acquirer.Acquire(context.Background(), hash, 1, ReasonConsensus)
	assert.Error(t, err, "a hash in its failure holdoff must be rejected without a new peer fan-out")
}

func TestAcquirer_ClearFailureAllowsRetry(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = []consensus.NodeID{{2}}
	clock := NewManualClock(adaptor.now)
	acquirer := NewAcquirer(adaptor, clock, 10*time.Millisecond, 20*time.Millisecond, nil)

	hash := consensus.LedgerID{0xEE}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := acquirer.Acquire(ctx, hash, 1, ReasonConsensus)
	require.Error(t, err)
	require.True(t, acquirer.IsFailure(hash))

	acquirer.ClearFailure(hash)
	assert.False(t, acquirer.IsFailure(hash))
}

func TestAcquirer_FetchRateAndCountUpdateOnSuccess(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = []consensus.NodeID{{2}}
	clock := NewManualClock(adaptor.now)
	acquirer := NewAcquirer(adaptor, clock, time.Second, 5*time.Second, nil)

	assert.Zero(t, acquirer.FetchCount())
	assert.Zero(t, acquirer.FetchRate())

	hash := consensus.LedgerID{0x01}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = acquirer.Acquire(context.Background(), hash, 1, ReasonConsensus)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		acquirer.mu.Lock()
		_, inFlight := acquirer.inFlight[hash]
		acquirer.mu.Unlock()
		if inFlight {
			break
		}
		time.Sleep(time.Millisecond)
	}
	acquirer.Deliver(hash, []byte("data"))
	wg.Wait()

	assert.Equal(t, 1, acquirer.FetchCount())
	assert.Greater(t, acquirer.FetchRate(), 0.0)
}

func TestAcquirer_ContextCancelUnblocksCaller(t *testing.T) {
	adaptor := newFakeAdaptor()
	adaptor.peers = nil
	clock := NewManualClock(adaptor.now)
	acquirer := NewAcquirer(adaptor, clock, time.Minute, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hash := consensus.LedgerID{0x02}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := acquirer.Acquire(ctx, hash, 1, ReasonConsensus)
		assert.ErrorIs(t, err, context.Canceled)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after context cancellation")
	}
}

func TestAcquireReason_String(t *testing.T) {
	assert.Equal(t, "consensus", ReasonConsensus.String())
	assert.Equal(t, "validation", ReasonValidation.String())
	assert.Equal(t, "historical", ReasonHistorical.String())
}
