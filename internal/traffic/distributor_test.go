package traffic

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/detloc/detloc/internal/errors"
)

// bare builds a distributor without the dispatcher goroutine, for
// deterministic unit tests of queueing and rate math.
func bare(cfg Config) *Distributor {
	d := &Distributor{
		cfg:         cfg,
		threatScale: 1.0,
		rng:         rand.New(rand.NewSource(7)),
		now:         time.Now,
	}
	d.started = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.lastSample = d.started
	d.sampledRate = cfg.RequestsPerMinute
	return d
}

func enqueue(d *Distributor, p Priority) *waiter {
	w := &waiter{priority: p, ready: make(chan struct{})}
	d.queues[p] = append(d.queues[p], w)
	return w
}

func TestDequeue_HighPriorityFirst(t *testing.T) {
	d := bare(Config{Pattern: "steady", RequestsPerMinute: 10, Burst: 3})

	low := enqueue(d, PriorityLow)
	normal := enqueue(d, PriorityNormal)
	high1 := enqueue(d, PriorityHigh)
	high2 := enqueue(d, PriorityHigh)

	assert.Same(t, high1, d.dequeue())
	assert.Same(t, high2, d.dequeue())
	assert.Same(t, normal, d.dequeue())
	assert.Same(t, low, d.dequeue())
	assert.Nil(t, d.dequeue())
}

func TestDequeue_FIFOWithinPriority(t *testing.T) {
	d := bare(Config{Pattern: "steady", RequestsPerMinute: 10, Burst: 3})

	first := enqueue(d, PriorityNormal)
	second := enqueue(d, PriorityNormal)
	third := enqueue(d, PriorityNormal)

	assert.Same(t, first, d.dequeue())
	assert.Same(t, second, d.dequeue())
	assert.Same(t, third, d.dequeue())
}

func TestDequeue_AntiStarvation(t *testing.T) {
	d := bare(Config{Pattern: "steady", RequestsPerMinute: 10, Burst: 3})

	low := enqueue(d, PriorityLow)
	var highs []*waiter
	for i := 0; i < 5; i++ {
		highs = append(highs, enqueue(d, PriorityHigh))
	}

	// Three bypasses are tolerated, then the low waiter is served.
	assert.Same(t, highs[0], d.dequeue())
	assert.Same(t, highs[1], d.dequeue())
	assert.Same(t, highs[2], d.dequeue())
	assert.Same(t, low, d.dequeue())
	assert.Same(t, highs[3], d.dequeue())
	assert.Same(t, highs[4], d.dequeue())
}

func TestDequeue_DiscardsCancelled(t *testing.T) {
	d := bare(Config{Pattern: "steady", RequestsPerMinute: 10, Burst: 3})

	gone := enqueue(d, PriorityNormal)
	gone.cancelled.Store(true)
	alive := enqueue(d, PriorityNormal)

	assert.Same(t, alive, d.dequeue())
	assert.Nil(t, d.dequeue())
	select {
	case <-gone.ready:
		t.Fatal("cancelled waiter must not be granted")
	default:
	}
}

func TestEffectiveRate_GradualRamp(t *testing.T) {
	d := bare(Config{Pattern: "gradual_ramp", RequestsPerMinute: 10, Burst: 3})

	assert.InDelta(t, 3.0, d.effectiveRateLocked(d.started), 0.001)
	assert.InDelta(t, 6.5, d.effectiveRateLocked(d.started.Add(5*time.Minute)), 0.001)
	assert.InDelta(t, 10.0, d.effectiveRateLocked(d.started.Add(rampWindow)), 0.001)
	assert.InDelta(t, 10.0, d.effectiveRateLocked(d.started.Add(time.Hour)), 0.001)
}

func TestEffectiveRate_RandomResamplesPerWindow(t *testing.T) {
	d := bare(Config{Pattern: "random", RequestsPerMinute: 10, Burst: 3})

	within := d.effectiveRateLocked(d.started.Add(10 * time.Second))
	assert.Equal(t, 10.0, within, "no resample inside the window")

	later := d.started.Add(resampleWindow + time.Second)
	resampled := d.effectiveRateLocked(later)
	assert.GreaterOrEqual(t, resampled, 5.0)
	assert.LessOrEqual(t, resampled, 15.0)

	// Stable until the next window elapses.
	assert.Equal(t, resampled, d.effectiveRateLocked(later.Add(10*time.Second)))
}

func TestAdaptive_BlocksReduceRate(t *testing.T) {
	d := bare(Config{Pattern: "adaptive", RequestsPerMinute: 10, Burst: 3})

	for i := 0; i < 3; i++ {
		d.RecordOutcome(true)
	}
	assert.Less(t, d.threatScale, 1.0)

	reduced := d.effectiveRateLocked(d.started)
	assert.Less(t, reduced, 10.0)
}

func TestAdaptive_SustainedSuccessRecovers(t *testing.T) {
	d := bare(Config{Pattern: "adaptive", RequestsPerMinute: 10, Burst: 3})

	for i := 0; i < 3; i++ {
		d.RecordOutcome(true)
	}
	floor := d.threatScale
	require.Less(t, floor, 1.0)

	for i := 0; i < adaptiveRecoveryStreak; i++ {
		d.RecordOutcome(false)
	}
	assert.Greater(t, d.threatScale, floor)
}

func TestAdaptive_IgnoredForOtherPatterns(t *testing.T) {
	d := bare(Config{Pattern: "steady", RequestsPerMinute: 10, Burst: 3})
	for i := 0; i < 10; i++ {
		d.RecordOutcome(true)
	}
	assert.Equal(t, 1.0, d.threatScale)
}

func TestBurstGap_AfterEachCluster(t *testing.T) {
	d := bare(Config{Pattern: "burst", RequestsPerMinute: 60, Burst: 5})

	d.grantCount = 0
	assert.Equal(t, time.Duration(0), d.burstGapLocked())
	d.grantCount = 3
	assert.Equal(t, time.Duration(0), d.burstGapLocked())
	d.grantCount = 5
	assert.Equal(t, 5*time.Second, d.burstGapLocked())
	d.grantCount = 10
	assert.Equal(t, 5*time.Second, d.burstGapLocked())

	steady := bare(Config{Pattern: "steady", RequestsPerMinute: 60, Burst: 5})
	steady.grantCount = 5
	assert.Equal(t, time.Duration(0), steady.burstGapLocked())
}

func TestAdmit_GrantsQueuedWaitersInOrder(t *testing.T) {
	d := New(Config{Pattern: "steady", RequestsPerMinute: 3000, Burst: 1})
	defer d.Stop()

	// Hold admissions so the queue builds deterministically.
	d.PauseFor(500 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	admit := func(name string, p Priority, wantQueued int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, d.Admit(context.Background(), p))
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}()
		require.Eventually(t, func() bool {
			depths := d.QueueDepths()
			return depths[0]+depths[1]+depths[2] >= wantQueued
		}, time.Second, time.Millisecond)
	}

	admit("low", PriorityLow, 1)
	admit("high", PriorityHigh, 2)
	wg.Wait()

	assert.Equal(t, []string{"high", "low"}, order, "high priority jumps the queue")
}

func TestAdmit_DeadlineReportsRateLimited(t *testing.T) {
	d := New(Config{Pattern: "steady", RequestsPerMinute: 60, Burst: 1})
	defer d.Stop()
	d.PauseFor(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.Admit(ctx, PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, internalerrors.KindRateLimited, internalerrors.KindOf(err))
	assert.True(t, internalerrors.IsRetryable(err))
}

func TestAdmit_CancelReportsCancelled(t *testing.T) {
	d := New(Config{Pattern: "steady", RequestsPerMinute: 60, Burst: 1})
	defer d.Stop()
	d.PauseFor(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := d.Admit(ctx, PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, internalerrors.KindCancelled, internalerrors.KindOf(err))
}

func TestStop_ReleasesWaiters(t *testing.T) {
	d := New(Config{Pattern: "steady", RequestsPerMinute: 60, Burst: 1})
	d.PauseFor(5 * time.Second)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Admit(context.Background(), PriorityNormal)
	}()

	require.Eventually(t, func() bool {
		return d.QueueDepths()[PriorityNormal] == 1
	}, time.Second, time.Millisecond)

	d.Stop()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, internalerrors.KindInternal, internalerrors.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("waiter not released on stop")
	}
}

func TestReconfigure_AppliesNewSettings(t *testing.T) {
	d := New(Config{Pattern: "steady", RequestsPerMinute: 60, Burst: 1})
	defer d.Stop()

	d.Reconfigure(Config{Pattern: "adaptive", RequestsPerMinute: 120, Burst: 5})

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, "adaptive", d.cfg.Pattern)
	assert.Equal(t, 120.0, d.cfg.RequestsPerMinute)
	assert.Equal(t, 1.0, d.threatScale, "reconfigure resets adaptive scale")
}
