// Package traffic is the process-wide admission gate. All sessions
// funnel through one distributor that shapes the aggregate request
// rate to a configured pattern and arbitrates waiting searches by
// priority without starving anyone.
package traffic

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/metrics"
)

// Priority orders waiting searches. Advisory: higher priorities are
// served first but bounded skipping protects the rest.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

const (
	// A lower-priority waiter is bypassed at most this many times
	// before it is served regardless.
	starvationLimit = 3

	rampWindow     = 10 * time.Minute
	rampFloor      = 0.3
	resampleWindow = time.Minute

	adaptiveBlockThreshold = 0.2
	adaptiveFloor          = 0.1
	adaptiveRecoveryStreak = 10
)

// Config mirrors the rate section of the runtime configuration.
type Config struct {
	Pattern           string
	RequestsPerMinute float64
	Burst             int
}

type waiter struct {
	priority  Priority
	ready     chan struct{}
	cancelled atomic.Bool
	enqueued  time.Time
}

// Distributor grants admissions one at a time from a dispatcher
// goroutine, so grant ordering is always serialized.
type Distributor struct {
	mu  sync.Mutex
	cfg Config

	limiter *rate.Limiter
	queues  [3][]*waiter
	skips   [3]int

	started     time.Time
	grantCount  int
	lastSample  time.Time
	sampledRate float64
	threatScale float64
	blockEWMA   float64
	successRun  int
	pausedUntil time.Time

	rng *rand.Rand
	now func() time.Time

	wake      chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}
}

// New builds and starts a distributor.
func New(cfg Config) *Distributor {
	d := &Distributor{
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), cfg.Burst),
		threatScale: 1.0,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	d.started = d.now()
	d.lastSample = d.started
	d.sampledRate = cfg.RequestsPerMinute
	d.runCtx, d.runCancel = context.WithCancel(context.Background())
	go d.dispatch()
	log.Info().
		Str("pattern", cfg.Pattern).
		Float64("requests_per_minute", cfg.RequestsPerMinute).
		Int("burst", cfg.Burst).
		Msg("Traffic distributor started")
	return d
}

// Admit blocks until the distributor grants a slot. A deadline expiry
// while queued means the rate budget was exhausted; a plain cancel is
// reported as cancelled.
func (d *Distributor) Admit(ctx context.Context, p Priority) error {
	w := &waiter{priority: p, ready: make(chan struct{}), enqueued: d.now()}

	d.mu.Lock()
	d.queues[p] = append(d.queues[p], w)
	d.mu.Unlock()
	d.kick()

	select {
	case <-w.ready:
		metrics.RecordAdmissionWait(p.String(), d.now().Sub(w.enqueued))
		return nil
	case <-ctx.Done():
		w.cancelled.Store(true)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return internalerrors.New(internalerrors.KindRateLimited, "traffic.admit", ctx.Err())
		}
		return internalerrors.New(internalerrors.KindCancelled, "traffic.admit", ctx.Err())
	case <-d.runCtx.Done():
		return internalerrors.New(internalerrors.KindInternal, "traffic.admit",
			errors.New("distributor stopped"))
	}
}

// RecordOutcome feeds the adaptive pattern: block-rate pressure pushes
// the rate down, sustained success lets it climb back.
func (d *Distributor) RecordOutcome(blocked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	indicator := 0.0
	if blocked {
		indicator = 1.0
		d.successRun = 0
	} else {
		d.successRun++
	}
	d.blockEWMA = 0.8*d.blockEWMA + 0.2*indicator

	if d.cfg.Pattern != "adaptive" {
		return
	}
	if d.blockEWMA > adaptiveBlockThreshold && d.threatScale > adaptiveFloor {
		d.threatScale /= 2
		if d.threatScale < adaptiveFloor {
			d.threatScale = adaptiveFloor
		}
		d.blockEWMA = 0
		log.Info().Float64("scale", d.threatScale).Msg("Adaptive rate reduced after blocks")
	} else if d.successRun >= adaptiveRecoveryStreak && d.threatScale < 1.0 {
		d.threatScale *= 1.25
		if d.threatScale > 1.0 {
			d.threatScale = 1.0
		}
		d.successRun = 0
		log.Info().Float64("scale", d.threatScale).Msg("Adaptive rate recovered after sustained success")
	}
}

// PauseFor holds all admissions for the given duration. Used when the
// threat level goes red.
func (d *Distributor) PauseFor(pause time.Duration) {
	d.mu.Lock()
	until := d.now().Add(pause)
	if until.After(d.pausedUntil) {
		d.pausedUntil = until
	}
	d.mu.Unlock()
	log.Warn().Dur("pause", pause).Msg("Traffic admissions paused")
}

// Reconfigure applies a new pattern and rate, typically from a config
// reload. Queued waiters keep their places.
func (d *Distributor) Reconfigure(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.limiter.SetLimit(rate.Limit(cfg.RequestsPerMinute / 60))
	d.limiter.SetBurst(cfg.Burst)
	d.started = d.now()
	d.sampledRate = cfg.RequestsPerMinute
	d.threatScale = 1.0
	d.grantCount = 0
	d.mu.Unlock()
	log.Info().
		Str("pattern", cfg.Pattern).
		Float64("requests_per_minute", cfg.RequestsPerMinute).
		Msg("Traffic distributor reconfigured")
}

// Stop shuts the dispatcher down and releases queued waiters with an
// error.
func (d *Distributor) Stop() {
	d.runCancel()
	<-d.done
}

func (d *Distributor) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Distributor) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

func (d *Distributor) dispatch() {
	defer close(d.done)
	for {
		select {
		case <-d.runCtx.Done():
			return
		case <-d.wake:
		}

		for d.pending() > 0 {
			if !d.waitPause() {
				return
			}

			d.mu.Lock()
			d.limiter.SetLimit(rate.Limit(d.effectiveRateLocked(d.now()) / 60))
			gap := d.burstGapLocked()
			d.mu.Unlock()

			if gap > 0 && !d.sleep(gap) {
				return
			}
			if err := d.limiter.Wait(d.runCtx); err != nil {
				return
			}

			w := d.dequeue()
			if w == nil {
				continue
			}
			close(w.ready)
			d.mu.Lock()
			d.grantCount++
			d.mu.Unlock()
		}
	}
}

// waitPause sleeps out any red-level hold. Returns false on shutdown.
func (d *Distributor) waitPause() bool {
	for {
		d.mu.Lock()
		remaining := d.pausedUntil.Sub(d.now())
		d.mu.Unlock()
		if remaining <= 0 {
			return true
		}
		if !d.sleep(remaining) {
			return false
		}
	}
}

func (d *Distributor) sleep(dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-d.runCtx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// effectiveRateLocked resolves the pattern to a current
// requests-per-minute figure.
func (d *Distributor) effectiveRateLocked(now time.Time) float64 {
	base := d.cfg.RequestsPerMinute
	switch d.cfg.Pattern {
	case "gradual_ramp":
		elapsed := now.Sub(d.started)
		factor := rampFloor + (1-rampFloor)*float64(elapsed)/float64(rampWindow)
		if factor > 1 {
			factor = 1
		}
		return base * factor
	case "random":
		if now.Sub(d.lastSample) >= resampleWindow {
			d.sampledRate = base * (0.5 + d.rng.Float64())
			d.lastSample = now
		}
		return d.sampledRate
	case "adaptive":
		return base * d.threatScale
	default:
		return base
	}
}

// burstGapLocked inserts the silence between admission clusters for
// the burst pattern: after every k grants, pause long enough for k
// tokens to accumulate again.
func (d *Distributor) burstGapLocked() time.Duration {
	if d.cfg.Pattern != "burst" || d.cfg.Burst <= 0 {
		return 0
	}
	if d.grantCount == 0 || d.grantCount%d.cfg.Burst != 0 {
		return 0
	}
	perToken := time.Duration(float64(time.Minute) / d.cfg.RequestsPerMinute)
	return perToken * time.Duration(d.cfg.Burst)
}

// dequeue serves the highest-priority queue, except when a lower
// queue has been bypassed starvationLimit times in a row. FIFO within
// a queue. Cancelled waiters are discarded.
func (d *Distributor) dequeue() *waiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		serveIdx := -1
		// Overdue lower-priority queues win first.
		for i := 0; i < len(d.queues); i++ {
			if len(d.queues[i]) > 0 && d.skips[i] >= starvationLimit {
				serveIdx = i
				break
			}
		}
		if serveIdx < 0 {
			for i := len(d.queues) - 1; i >= 0; i-- {
				if len(d.queues[i]) > 0 {
					serveIdx = i
					break
				}
			}
		}
		if serveIdx < 0 {
			return nil
		}

		w := d.queues[serveIdx][0]
		d.queues[serveIdx] = d.queues[serveIdx][1:]
		if w.cancelled.Load() {
			continue
		}

		d.skips[serveIdx] = 0
		for i := 0; i < serveIdx; i++ {
			if len(d.queues[i]) > 0 {
				d.skips[i]++
			}
		}
		return w
	}
}

// QueueDepths reports waiters per priority, low to high.
func (d *Distributor) QueueDepths() [3]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [3]int
	for i, q := range d.queues {
		out[i] = len(q)
	}
	return out
}
