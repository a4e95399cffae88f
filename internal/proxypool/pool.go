// Package proxypool manages a scored pool of outbound proxies with
// health tracking, quarantine, and lazy rotation.
package proxypool

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/detloc/detloc/internal/config"
	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/metrics"
	"github.com/detloc/detloc/internal/models"
)

const (
	quarantineBase = 60 * time.Second
	quarantineCap  = 30 * time.Minute

	// Selection happens over the top scorers, weighted by score, so a
	// single best proxy does not absorb every request.
	selectionTopK = 3

	// Latency above this ceiling scores as fully slow.
	latencyCeiling = 10 * time.Second

	// A proxy used within this window takes a score penalty; one idle
	// for restPeriod earns the full recency bonus.
	recentUseWindow = 60 * time.Second
	restPeriod      = 5 * time.Minute
)

// Outcome is the caller's verdict when returning a handle.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeBlock
)

// proxy is the pool's internal record for one endpoint.
type proxy struct {
	provider config.ProxyProvider

	successes    int
	failures     int
	consecFails  int
	totalReqs    int
	avgLatency   time.Duration
	lastUsed     time.Time
	borrowed     bool
	borrowedAt   time.Time
	borrowedReqs int

	quarantinedUntil time.Time
	backoff          time.Duration
	quarantines      int
}

// Handle is a borrowed proxy. Callers record per-request results on
// the handle and return it with Release. A nil Proxy URL means the
// pool granted a direct connection.
type Handle struct {
	pool *Pool
	p    *proxy // nil for direct connections

	URL  string
	Kind models.ProxyKind
}

// AcquireOptions narrows selection.
type AcquireOptions struct {
	RequireResidential bool
}

// Pool tracks proxy health and hands out scored selections.
type Pool struct {
	mu  sync.Mutex
	cfg config.ProxyConfig

	proxies []*proxy
	rng     *rand.Rand
	now     func() time.Time
}

// New builds a pool from the configured providers.
func New(cfg config.ProxyConfig) *Pool {
	p := &Pool{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	for _, provider := range cfg.Providers {
		p.proxies = append(p.proxies, &proxy{provider: provider})
	}
	log.Info().
		Int("providers", len(p.proxies)).
		Bool("enabled", cfg.Enabled).
		Bool("allow_direct", cfg.AllowDirect).
		Msg("Proxy pool initialized")
	return p
}

// Acquire selects the healthiest available proxy. When the pool is
// disabled or empty and direct connections are permitted, it returns a
// direct handle. With no eligible proxy the error is recoverable: the
// caller may retry after quarantines lapse.
func (p *Pool) Acquire(opts AcquireOptions) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.Enabled || len(p.proxies) == 0 {
		if p.cfg.AllowDirect && !opts.RequireResidential {
			return &Handle{pool: p, Kind: "direct"}, nil
		}
		metrics.ProxyAcquireFailuresTotal.Inc()
		return nil, internalerrors.New(internalerrors.KindNoProxy, "proxypool.acquire",
			fmt.Errorf("pool disabled and direct connections not permitted"))
	}

	now := p.now()
	candidates := p.eligibleLocked(now, opts)
	if len(candidates) == 0 {
		if p.cfg.AllowDirect && !opts.RequireResidential {
			return &Handle{pool: p, Kind: "direct"}, nil
		}
		metrics.ProxyAcquireFailuresTotal.Inc()
		return nil, internalerrors.New(internalerrors.KindNoProxy, "proxypool.acquire",
			fmt.Errorf("no healthy proxy available (%d quarantined)", p.quarantinedCountLocked(now)))
	}

	chosen := p.selectLocked(candidates, now)
	chosen.borrowed = true
	chosen.borrowedAt = now
	chosen.borrowedReqs = 0
	chosen.lastUsed = now

	p.publishGaugesLocked(now)
	return &Handle{
		pool: p,
		p:    chosen,
		URL:  chosen.provider.URL,
		Kind: chosen.provider.Kind,
	}, nil
}

// eligibleLocked filters out quarantined, borrowed, and kind-mismatched
// proxies. Quarantine expiry is checked lazily here rather than on a
// timer.
func (p *Pool) eligibleLocked(now time.Time, opts AcquireOptions) []*proxy {
	var out []*proxy
	for _, px := range p.proxies {
		if px.borrowed {
			continue
		}
		if now.Before(px.quarantinedUntil) {
			continue
		}
		if opts.RequireResidential && px.provider.Kind != models.ProxyResidential {
			continue
		}
		out = append(out, px)
	}
	return out
}

// selectLocked ranks candidates and picks by weighted random over the
// top scorers. Ties rank by fewest consecutive failures, then fewest
// total requests.
func (p *Pool) selectLocked(candidates []*proxy, now time.Time) *proxy {
	type scored struct {
		px    *proxy
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, px := range candidates {
		ranked = append(ranked, scored{px: px, score: p.score(px, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].px.consecFails != ranked[j].px.consecFails {
			return ranked[i].px.consecFails < ranked[j].px.consecFails
		}
		return ranked[i].px.totalReqs < ranked[j].px.totalReqs
	})

	k := selectionTopK
	if k > len(ranked) {
		k = len(ranked)
	}
	top := ranked[:k]

	total := 0.0
	for _, s := range top {
		total += weightFor(s.score)
	}
	pick := p.rng.Float64() * total
	for _, s := range top {
		pick -= weightFor(s.score)
		if pick <= 0 {
			return s.px
		}
	}
	return top[len(top)-1].px
}

// weightFor keeps zero or negative scores selectable at low probability.
func weightFor(score float64) float64 {
	if score < 0.01 {
		return 0.01
	}
	return score
}

// score computes proxy health in [roughly -0.1, 1.2]:
// 50% success rate, 20% configured reputation, 20% latency,
// 10% rest recency, plus a residential bonus and a recent-use penalty.
func (p *Pool) score(px *proxy, now time.Time) float64 {
	successRate := 0.5 // neutral until proven either way
	if px.totalReqs > 0 {
		successRate = float64(px.successes) / float64(px.totalReqs)
	}

	latencyScore := 1.0
	if px.avgLatency > 0 {
		norm := float64(px.avgLatency) / float64(latencyCeiling)
		if norm > 1 {
			norm = 1
		}
		latencyScore = 1 - norm
	}

	recency := 1.0
	if !px.lastUsed.IsZero() {
		idle := now.Sub(px.lastUsed)
		if idle < restPeriod {
			recency = float64(idle) / float64(restPeriod)
		}
	}

	score := 0.5*successRate + 0.2*px.provider.Reputation + 0.2*latencyScore + 0.1*recency

	if px.provider.Kind == models.ProxyResidential {
		score += 0.1
	}
	if !px.lastUsed.IsZero() && now.Sub(px.lastUsed) < recentUseWindow {
		score -= 0.1
	}
	return score
}

// RecordRequest notes one request sent through the handle and folds
// the observed latency into the proxy's average.
func (h *Handle) RecordRequest(latency time.Duration) {
	if h.p == nil {
		return
	}
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	h.p.totalReqs++
	h.p.borrowedReqs++
	h.p.lastUsed = h.pool.now()
	if h.p.avgLatency == 0 {
		h.p.avgLatency = latency
	} else {
		h.p.avgLatency = time.Duration(0.7*float64(h.p.avgLatency) + 0.3*float64(latency))
	}
}

// ShouldRotate reports whether the handle has exceeded its request or
// time budget. Rotation is lazy: the caller releases and re-acquires
// at the next convenient boundary.
func (h *Handle) ShouldRotate() bool {
	if h.p == nil {
		return false
	}
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	if h.p.borrowedReqs >= h.pool.cfg.RotationRequests {
		return true
	}
	return h.pool.now().Sub(h.p.borrowedAt) >= h.pool.cfg.RotationWindow
}

// Release returns the handle with a verdict. Success clears the
// failure streak and the escalation backoff. Three consecutive
// failures quarantine the proxy with doubling backoff; a block report
// quarantines immediately and doubles the backoff again.
func (p *Pool) Release(h *Handle, outcome Outcome) {
	if h == nil || h.p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	px := h.p
	px.borrowed = false
	now := p.now()

	switch outcome {
	case OutcomeSuccess:
		px.successes++
		px.consecFails = 0
		px.backoff = 0
	case OutcomeFailure:
		px.failures++
		px.consecFails++
		if px.consecFails >= 3 {
			p.quarantineLocked(px, now)
		}
	case OutcomeBlock:
		px.failures++
		px.consecFails++
		p.quarantineLocked(px, now)
		px.backoff = minDuration(px.backoff*2, quarantineCap)
		px.quarantinedUntil = now.Add(px.backoff)
		log.Warn().
			Str("proxy", px.provider.URL).
			Dur("backoff", px.backoff).
			Msg("Proxy reported blocked")
	}

	p.publishGaugesLocked(now)
}

func (p *Pool) quarantineLocked(px *proxy, now time.Time) {
	if px.backoff == 0 {
		px.backoff = quarantineBase
	} else {
		px.backoff = minDuration(px.backoff*2, quarantineCap)
	}
	px.quarantinedUntil = now.Add(px.backoff)
	px.quarantines++
	px.consecFails = 0
	metrics.ProxyQuarantinesTotal.Inc()
	log.Info().
		Str("proxy", px.provider.URL).
		Dur("backoff", px.backoff).
		Int("quarantines", px.quarantines).
		Msg("Proxy quarantined")
}

// Refresh lifts all quarantines and failure streaks. Used when the
// coordinator orders a pool reset after a cooling-off pause.
func (p *Pool) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, px := range p.proxies {
		px.quarantinedUntil = time.Time{}
		px.backoff = 0
		px.consecFails = 0
	}
	p.publishGaugesLocked(p.now())
	log.Info().Int("proxies", len(p.proxies)).Msg("Proxy pool refreshed")
}

func (p *Pool) quarantinedCountLocked(now time.Time) int {
	n := 0
	for _, px := range p.proxies {
		if now.Before(px.quarantinedUntil) {
			n++
		}
	}
	return n
}

func (p *Pool) publishGaugesLocked(now time.Time) {
	quarantined := p.quarantinedCountLocked(now)
	metrics.RecordProxyPool(len(p.proxies)-quarantined, quarantined)
}

// ProxyStats is a diagnostic snapshot of one pool entry.
type ProxyStats struct {
	URL             string           `json:"url"`
	Kind            models.ProxyKind `json:"kind"`
	Region          string           `json:"region,omitempty"`
	Score           float64          `json:"score"`
	Successes       int              `json:"successes"`
	Failures        int              `json:"failures"`
	ConsecFailures  int              `json:"consecutive_failures"`
	TotalRequests   int              `json:"total_requests"`
	AvgLatencyMS    int64            `json:"avg_latency_ms"`
	Quarantined     bool             `json:"quarantined"`
	QuarantineUntil *time.Time       `json:"quarantine_until,omitempty"`
	Borrowed        bool             `json:"borrowed"`
}

// PoolStats summarizes the pool.
type PoolStats struct {
	Enabled     bool         `json:"enabled"`
	Total       int          `json:"total"`
	Available   int          `json:"available"`
	Quarantined int          `json:"quarantined"`
	Proxies     []ProxyStats `json:"proxies"`
}

// Stats returns a point-in-time view of pool health.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := PoolStats{Enabled: p.cfg.Enabled, Total: len(p.proxies)}
	for _, px := range p.proxies {
		quarantined := now.Before(px.quarantinedUntil)
		ps := ProxyStats{
			URL:            px.provider.URL,
			Kind:           px.provider.Kind,
			Region:         px.provider.Region,
			Score:          p.score(px, now),
			Successes:      px.successes,
			Failures:       px.failures,
			ConsecFailures: px.consecFails,
			TotalRequests:  px.totalReqs,
			AvgLatencyMS:   px.avgLatency.Milliseconds(),
			Quarantined:    quarantined,
			Borrowed:       px.borrowed,
		}
		if quarantined {
			until := px.quarantinedUntil
			ps.QuarantineUntil = &until
		} else {
			stats.Available++
		}
		stats.Proxies = append(stats.Proxies, ps)
	}
	stats.Quarantined = stats.Total - stats.Available
	return stats
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
