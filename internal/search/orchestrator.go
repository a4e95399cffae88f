// Package search runs detainee lookups end to end. The orchestrator
// validates and normalizes the query, consults the result cache, opens
// a paced scraping session, drives the attempt loop with threat-aware
// retries, ranks candidates, and records the redacted audit trail.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/detloc/detloc/internal/antidetect"
	"github.com/detloc/detloc/internal/browser"
	"github.com/detloc/detloc/internal/cache"
	"github.com/detloc/detloc/internal/config"
	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/history"
	"github.com/detloc/detloc/internal/logging"
	"github.com/detloc/detloc/internal/match"
	"github.com/detloc/detloc/internal/metrics"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/proxypool"
	"github.com/detloc/detloc/internal/session"
	"github.com/detloc/detloc/internal/traffic"
)

// Orchestrator owns the full search pipeline. One instance serves all
// tools; per-search state lives in the session it opens for each run.
type Orchestrator struct {
	cfg      *config.Config
	pool     *proxypool.Pool
	traffic  *traffic.Distributor
	coord    *antidetect.Coordinator
	sessions *session.Manager
	store    *cache.Store // nil when caching is disabled
	fallback browser.Fallback
	audit    *history.Store // nil when history is disabled
}

// New wires the pipeline from configuration. The audit store is
// optional; pass nil to skip history recording.
func New(cfg *config.Config, audit *history.Store) (*Orchestrator, error) {
	pool := proxypool.New(cfg.Proxy)
	dist := traffic.New(traffic.Config{
		Pattern:           cfg.Rate.Pattern,
		RequestsPerMinute: cfg.Rate.RequestsPerMinute,
		Burst:             cfg.Rate.BurstAllowance,
	})
	coord := antidetect.New(pool, dist)

	sessions, err := session.NewManager(cfg, pool)
	if err != nil {
		dist.Stop()
		return nil, err
	}

	var store *cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.New(cfg.CacheDir(), cfg.Cache.TTL, cfg.Cache.MaxEntries)
		if err != nil {
			dist.Stop()
			sessions.Shutdown()
			return nil, err
		}
	}

	return &Orchestrator{
		cfg:      cfg,
		pool:     pool,
		traffic:  dist,
		coord:    coord,
		sessions: sessions,
		store:    store,
		fallback: browser.New(cfg),
		audit:    audit,
	}, nil
}

// Reconfigure applies a changed rate section to the running
// distributor. Other sections require a restart.
func (o *Orchestrator) Reconfigure(cfg *config.Config) {
	o.traffic.Reconfigure(traffic.Config{
		Pattern:           cfg.Rate.Pattern,
		RequestsPerMinute: cfg.Rate.RequestsPerMinute,
		Burst:             cfg.Rate.BurstAllowance,
	})
}

// PruneCache drops expired cache entries. Safe to call on a timer.
func (o *Orchestrator) PruneCache() int {
	if o.store == nil {
		return 0
	}
	return o.store.Prune()
}

// PoolStats exposes proxy pool health for the health endpoint.
func (o *Orchestrator) PoolStats() proxypool.PoolStats {
	return o.pool.Stats()
}

// CacheLen reports resident result cache entries.
func (o *Orchestrator) CacheLen() int {
	if o.store == nil {
		return 0
	}
	return o.store.Len()
}

// Close stops the distributor and drains session resources. In-flight
// searches observe cancellation through their own contexts.
func (o *Orchestrator) Close() {
	o.traffic.Stop()
	o.sessions.Shutdown()
}

// Search executes one query end to end and returns the consumed-once
// result. Errors are always *internalerrors.SearchError.
func (o *Orchestrator) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error) {
	start := time.Now()
	ctx, corrID := logging.WithCorrelationID(ctx, logging.CorrelationID(ctx))
	tool := toolFor(q.Kind)
	logger := log.With().Str("correlation_id", corrID).Str("tool", tool).Logger()

	if err := q.Validate(); err != nil {
		serr := o.surface(err, corrID, tool, q)
		o.finish(history.Entry{
			CorrelationID: corrID,
			Tool:          tool,
			Status:        string(models.StatusError),
			ErrorKind:     string(serr.Kind),
			DurationMS:    time.Since(start).Milliseconds(),
		}, tool, string(models.StatusError), start)
		metrics.RecordSearchError(tool, string(serr.Kind))
		return nil, serr
	}

	normalized := q.Normalized()
	fingerprint := normalized.Fingerprint(o.cfg.CacheSalt)
	logger = logger.With().Str("fingerprint", shortFingerprint(fingerprint)).Logger()

	if o.store != nil {
		if hit, ok := o.store.Get(fingerprint); ok {
			hit.Metadata.Cached = true
			hit.Metadata.CorrelationID = corrID
			hit.Metadata.DurationMS = time.Since(start).Milliseconds()
			logger.Info().Str("status", string(hit.Status)).Msg("Serving cached result")
			o.finish(history.Entry{
				CorrelationID: corrID,
				Tool:          tool,
				Fingerprint:   fingerprint,
				Status:        string(hit.Status),
				Cached:        true,
				DurationMS:    hit.Metadata.DurationMS,
			}, tool, string(hit.Status), start)
			return &hit, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Search.Timeout)
	defer cancel()

	upstream := normalized
	if upstream.Kind == models.KindByFacility {
		upstream.FacilityName = literalPrefix(upstream.FacilityName)
	}

	ex, stats, err := o.execute(ctx, logger, upstream)
	if err != nil {
		serr := o.surface(err, corrID, tool, normalized)
		logger.Warn().
			Str("error_kind", string(serr.Kind)).
			Int("attempts", stats.attempts).
			Str("threat_final", stats.threat).
			Msg("Search failed")
		o.finish(history.Entry{
			CorrelationID: corrID,
			Tool:          tool,
			Fingerprint:   fingerprint,
			Status:        string(models.StatusError),
			ErrorKind:     string(serr.Kind),
			Attempts:      stats.attempts,
			DurationMS:    time.Since(start).Milliseconds(),
			ThreatFinal:   stats.threat,
		}, tool, string(models.StatusError), start)
		metrics.RecordSearchError(tool, string(serr.Kind))
		return nil, serr
	}

	records := applyFacilityFilters(normalized, ex.Records)
	total := len(records)
	// Alien-number results are always verified against the queried
	// identifier; name results rank only when fuzzy is on.
	if normalized.Fuzzy || normalized.Kind == models.KindByAlienNumber {
		records = match.Rank(normalized, records)
	}

	status := models.StatusFound
	if ex.Class == models.ClassNotFound || len(records) == 0 {
		status = models.StatusNotFound
	}

	result := &models.SearchResult{
		Status:  status,
		Records: records,
		Metadata: models.SearchMetadata{
			Timestamp:          start.UTC(),
			DurationMS:         time.Since(start).Milliseconds(),
			Language:           normalized.Language,
			CorrectionsApplied: corrections(q, normalized),
			TotalCandidates:    total,
			Attempts:           stats.attempts,
			ThreatLevelFinal:   stats.threat,
			ProxyKind:          stats.proxyKind,
			CorrelationID:      corrID,
		},
	}

	if o.store != nil {
		if err := o.store.Put(fingerprint, *result); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache result")
		}
	}

	logger.Info().
		Str("status", string(status)).
		Int("candidates", total).
		Int("returned", len(records)).
		Int("attempts", stats.attempts).
		Str("threat_final", stats.threat).
		Str("proxy_kind", stats.proxyKind).
		Bool("browser_fallback", stats.browser).
		Dur("duration", time.Since(start)).
		Msg("Search completed")

	o.finish(history.Entry{
		CorrelationID: corrID,
		Tool:          tool,
		Fingerprint:   fingerprint,
		Status:        string(status),
		Attempts:      stats.attempts,
		DurationMS:    result.Metadata.DurationMS,
		ThreatFinal:   stats.threat,
	}, tool, string(status), start)
	return result, nil
}

// finish records the audit entry and the search metric for one run.
func (o *Orchestrator) finish(entry history.Entry, tool, status string, start time.Time) {
	if o.audit != nil {
		o.audit.Record(entry)
	}
	metrics.RecordSearch(tool, status, time.Since(start))
}

// surface normalizes any run failure into the caller-facing typed
// error, attaching correlation and redacted query context.
func (o *Orchestrator) surface(err error, corrID, tool string, q models.SearchQuery) *internalerrors.SearchError {
	serr := asSearchError(err)
	serr = serr.WithCorrelationID(corrID).WithTool(tool)
	if serr.RedactedQuery == "" {
		serr = serr.WithRedactedQuery(q.Redacted())
	}
	return serr
}

func toolFor(kind models.QueryKind) string {
	switch kind {
	case models.KindByAlienNumber:
		return "search_by_alien_number"
	case models.KindByFacility:
		return "search_by_facility"
	case models.KindNatural:
		return "parse_natural_query"
	default:
		return "search_by_name"
	}
}

// corrections names the normalization adjustments applied to the raw
// query, for the response metadata.
func corrections(raw, normalized models.SearchQuery) []string {
	var out []string
	if raw.AlienNumber != "" && strings.TrimSpace(raw.AlienNumber) != normalized.AlienNumber {
		out = append(out, "alien_number_normalized")
	}
	if raw.FirstName != normalized.FirstName || raw.LastName != normalized.LastName {
		out = append(out, "name_whitespace_collapsed")
	}
	if raw.Language == "" {
		out = append(out, "language_defaulted")
	}
	return out
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
