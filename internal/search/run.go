package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/detloc/detloc/internal/antidetect"
	"github.com/detloc/detloc/internal/behavior"
	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
	"github.com/detloc/detloc/internal/proxypool"
	"github.com/detloc/detloc/internal/session"
	"github.com/detloc/detloc/internal/traffic"
)

// runStats carries per-run metadata out of the attempt loop, filled in
// even when the run fails.
type runStats struct {
	attempts  int
	threat    string
	proxyKind string
	browser   bool
}

// hostileError carries a hostile classification through the retry loop
// so exhausted attempts surface with the right kind.
type hostileError struct {
	class  models.ResponseClass
	status int
}

func (e *hostileError) Error() string {
	return fmt.Sprintf("upstream responded %s (status %d)", e.class, e.status)
}

func (e *hostileError) kind() internalerrors.Kind {
	switch e.class {
	case models.ClassBlocked:
		return internalerrors.KindBlocked
	case models.ClassCaptcha:
		return internalerrors.KindCaptchaRequired
	case models.ClassRateLimited:
		return internalerrors.KindRateLimited
	default:
		return internalerrors.KindParseFailure
	}
}

// execute owns the session lifecycle for one search: open, attempt
// loop with exponential backoff, release with the final verdict.
func (o *Orchestrator) execute(ctx context.Context, logger zerolog.Logger, q models.SearchQuery) (*session.Exchange, runStats, error) {
	stats := runStats{proxyKind: "direct", threat: models.ThreatGreen.String()}

	sim, err := behavior.New(o.cfg.Behavior)
	if err != nil {
		return nil, stats, err
	}

	id := session.NewID()
	defer o.coord.EndSession(id)

	st, err := o.openSession(id, q.Language)
	if err != nil {
		return nil, stats, err
	}

	// The final outcome decides how the proxy release is scored.
	outcome := proxypool.OutcomeSuccess
	defer func() { o.sessions.Close(st, outcome) }()

	maxTries := o.cfg.Retry.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.Retry.BackoffBase

	attempt := 0
	op := func() (*session.Exchange, error) {
		attempt++
		return o.attempt(ctx, logger, st, sim, q, attempt < maxTries, &stats)
	}

	ex, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(maxTries)))

	stats.attempts = attempt
	stats.threat = o.coord.Level(id).String()
	stats.proxyKind = st.ProxyKind()

	if err != nil {
		outcome = failureOutcome(err, st.Requests() > 0)
		return nil, stats, err
	}
	return ex, stats, nil
}

// openSession acquires a session at the coordinator's current posture.
// A proxy shortage is retried once after a pool refresh.
func (o *Orchestrator) openSession(id, language string) (*session.State, error) {
	d := o.coord.Prepare(id, models.RequestNavigation)
	st, err := o.sessions.Open(id, d, language)
	if err == nil {
		return st, nil
	}
	if internalerrors.KindOf(err) != internalerrors.KindNoProxy {
		return nil, err
	}
	o.pool.Refresh()
	return o.sessions.Open(id, d, language)
}

// attempt performs one upstream exchange. Hostile classifications come
// back as retryable hostileErrors after the session has rotated;
// terminal failures are wrapped Permanent so the loop stops.
func (o *Orchestrator) attempt(ctx context.Context, logger zerolog.Logger, st *session.State, sim *behavior.Simulator, q models.SearchQuery, retriesLeft bool, stats *runStats) (*session.Exchange, error) {
	pacer := &pacing{o: o, st: st, sim: sim, logger: logger}

	var (
		ex  *session.Exchange
		err error
	)
	if o.coord.Level(st.ID) == models.ThreatRed && o.fallback.Available() {
		stats.browser = true
		ex, err = o.browserExchange(ctx, logger, st, pacer, q)
	} else {
		ex, err = st.Execute(ctx, q, pacer)
	}
	if err != nil {
		if internalerrors.IsRetryable(err) && internalerrors.KindOf(err) != internalerrors.KindNoProxy {
			return nil, err
		}
		// A proxy shortage already got its one refresh-and-retry
		// inside openSession or rotate; do not spin on it here.
		return nil, backoff.Permanent(err)
	}

	before := o.coord.Level(st.ID)
	o.coord.Observe(st.ID, ex.Class, ex.StatusCode)
	after := o.coord.Level(st.ID)
	if after != before {
		logger.Warn().
			Str("from", before.String()).
			Str("to", after.String()).
			Str("class", string(ex.Class)).
			Msg("Threat level changed")
	}

	switch ex.Class {
	case models.ClassResults, models.ClassNotFound:
		return ex, nil
	}

	sim.NoteError()
	if retriesLeft {
		// Rotate away from the burned identity before the next try.
		// The last attempt keeps its handle so the close verdict
		// lands on the proxy that served the hostile response.
		d := o.coord.Prepare(st.ID, models.RequestRetry)
		if rerr := o.rotate(st, d, hostileOutcome(ex.Class)); rerr != nil {
			return nil, backoff.Permanent(rerr)
		}
	}
	return nil, &hostileError{class: ex.Class, status: ex.StatusCode}
}

// browserExchange runs the attempt through the headless fallback,
// still subject to admission and pacing.
func (o *Orchestrator) browserExchange(ctx context.Context, logger zerolog.Logger, st *session.State, pacer *pacing, q models.SearchQuery) (*session.Exchange, error) {
	if err := pacer.BeforeRequest(ctx, models.RequestNavigation); err != nil {
		return nil, err
	}
	proxyURL := ""
	if st.Proxy != nil {
		proxyURL = st.Proxy.URL
	}
	logger.Info().Msg("Escalating to browser fallback")
	out, err := o.fallback.Search(ctx, q, st.Profile, proxyURL)
	if err != nil {
		return nil, err
	}
	return &session.Exchange{Class: out.Class, Records: out.Records}, nil
}

// rotate swaps the session identity, retrying once through a pool
// refresh when no acceptable proxy is available. A session whose
// rotation fails has no usable transport left, so the error is final.
func (o *Orchestrator) rotate(st *session.State, d antidetect.Directive, outcome proxypool.Outcome) error {
	err := o.sessions.Rotate(st, d, outcome)
	if err == nil {
		return nil
	}
	if internalerrors.KindOf(err) == internalerrors.KindNoProxy {
		o.pool.Refresh()
		if rerr := o.sessions.Rotate(st, d, outcome); rerr == nil {
			return nil
		}
	}
	return err
}

func hostileOutcome(class models.ResponseClass) proxypool.Outcome {
	if class == models.ClassBlocked || class == models.ClassCaptcha {
		return proxypool.OutcomeBlock
	}
	return proxypool.OutcomeFailure
}

// failureOutcome scores the proxy release for a failed run. Nothing
// sent means the handle never touched the upstream.
func failureOutcome(err error, sent bool) proxypool.Outcome {
	if !sent {
		return proxypool.OutcomeSuccess
	}
	var hostile *hostileError
	if errors.As(err, &hostile) {
		return hostileOutcome(hostile.class)
	}
	if internalerrors.KindOf(err) == internalerrors.KindBlocked {
		return proxypool.OutcomeBlock
	}
	return proxypool.OutcomeFailure
}

// asSearchError maps any loop error to the typed form.
func asSearchError(err error) *internalerrors.SearchError {
	var serr *internalerrors.SearchError
	if errors.As(err, &serr) {
		return serr
	}
	var hostile *hostileError
	if errors.As(err, &hostile) {
		out := internalerrors.New(hostile.kind(), "search_attempts", hostile)
		if hostile.status > 0 {
			out = out.WithStatusCode(hostile.status)
		}
		return out
	}
	return internalerrors.New(internalerrors.KindOf(err), "search_attempts", err)
}

// pacing implements session.Pacer: every outbound request first clears
// the coordinator directive, global admission, and the behavior delay.
type pacing struct {
	o      *Orchestrator
	st     *session.State
	sim    *behavior.Simulator
	logger zerolog.Logger
}

func (p *pacing) BeforeRequest(ctx context.Context, kind models.RequestKind) error {
	d := p.o.coord.Prepare(p.st.ID, kind)

	if d.PauseBefore > 0 {
		p.logger.Info().Dur("pause", d.PauseBefore).Msg("Honoring cooldown before request")
		if err := behavior.Wait(ctx, d.PauseBefore); err != nil {
			return err
		}
	}

	if err := p.o.traffic.Admit(ctx, priorityFor(kind)); err != nil {
		return err
	}

	p.sim.SetVarianceScale(d.VarianceScale)
	if d.ForceSlowProfile && p.sim.ProfileName() != "slow" {
		if err := p.sim.SetProfile("slow"); err == nil {
			p.logger.Debug().Msg("Behavior profile forced slow")
		}
	}

	// Never rotate between a form fetch and its submit; a fresh jar
	// would invalidate the CSRF binding mid-exchange.
	if kind != models.RequestFormSubmit && (d.RotateIdentity || p.st.Proxy.ShouldRotate()) {
		if err := p.o.rotate(p.st, d, proxypool.OutcomeSuccess); err != nil {
			return err
		}
	}

	if _, err := p.sim.Pause(ctx, kind); err != nil {
		return err
	}
	return nil
}

func priorityFor(kind models.RequestKind) traffic.Priority {
	switch kind {
	case models.RequestFormSubmit:
		return traffic.PriorityHigh
	case models.RequestRetry:
		return traffic.PriorityLow
	default:
		return traffic.PriorityNormal
	}
}

// applyFacilityFilters narrows facility results by the optional
// pattern and custody filters the upstream form cannot express.
func applyFacilityFilters(q models.SearchQuery, records []models.Record) []models.Record {
	if q.Kind != models.KindByFacility {
		return records
	}
	pattern := strings.ToLower(q.FacilityName)
	wildcarded := strings.ContainsAny(pattern, "*?")
	filtered := records[:0:0]
	for _, r := range records {
		if q.ActiveOnly && !strings.Contains(strings.ToLower(r.CustodyStatus), "in custody") {
			continue
		}
		if wildcarded && !wildcard.Match(pattern, strings.ToLower(r.FacilityName)) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// literalPrefix reduces a wildcard facility pattern to the literal
// text the upstream form can search on; the full pattern is then
// enforced locally by applyFacilityFilters.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?"); i >= 0 {
		return strings.TrimSpace(pattern[:i])
	}
	return pattern
}
