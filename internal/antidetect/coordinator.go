// Package antidetect tracks per-session threat levels from response
// classifications and turns them into pipeline directives: proxy
// requirements, pacing changes, identity rotation, and cooling-off
// pauses.
package antidetect

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/detloc/detloc/internal/metrics"
	"github.com/detloc/detloc/internal/models"
)

const (
	// Consecutive clean responses required to step down one level.
	defaultCleanStepDown = 3

	// Consecutive block or CAPTCHA observations that escalate to
	// orange, then to red.
	orangeThreshold = 2
	redThreshold    = 4

	// Cooling-off pause entered with red.
	redPause = 5 * time.Minute
)

// Directive tells the pipeline how to shape the next request.
type Directive struct {
	Level              models.ThreatLevel
	ForceProxy         bool
	RequireResidential bool
	VarianceScale      float64
	ForceSlowProfile   bool
	RotateIdentity     bool
	PauseBefore        time.Duration
	UseBrowserFallback bool
}

// poolRefresher is the slice of the proxy pool the coordinator needs.
type poolRefresher interface {
	Refresh()
}

// outcomeRecorder feeds the traffic distributor's adaptive pattern.
type outcomeRecorder interface {
	RecordOutcome(blocked bool)
}

type sessionState struct {
	level         models.ThreatLevel
	cleanStreak   int
	blockStreak   int
	rotatePending bool
	pausedUntil   time.Time
}

// Coordinator composes the evasion subsystems. Observe is the only
// mutating entry point; Prepare reads the current posture.
type Coordinator struct {
	mu            sync.Mutex
	sessions      map[string]*sessionState
	pool          poolRefresher
	traffic       outcomeRecorder
	cleanStepDown int
	now           func() time.Time
}

// New wires the coordinator to the pool and distributor. Either may be
// nil in reduced setups.
func New(pool poolRefresher, traffic outcomeRecorder) *Coordinator {
	return &Coordinator{
		sessions:      make(map[string]*sessionState),
		pool:          pool,
		traffic:       traffic,
		cleanStepDown: defaultCleanStepDown,
		now:           time.Now,
	}
}

func (c *Coordinator) state(sessionID string) *sessionState {
	st, ok := c.sessions[sessionID]
	if !ok {
		st = &sessionState{level: models.ThreatGreen}
		c.sessions[sessionID] = st
	}
	return st
}

// Prepare returns the directive for the session's next request.
// The identity-rotation flag is one-shot: returned once per
// escalation, then cleared.
func (c *Coordinator) Prepare(sessionID string, kind models.RequestKind) Directive {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(sessionID)
	d := Directive{Level: st.level, VarianceScale: 1.0}

	if remaining := st.pausedUntil.Sub(c.now()); remaining > 0 {
		d.PauseBefore = remaining
	}

	switch st.level {
	case models.ThreatGreen:
	case models.ThreatYellow:
		d.ForceProxy = true
		d.VarianceScale = 1.5
	case models.ThreatOrange:
		d.ForceProxy = true
		d.RequireResidential = true
		d.VarianceScale = 1.5
		d.ForceSlowProfile = true
		if st.rotatePending {
			d.RotateIdentity = true
			st.rotatePending = false
		}
	case models.ThreatRed:
		d.ForceProxy = true
		d.RequireResidential = true
		d.VarianceScale = 1.5
		d.ForceSlowProfile = true
		d.UseBrowserFallback = true
		if st.rotatePending {
			d.RotateIdentity = true
			st.rotatePending = false
		}
	}
	return d
}

// Observe folds one classified response into the session's threat
// state. Classification plus status code drive the transitions; clean
// responses walk the level back down.
func (c *Coordinator) Observe(sessionID string, class models.ResponseClass, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(sessionID)
	from := st.level

	switch class {
	case models.ClassResults, models.ClassNotFound:
		st.blockStreak = 0
		st.cleanStreak++
		if st.cleanStreak >= c.cleanStepDown && st.level > models.ThreatGreen {
			st.level--
			st.cleanStreak = 0
		}
	case models.ClassBlocked, models.ClassCaptcha:
		st.cleanStreak = 0
		st.blockStreak++
		switch {
		case st.blockStreak >= redThreshold:
			st.level = models.ThreatRed
		case st.blockStreak >= orangeThreshold:
			st.level = maxLevel(st.level, models.ThreatOrange)
		default:
			st.level = maxLevel(st.level, models.ThreatYellow)
		}
	case models.ClassRateLimited:
		st.cleanStreak = 0
		st.level = maxLevel(st.level, models.ThreatYellow)
	default:
		// Unclassifiable responses break the clean streak but do not
		// escalate on their own.
		st.cleanStreak = 0
	}

	// Any other 4xx besides 404 is suspicious even when the body
	// still parsed as a clean result.
	if statusCode >= 400 && statusCode < 500 && statusCode != 404 {
		st.level = maxLevel(st.level, models.ThreatYellow)
	}

	if c.traffic != nil {
		c.traffic.RecordOutcome(class == models.ClassBlocked || class == models.ClassCaptcha)
	}

	if st.level != from {
		c.onTransitionLocked(sessionID, st, from)
	}
}

func (c *Coordinator) onTransitionLocked(sessionID string, st *sessionState, from models.ThreatLevel) {
	metrics.RecordThreatTransition(from.String(), st.level.String(), int(st.level))

	if st.level > from {
		switch st.level {
		case models.ThreatOrange:
			st.rotatePending = true
		case models.ThreatRed:
			st.rotatePending = true
			st.pausedUntil = c.now().Add(redPause)
			if c.pool != nil {
				c.pool.Refresh()
			}
		}
	}

	evt := log.Info()
	if st.level >= models.ThreatOrange {
		evt = log.Warn()
	}
	evt.
		Str("session", sessionID).
		Str("from", from.String()).
		Str("to", st.level.String()).
		Msg("Threat level changed")
}

// Level returns the session's current threat level.
func (c *Coordinator) Level(sessionID string) models.ThreatLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(sessionID).level
}

// EndSession drops per-session state once a search finishes.
func (c *Coordinator) EndSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

func maxLevel(a, b models.ThreatLevel) models.ThreatLevel {
	if a > b {
		return a
	}
	return b
}
