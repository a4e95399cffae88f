// Package behavior paces outbound requests on a human-like schedule:
// profile-based delays with jitter, per-action scaling, gradual
// session fatigue, and hesitation after errors.
package behavior

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

// Profile defines a pacing personality. Delays draw uniformly from
// Base±Jitter before action scaling.
type Profile struct {
	Name   string
	Base   time.Duration
	Jitter time.Duration
}

var profiles = map[string]Profile{
	"fast":   {Name: "fast", Base: 1 * time.Second, Jitter: 500 * time.Millisecond},
	"normal": {Name: "normal", Base: 2 * time.Second, Jitter: 1 * time.Second},
	"slow":   {Name: "slow", Base: 4 * time.Second, Jitter: 2 * time.Second},
}

// Per-action multipliers. Fetching a form is quick, filling and
// submitting takes longer, and a human retries hesitantly.
var kindMultipliers = map[models.RequestKind]float64{
	models.RequestFormFetch:  0.8,
	models.RequestFormSubmit: 1.4,
	models.RequestNavigation: 1.0,
	models.RequestRetry:      1.8,
}

const (
	minDelay = 100 * time.Millisecond
	maxDelay = 30 * time.Second

	// Fatigue adds 10% per block of requests, capped at 3x.
	fatigueStep    = 0.10
	fatigueBlock   = 7
	fatigueCeiling = 3.0
)

// Simulator tracks one session's pacing state.
type Simulator struct {
	mu            sync.Mutex
	profile       Profile
	varianceScale float64
	requests      int
	pendingError  bool
	rng           *rand.Rand
}

// New creates a simulator with the named profile.
func New(profileName string) (*Simulator, error) {
	p, ok := profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("behavior: unknown profile %q", profileName)
	}
	return &Simulator{
		profile:       p,
		varianceScale: 1.0,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// SetProfile switches the pacing personality mid-session. Used by
// configuration reloads and by threat escalation forcing slow pacing.
func (s *Simulator) SetProfile(name string) error {
	p, ok := profiles[name]
	if !ok {
		return fmt.Errorf("behavior: unknown profile %q", name)
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return nil
}

// ProfileName returns the active profile.
func (s *Simulator) ProfileName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Name
}

// SetVarianceScale widens or narrows jitter. Threat escalation raises
// it so timing becomes less regular.
func (s *Simulator) SetVarianceScale(scale float64) {
	s.mu.Lock()
	if scale > 0 {
		s.varianceScale = scale
	}
	s.mu.Unlock()
}

// NoteError makes the next delay include a hesitation penalty, the way
// a person pauses after something goes wrong.
func (s *Simulator) NoteError() {
	s.mu.Lock()
	s.pendingError = true
	s.mu.Unlock()
}

// Delay computes the next pause for the given action and advances the
// session's fatigue state.
func (s *Simulator) Delay(kind models.RequestKind) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	jitter := time.Duration(float64(s.profile.Jitter) * s.varianceScale)
	spread := (s.rng.Float64()*2 - 1) * float64(jitter)
	d := float64(s.profile.Base) + spread

	if m, ok := kindMultipliers[kind]; ok {
		d *= m
	}
	d *= s.fatigueFactorLocked()

	if s.pendingError {
		d += float64(time.Second) + s.rng.Float64()*float64(2*time.Second)
		s.pendingError = false
	}

	s.requests++
	return clamp(time.Duration(d))
}

// fatigueFactorLocked grows with session length: a person slows down
// the longer they keep at it.
func (s *Simulator) fatigueFactorLocked() float64 {
	f := 1.0 + fatigueStep*float64(s.requests/fatigueBlock)
	if f > fatigueCeiling {
		f = fatigueCeiling
	}
	return f
}

func clamp(d time.Duration) time.Duration {
	if d < minDelay {
		return minDelay
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Pause computes the delay for kind and sleeps it out, honoring
// cancellation. It returns the intended delay even when cut short.
func (s *Simulator) Pause(ctx context.Context, kind models.RequestKind) (time.Duration, error) {
	d := s.Delay(kind)
	if err := Wait(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// Wait sleeps for d or until the context ends.
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return internalerrors.New(internalerrors.KindCancelled, "behavior.wait", ctx.Err())
	case <-timer.C:
		return nil
	}
}
