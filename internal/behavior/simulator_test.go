package behavior

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/detloc/detloc/internal/errors"
	"github.com/detloc/detloc/internal/models"
)

func seeded(t *testing.T, profile string, seed int64) *Simulator {
	t.Helper()
	s, err := New(profile)
	require.NoError(t, err)
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

func TestNew_UnknownProfile(t *testing.T) {
	_, err := New("frantic")
	assert.Error(t, err)
}

func TestDelay_WithinProfileRange(t *testing.T) {
	tests := []struct {
		profile  string
		min, max time.Duration
	}{
		{"fast", 500 * time.Millisecond, 1500 * time.Millisecond},
		{"normal", 1 * time.Second, 3 * time.Second},
		{"slow", 2 * time.Second, 6 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			for seed := int64(0); seed < 50; seed++ {
				s := seeded(t, tt.profile, seed)
				d := s.Delay(models.RequestNavigation)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}

func TestDelay_KindMultipliers(t *testing.T) {
	// Same seed, same draw: the only difference is the action scale.
	nav := seeded(t, "normal", 9).Delay(models.RequestNavigation)
	fetch := seeded(t, "normal", 9).Delay(models.RequestFormFetch)
	submit := seeded(t, "normal", 9).Delay(models.RequestFormSubmit)
	retry := seeded(t, "normal", 9).Delay(models.RequestRetry)

	assert.InDelta(t, 0.8, float64(fetch)/float64(nav), 0.001)
	assert.InDelta(t, 1.4, float64(submit)/float64(nav), 0.001)
	assert.InDelta(t, 1.8, float64(retry)/float64(nav), 0.001)
}

func TestFatigue_GrowsAndCaps(t *testing.T) {
	s := seeded(t, "normal", 1)

	assert.Equal(t, 1.0, s.fatigueFactorLocked())

	s.requests = 7
	assert.InDelta(t, 1.1, s.fatigueFactorLocked(), 1e-9)

	s.requests = 21
	assert.InDelta(t, 1.3, s.fatigueFactorLocked(), 1e-9)

	s.requests = 10000
	assert.Equal(t, 3.0, s.fatigueFactorLocked())
}

func TestDelay_ErrorPenaltyAppliedOnce(t *testing.T) {
	plain := seeded(t, "normal", 4)
	penalized := seeded(t, "normal", 4)
	penalized.NoteError()

	base := plain.Delay(models.RequestNavigation)
	withPenalty := penalized.Delay(models.RequestNavigation)

	extra := withPenalty - base
	assert.GreaterOrEqual(t, extra, time.Second)
	assert.LessOrEqual(t, extra, 3*time.Second)

	// Penalty is consumed by the draw.
	assert.False(t, penalized.pendingError)
}

func TestDelay_VarianceScaleWidensJitter(t *testing.T) {
	spread := func(scale float64) time.Duration {
		s := seeded(t, "normal", 11)
		s.SetVarianceScale(scale)
		var lo, hi time.Duration
		for i := 0; i < 200; i++ {
			s.requests = 0 // hold fatigue constant
			d := s.Delay(models.RequestNavigation)
			if lo == 0 || d < lo {
				lo = d
			}
			if d > hi {
				hi = d
			}
		}
		return hi - lo
	}

	assert.Greater(t, spread(1.5), spread(1.0))
}

func TestClamp_Bounds(t *testing.T) {
	assert.Equal(t, minDelay, clamp(time.Millisecond))
	assert.Equal(t, maxDelay, clamp(time.Minute))
	assert.Equal(t, time.Second, clamp(time.Second))
}

func TestSetProfile_SwitchesPacing(t *testing.T) {
	s := seeded(t, "fast", 2)
	require.NoError(t, s.SetProfile("slow"))
	assert.Equal(t, "slow", s.ProfileName())

	assert.Error(t, s.SetProfile("bogus"))
	assert.Equal(t, "slow", s.ProfileName(), "failed switch keeps previous profile")
}

func TestWait_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Wait(ctx, 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, internalerrors.KindCancelled, internalerrors.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_CompletesShortDelay(t *testing.T) {
	err := Wait(context.Background(), 5*time.Millisecond)
	assert.NoError(t, err)
}
