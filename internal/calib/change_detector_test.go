package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeDetectorStaysSteadyOnConsistentDivergence(t *testing.T) {
	d := NewChangeDetector(3)
	state, _ := d.Observe(0.5, true, false, 100)
	assert.Equal(t, Steady, state)
}

func TestChangeDetectorEscalatesToRecalibrating(t *testing.T) {
	d := NewChangeDetector(3)

	state, _ := d.Observe(0.01, true, false, 100)
	assert.Equal(t, SuspectDrift, state)

	state, _ = d.Observe(0.01, true, false, 101)
	assert.Equal(t, SuspectDrift, state)

	state, start := d.Observe(0.01, true, false, 102)
	assert.Equal(t, Recalibrating, state)
	assert.GreaterOrEqual(t, start, 0)
}

func TestChangeDetectorResetsStreakOnConsistentObservation(t *testing.T) {
	d := NewChangeDetector(3)
	d.Observe(0.01, true, false, 100)
	state, _ := d.Observe(0.01, true, false, 101)
	assert.Equal(t, SuspectDrift, state)

	state, reset := d.Observe(0.9, true, false, 102)
	assert.Equal(t, Steady, state)
	assert.Equal(t, -1, reset)
}

// TestChangeDetectorNonFiniteDivergenceIsConsistent is spec §7's
// "Non-finite Divergence" policy: NaN/Inf/0 divergence never
// contributes to a drift streak.
func TestChangeDetectorNonFiniteDivergenceIsConsistent(t *testing.T) {
	d := NewChangeDetector(2)
	d.Observe(0.01, true, false, 100) // start a streak
	state, _ := d.Observe(math.NaN(), true, false, 101)
	assert.Equal(t, Steady, state)

	d2 := NewChangeDetector(2)
	d2.Observe(0.01, true, false, 100)
	state2, _ := d2.Observe(math.Inf(1), true, false, 101)
	assert.Equal(t, Steady, state2)
}

func TestChangeDetectorRequiresQueueFullAndNotAlreadyUnknown(t *testing.T) {
	d := NewChangeDetector(2)
	state, _ := d.Observe(0.01, false, false, 100)
	assert.Equal(t, Steady, state)

	d2 := NewChangeDetector(2)
	state2, _ := d2.Observe(0.01, true, true, 100)
	assert.Equal(t, Steady, state2)
}

func TestExitRecalibratingOnConvergedScore(t *testing.T) {
	d := NewChangeDetector(2)
	d.Observe(0.01, true, false, 100)
	d.Observe(0.01, true, false, 101)

	assert.True(t, d.ExitRecalibrating(1e6, 5, 10))
	state, _ := d.State()
	assert.Equal(t, Steady, state)
}

func TestExitRecalibratingOnTooLongRange(t *testing.T) {
	d := NewChangeDetector(2)
	d.Observe(0.01, true, false, 100)
	d.Observe(0.01, true, false, 101)

	assert.True(t, d.ExitRecalibrating(1e9, 25, 10))
}

func TestExitRecalibratingNoopWhenNotRecalibrating(t *testing.T) {
	d := NewChangeDetector(2)
	assert.False(t, d.ExitRecalibrating(0, 100, 10))
}
