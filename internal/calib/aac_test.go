package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeAacConfig struct {
	threshold      float64
	growth         int
	minImprovement float64
}

func (c fakeAacConfig) GetAdaptiveThreshold() float64 { return c.threshold }
func (c fakeAacConfig) GetAacPoseGrowth() int          { return c.growth }
func (c fakeAacConfig) GetAacMinImprovement() float64  { return c.minImprovement }

func TestEvaluateConditioningGrowsOnImprovingHighError(t *testing.T) {
	e := newTestEngine(t)
	l := NewAdaptiveConditioningLoop(e)
	l.prevCondError = 1000

	w := NewCalibrationWindow(0, 10, 4)
	w.NumMeasurements = 20
	w.CondProjError = 100.0     // far above the visual chi2 gate at threshold 0.1
	w.CondInertialError = 100.0 // far above the inertial chi2 gate at threshold 0.1

	cfg := fakeAacConfig{threshold: 0.1, growth: 5, minImprovement: 0.0001}
	grown := l.evaluateConditioning(w, cfg)

	assert.True(t, grown)
	assert.Equal(t, l.origNumAacPoses+5, l.numAacPoses)
}

func TestEvaluateConditioningDoesNotGrowWhenNotImproving(t *testing.T) {
	e := newTestEngine(t)
	l := NewAdaptiveConditioningLoop(e)
	l.prevCondError = 1.0

	w := NewCalibrationWindow(0, 10, 4)
	w.NumMeasurements = 20
	w.CondProjError = 3.0     // sum worse than prevCondError
	w.CondInertialError = 2.0

	cfg := fakeAacConfig{threshold: 0.1, growth: 5, minImprovement: 0.0001}
	grown := l.evaluateConditioning(w, cfg)

	assert.False(t, grown)
}

func TestNewAdaptiveConditioningLoopStartsAtConfiguredPoses(t *testing.T) {
	e := newTestEngine(t)
	l := NewAdaptiveConditioningLoop(e)
	assert.Equal(t, e.Config.GetNumAacPoses(), l.numAacPoses)
	assert.Equal(t, -1.0, l.prevCondError)
}
