package calib

import (
	"context"
	"time"

	"github.com/konanrobot/selfcal-go/internal/calib/ba"
)

// innerLoopSleep and outerLoopSleep mirror the original source's
// usleep(10) / usleep(1000) pacing between adaptive-conditioning
// iterations and cycles, adapted to time.Sleep since this is a Go
// goroutine rather than a busy-looping OS thread.
const (
	innerLoopSleep = 10 * time.Microsecond
	outerLoopSleep = time.Millisecond
)

// AdaptiveConditioningLoop is the background thread (spec §4.8) that
// grows the async BA's active pose window until conditioning residuals
// pass chi-square tests. It runs until ctx is cancelled — the
// cooperative cancel flag spec §5 mandates, checked at the same points
// the original sleeps.
type AdaptiveConditioningLoop struct {
	Engine *Engine

	origNumAacPoses int
	numAacPoses     int

	// prevCondError tracks the previous cycle's total conditioning error
	// so growth decisions can check "did error improve"; reset to -1
	// after each outer cycle converges (spec §4.8 step 7).
	prevCondError float64
}

// NewAdaptiveConditioningLoop returns a loop over e, starting from the
// configured num_aac_poses.
func NewAdaptiveConditioningLoop(e *Engine) *AdaptiveConditioningLoop {
	n := e.Config.GetNumAacPoses()
	return &AdaptiveConditioningLoop{Engine: e, origNumAacPoses: n, numAacPoses: n, prevCondError: -1}
}

// Run drives the outer/inner loop until ctx is cancelled. Intended to
// be launched as `go loop.Run(ctx)`.
func (l *AdaptiveConditioningLoop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if l.Engine.Store.Len() > 10 && l.Engine.Config.GetUseIMUMeasurements() && l.Engine.Config.GetDoAdaptive() {
			l.runOuterCycle(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(outerLoopSleep):
		}
	}
}

func (l *AdaptiveConditioningLoop) runOuterCycle(ctx context.Context) {
	cfg := l.Engine.Config
	for {
		if ctx.Err() != nil {
			return
		}

		l.Engine.Lock()
		l.Engine.AsyncRig.SetCalibParams(l.Engine.LiveRig.CalibParams())
		poseCount := l.Engine.Store.Len()
		l.Engine.Unlock()

		start := poseCount - l.numAacPoses
		if start < 0 {
			start = 0
		}
		mode := ba.Dispatch(true, false)
		w, err := l.Engine.RunBA(mode, start, poseCount, 1, false)
		if err != nil {
			break
		}

		grown := l.evaluateConditioning(w, cfg)
		if !grown {
			l.numAacPoses = l.origNumAacPoses
			l.prevCondError = -1
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(innerLoopSleep):
		}
	}
}

// evaluateConditioning implements spec §4.8 steps 3-5: reads the
// solver's conditioning residual statistics, computes the chi-square
// gates, and decides whether to grow the active window.
func (l *AdaptiveConditioningLoop) evaluateConditioning(w *CalibrationWindow, cfg interface {
	GetAdaptiveThreshold() float64
	GetAacPoseGrowth() int
	GetAacMinImprovement() float64
}) bool {
	chi2Visual := Chi2Inv(cfg.GetAdaptiveThreshold(), float64(2*w.NumMeasurements))
	chi2Inertial := Chi2Inv(cfg.GetAdaptiveThreshold(), float64(w.Dim()))

	totalError := w.CondProjError + w.CondInertialError
	visualRatio := 1.0
	inertialRatio := 1.0
	if chi2Visual > 0 {
		visualRatio = w.CondProjError / chi2Visual
	}
	if chi2Inertial > 0 {
		inertialRatio = w.CondInertialError / chi2Inertial
	}

	improving := l.prevCondError < 0 || totalError < l.prevCondError
	improvement := 0.0
	if l.prevCondError > 0 {
		improvement = (l.prevCondError - totalError) / l.prevCondError
	}

	grow := (inertialRatio > 1 || visualRatio > 1) && improving && improvement > cfg.GetAacMinImprovement()
	l.prevCondError = totalError
	if grow {
		l.numAacPoses += cfg.GetAacPoseGrowth()
	}
	return grow
}
