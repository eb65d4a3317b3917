package calib

import "math"

// ChangeState is a state in the change detector's state machine
// (spec §4.6): Steady, SuspectDrift(k), Recalibrating.
type ChangeState int

const (
	Steady ChangeState = iota
	SuspectDrift
	Recalibrating
)

func (s ChangeState) String() string {
	switch s {
	case Steady:
		return "steady"
	case SuspectDrift:
		return "suspect_drift"
	case Recalibrating:
		return "recalibrating"
	default:
		return "unknown"
	}
}

// driftDivergenceThreshold is the Yao1965 divergence level below which
// a candidate window is considered statistically inconsistent with the
// queue (spec §4.6: "low div (e.g. < 0.2)").
const driftDivergenceThreshold = 0.2

// batchScoreConverged is the full-batch score threshold below which
// Recalibrating exits back to Steady (spec §4.6).
const batchScoreConverged = 1e7

// ChangeDetector tracks consecutive keyframes whose candidate window
// diverges from the queue distribution, escalating Steady ->
// SuspectDrift(k) -> Recalibrating once the streak reaches
// numChangeNeeded.
type ChangeDetector struct {
	numChangeNeeded int

	state ChangeState
	k     int
}

// NewChangeDetector returns a detector in Steady state.
func NewChangeDetector(numChangeNeeded int) *ChangeDetector {
	return &ChangeDetector{numChangeNeeded: numChangeNeeded, state: Steady}
}

// State returns the current state and, for SuspectDrift, its streak
// count k.
func (d *ChangeDetector) State() (ChangeState, int) { return d.state, d.k }

// Observe feeds one keyframe's Yao1965 divergence against the queue
// distribution and the queue's fullness, advancing the state machine.
// poseCount is the current pose-store length, used to compute
// unknownCamCalibrationStartPose on the Recalibrating transition.
//
// Returns the new state and, when it just transitioned into
// Recalibrating, the unknown-calibration start pose index.
func (d *ChangeDetector) Observe(div float64, queueFull bool, alreadyUnknown bool, poseCount int) (ChangeState, int) {
	// Non-finite divergence is treated as "consistent": the change
	// detector resets its counter rather than propagating NaN/∞ into the
	// streak (spec §7 "Non-finite Divergence").
	consistent := math.IsNaN(div) || math.IsInf(div, 0) || div == 0 || div >= driftDivergenceThreshold
	inconsistent := !consistent && div > 0

	switch d.state {
	case Steady:
		if inconsistent && queueFull && !alreadyUnknown {
			d.state = SuspectDrift
			d.k = 1
		}
	case SuspectDrift:
		if consistent {
			d.state = Steady
			d.k = 0
			return d.state, -1
		}
		d.k++
		if d.k >= d.numChangeNeeded {
			d.state = Recalibrating
			start := poseCount - d.numChangeNeeded
			if start < 0 {
				start = 0
			}
			d.k = 0
			return d.state, start
		}
	case Recalibrating:
		// Exit handled by ExitRecalibrating once the controller's batch
		// analyse converges; Observe does not itself leave Recalibrating.
	}
	return d.state, -1
}

// ExitRecalibrating transitions Recalibrating -> Steady once the
// controller's batch re-analysis has converged: either the full-batch
// score drops below batchScoreConverged, or the analysed range exceeds
// 2*selfCalSegmentLength poses.
func (d *ChangeDetector) ExitRecalibrating(batchScore float64, rangeLen, selfCalSegmentLength int) bool {
	if d.state != Recalibrating {
		return false
	}
	converged := !math.IsNaN(batchScore) && batchScore < batchScoreConverged
	tooLong := rangeLen > 2*selfCalSegmentLength
	if converged || tooLong {
		d.state = Steady
		d.k = 0
		return true
	}
	return false
}
