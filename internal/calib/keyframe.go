package calib

// minSuccessfulTracksForVisualGuess is the original source's tracking
// failure threshold: below this many successfully carried-forward
// tracks, fall back to an IMU-integrated pose guess rather than trust
// the tracker's own delta (spec §7 "Tracking Failure").
const minSuccessfulTracksForVisualGuess = 10

// NewKeyframe builds the pose for a newly detected keyframe.
//
//   - If this is the very first pose and an IMU sample is available,
//     its orientation is gravity-aligned via InitialPoseFromGravity
//     rather than left as identity (a supplemented feature grounded on
//     the original source's ProcessImage).
//   - Otherwise, when the tracker reports too few successful tracks,
//     the new pose is seeded from an IMU-integrated guess instead of
//     the tracker's own (likely unreliable) delta transform.
func (e *Engine) NewKeyframe(tracker TrackSource, t float64) *Pose {
	prevCount := e.Store.Len()

	var twp [16]float64
	var vWorld [3]float64
	var bias [6]float64

	if prevCount == 0 {
		if sample, ok := e.IMU.First(); ok {
			twp = InitialPoseFromGravity(sample.Accel)
		} else {
			twp = IdentityTransform()
		}
	} else {
		prev := e.Store.At(prevCount - 1)
		vWorld = prev.VWorld
		bias = prev.Bias

		if tracker != nil && tracker.NumSuccessfulTracks() < minSuccessfulTracksForVisualGuess {
			samples := e.IMU.GetRange(prev.Time, t)
			twp = IntegrateIMUGuessOverRange(prev.TWorldPose, vWorld, samples, prev.Time, t)
		} else if tracker != nil {
			twp = composeDelta(prev.TWorldPose, tracker.DeltaSinceKeyframe())
		} else {
			twp = prev.TWorldPose
		}
	}

	rig := e.LiveRig
	p := &Pose{
		TWorldPose: twp,
		VWorld:     vWorld,
		Bias:       bias,
		Time:       t,
		CamParams:  append([]float64(nil), rig.CalibParams()...),
	}
	e.Store.Append(p)
	return p
}

// composeDelta applies a 4x4 row-major delta transform to a previous
// world pose: result = prev * delta.
func composeDelta(prev, delta [16]float64) [16]float64 {
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += prev[r*4+k] * delta[k*4+c]
			}
			out[r*4+c] = sum
		}
	}
	return out
}
