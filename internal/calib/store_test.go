package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendAssignsStableIndex(t *testing.T) {
	s := NewStore()
	i0 := s.Append(&Pose{})
	i1 := s.Append(&Pose{})
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, 2, s.Len())
}

func TestStoreRangeAndSnapshot(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Append(&Pose{Time: float64(i)})
	}
	r := s.Range(1, 3)
	require.Len(t, r, 2)
	assert.Equal(t, 1.0, r[0].Time)
	assert.Equal(t, 2.0, r[1].Time)

	snap := s.Snapshot()
	assert.Len(t, snap, 5)
}

// TestApplyCalibrationPropagatesToTracks is spec invariant 6/S6:
// applying calibration parameters updates every affected pose's
// snapshot and flags its tracks for ray re-projection.
func TestApplyCalibrationPropagatesToTracks(t *testing.T) {
	s := NewStore()
	tr := &Track{CenterPx: [2]float64{100, 100}}
	s.Append(&Pose{CamParams: []float64{1, 1, 0, 0}, Tracks: []*Track{tr}})
	s.Append(&Pose{CamParams: []float64{1, 1, 0, 0}})

	cam := &Camera{Params: []float64{50, 50, 64, 48}}
	s.ApplyCalibration(0, 1, []float64{50, 50, 64, 48}, cam)

	assert.Equal(t, []float64{50, 50, 64, 48}, s.At(0).CamParams)
	assert.True(t, tr.NeedsBackprojection)
	assert.NotEqual(t, [3]float64{}, tr.Ray)
	// Pose 1 was outside [0,1) and must be untouched.
	assert.Equal(t, []float64{1, 1, 0, 0}, s.At(1).CamParams)
}

func TestInitialPoseFromGravityIsOrthonormal(t *testing.T) {
	transform := InitialPoseFromGravity([3]float64{0, 0, -9.81})

	down := [3]float64{transform[8], transform[9], transform[10]}
	norm := math.Sqrt(down[0]*down[0] + down[1]*down[1] + down[2]*down[2])
	assert.InDelta(t, 1.0, norm, 1e-9)
	// Gravity points down (+Z accel means the sensor is accelerating
	// upward against gravity along -Z, so "down" should align with +Z
	// here since accel = (0,0,-9.81) mimics gravity pulling along -Z).
	assert.InDelta(t, 1.0, down[2], 1e-6)
}

func TestInitialPoseFromGravityDegenerateFallsBackToIdentity(t *testing.T) {
	transform := InitialPoseFromGravity([3]float64{0, 0, 0})
	assert.Equal(t, IdentityTransform(), transform)
}

func TestIntegrateIMUGuessAdvancesTranslation(t *testing.T) {
	prev := IdentityTransform()
	next := IntegrateIMUGuess(prev, [3]float64{1, 0, 0}, [3]float64{0, 0, 0}, [3]float64{0, 0, 0}, 0.1)
	assert.InDelta(t, 0.1, next[3], 1e-9)
}
