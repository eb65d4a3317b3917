package calib

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestRigCloneIsDeepCopy(t *testing.T) {
	rig := &Rig{Cameras: []Camera{{Params: []float64{500, 500, 320, 240}, Width: 640, Height: 480}}}
	clone := rig.Clone()

	if diff := cmp.Diff(rig, clone); diff != "" {
		t.Fatalf("clone diverged from original before mutation (-want +got):\n%s", diff)
	}

	clone.Cameras[0].Params[0] = 999
	assert.Equal(t, 500.0, rig.Cameras[0].Params[0], "mutating the clone must not affect the original")
}

func TestCameraUnprojectRoundTripsThroughPinhole(t *testing.T) {
	cam := &Camera{Params: []float64{500, 500, 320, 240}}
	ray := cam.Unproject([2]float64{320, 240})
	assert.InDelta(t, 0, ray[0], 1e-9)
	assert.InDelta(t, 0, ray[1], 1e-9)
	assert.InDelta(t, 1, ray[2], 1e-9)
}

func TestTrackAdmissible(t *testing.T) {
	tr := &Track{NumGoodTrackedFrames: 2}
	assert.True(t, tr.Admissible())

	tr.IsOutlier = true
	assert.False(t, tr.Admissible())
}
