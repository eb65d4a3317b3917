package main

import (
	"math"
	"math/rand"

	"github.com/konanrobot/selfcal-go/internal/calib"
)

// trueIntrinsics is θ* from scenario S1: the ground truth the engine
// must recover starting from a much coarser initial guess.
var trueIntrinsics = []float64{400, 400, 320, 240, 1.0}

// syntheticScene holds a fixed set of 3D landmarks and a deterministic
// RNG so repeated runs with the same seed are reproducible.
type syntheticScene struct {
	rng        *rand.Rand
	landmarks  [][3]float64
	width      int
	height     int
	fxOverride float64 // when non-zero, replaces fx and fy of trueIntrinsics; main never sets it
}

func newSyntheticScene(seed, width, height int) *syntheticScene {
	rng := rand.New(rand.NewSource(int64(seed)))
	s := &syntheticScene{rng: rng, width: width, height: height}
	for i := 0; i < 60; i++ {
		s.landmarks = append(s.landmarks, [3]float64{
			(rng.Float64() - 0.5) * 6,
			(rng.Float64() - 0.5) * 4,
			3 + rng.Float64()*5,
		})
	}
	return s
}

func (s *syntheticScene) intrinsics() []float64 {
	if s.fxOverride == 0 {
		return trueIntrinsics
	}
	out := append([]float64(nil), trueIntrinsics...)
	out[0] = s.fxOverride
	out[1] = s.fxOverride
	return out
}

// project maps a world-frame landmark into a pixel using the scene's
// true intrinsics, returning ok=false if it falls outside the image or
// behind the camera.
func (s *syntheticScene) project(p [3]float64) ([2]float64, bool) {
	if p[2] <= 0.1 {
		return [2]float64{}, false
	}
	intr := s.intrinsics()
	x := intr[0]*(p[0]/p[2]) + intr[2]
	y := intr[1]*(p[1]/p[2]) + intr[3]
	if x < 0 || x >= float64(s.width) || y < 0 || y >= float64(s.height) {
		return [2]float64{}, false
	}
	return [2]float64{x, y}, true
}

// feedKeyframe appends one synthetic keyframe to engine: the camera
// dollies along z and sways along x (both following sin(0.05·k)) and
// observes every currently visible landmark. Each visible landmark gets
// a fresh Track with a single observation at every keyframe; tracks from
// earlier keyframes are not extended.
func feedKeyframe(e *calib.Engine, s *syntheticScene, k int) {
	angle := float64(k) * 0.05
	camZ := 6.0 + 2*math.Sin(angle)

	var tracks []*calib.Track
	for _, lm := range s.landmarks {
		// Camera-frame position: a gentle forward dolly plus lateral sway.
		camFrame := [3]float64{lm[0] - 0.3*math.Sin(angle), lm[1], lm[2] + camZ - 6.0}
		px, ok := s.project(camFrame)
		if !ok {
			continue
		}
		px[0] += (s.rng.Float64() - 0.5) * 0.8 // pixel noise
		px[1] += (s.rng.Float64() - 0.5) * 0.8

		cam := e.LiveRig.Cameras[0]
		tr := &calib.Track{
			CenterPx:             px,
			Ray:                  cam.Unproject(px),
			Rho:                  1.0 / camFrame[2],
			NumGoodTrackedFrames: 3,
			Observations: []calib.Observation{
				{PixelX: px[0], PixelY: px[1], Tracked: true},
			},
		}
		tracks = append(tracks, tr)
	}

	gyro := [3]float64{0, 0, 0.01}
	accel := [3]float64{0, 0, -9.81}
	e.IMU.Add(gyro, accel, float64(k)*0.1)

	p := &calib.Pose{
		TWorldPose: calib.IdentityTransform(),
		Time:       float64(k) * 0.1,
		CamParams:  append([]float64(nil), e.LiveRig.CalibParams()...),
		Tracks:     tracks,
	}
	e.Store.Append(p)
}
