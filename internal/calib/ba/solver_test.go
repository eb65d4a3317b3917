package ba

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceSolverRecoversIntrinsics(t *testing.T) {
	const trueFx, trueFy, trueCx, trueCy = 500.0, 500.0, 320.0, 240.0

	s := NewReferenceSolver(Visual, 4)
	s.Init(Options{}, 1, 3)
	camID := s.AddCamera([]float64{480, 480, 310, 230}, [16]float64{})
	poseID := s.AddPose([16]float64{}, nil, [3]float64{}, [6]float64{}, true, 0)

	points := [][3]float64{
		{0.1, 0.05, 1},
		{-0.2, 0.1, 1},
		{0.05, -0.15, 1},
	}
	for _, p := range points {
		z := pinhole([]float64{trueFx, trueFy, trueCx, trueCy}, p)
		lmID := s.AddLandmark(p, 1/p[2], poseID, camID, true)
		s.AddProjectionResidual(z, poseID, lmID, camID, 1.0)
	}

	s.Solve(25)

	mean, _ := s.CalibrationPosterior()
	require.Equal(t, 4, mean.Len())
	assert.InDelta(t, trueFx, mean.AtVec(0), 1.0)
	assert.InDelta(t, trueFy, mean.AtVec(1), 1.0)
	assert.InDelta(t, trueCx, mean.AtVec(2), 1.0)
	assert.InDelta(t, trueCy, mean.AtVec(3), 1.0)
}

func TestReferenceSolverEmptyProjectionsConverges(t *testing.T) {
	s := NewReferenceSolver(Visual, 4)
	s.Init(Options{}, 1, 0)
	s.AddCamera([]float64{500, 500, 320, 240}, [16]float64{})
	s.Solve(5)
	summary := s.GetSolutionSummary()
	assert.True(t, summary.Converged)
}

func TestReferenceSolverCalibrationPosteriorCovarianceFinite(t *testing.T) {
	s := NewReferenceSolver(Visual, 4)
	s.Init(Options{}, 1, 2)
	camID := s.AddCamera([]float64{500, 500, 320, 240}, [16]float64{})
	poseID := s.AddPose([16]float64{}, nil, [3]float64{}, [6]float64{}, true, 0)
	for i := 0; i < 2; i++ {
		p := [3]float64{0.1 * float64(i+1), 0.05 * float64(i+1), 1}
		z := pinhole([]float64{500, 500, 320, 240}, p)
		lmID := s.AddLandmark(p, 1, poseID, camID, true)
		s.AddProjectionResidual(z, poseID, lmID, camID, 1.0)
	}
	s.Solve(10)

	_, cov := s.CalibrationPosterior()
	require.NotNil(t, cov)
	for i := 0; i < 4; i++ {
		assert.False(t, math.IsNaN(cov.At(i, i)))
	}
}

func TestDispatchPanicsOnDisallowedCombination(t *testing.T) {
	assert.Panics(t, func() { Dispatch(false, true) })
}

func TestDispatchModes(t *testing.T) {
	assert.Equal(t, Visual, Dispatch(false, false))
	assert.Equal(t, VI, Dispatch(true, false))
	assert.Equal(t, VIExtrinsics, Dispatch(true, true))
}

func TestModeProperties(t *testing.T) {
	assert.False(t, Visual.UsesIMU())
	assert.True(t, VI.UsesIMU())
	assert.True(t, VIExtrinsics.EstimatesExtrinsics())
	assert.False(t, VI.EstimatesExtrinsics())
	assert.True(t, ExtrinsicsOnly.EstimatesExtrinsics())
}
