package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func diag(d int, v float64) [][]float64 {
	out := make([][]float64, d)
	for i := range out {
		out[i] = make([]float64, d)
		out[i][i] = v
	}
	return out
}

func TestScoreRankDeficientIsInf(t *testing.T) {
	w := NewCalibrationWindow(0, 20, 5)
	w.RankDeficient = true
	w.Covariance = diag(5, 1)
	assert.True(t, math.IsInf(Score(w, []float64{1, 1, 1.7, 1.7, 3.2e5}), 1))
}

func TestScoreNaNCovarianceIsInf(t *testing.T) {
	w := NewCalibrationWindow(0, 20, 2)
	w.Covariance[0][0] = math.NaN()
	w.Covariance[1][1] = 1
	assert.True(t, math.IsInf(Score(w, []float64{1, 1}), 1))
}

// TestScoreMonotoneUnderInflation is spec invariant 4: inflating the
// covariance by a positive-definite matrix never decreases the score.
func TestScoreMonotoneUnderInflation(t *testing.T) {
	w := NewCalibrationWindow(0, 20, 3)
	w.Covariance = [][]float64{
		{2, 0.1, 0},
		{0.1, 3, 0},
		{0, 0, 1},
	}
	weights := []float64{1, 1, 1}
	before := Score(w, weights)

	inflated := NewCalibrationWindow(0, 20, 3)
	for i := range w.Covariance {
		for j := range w.Covariance[i] {
			inflated.Covariance[i][j] = w.Covariance[i][j]
		}
		inflated.Covariance[i][i] += 0.5 // add a positive-definite diagonal
	}
	after := Score(inflated, weights)

	assert.GreaterOrEqual(t, after, before)
}

func TestIsFullRank(t *testing.T) {
	full := diag(3, 1)
	assert.True(t, IsFullRank(full, rankTol))

	deficient := diag(3, 1)
	deficient[2][2] = 0
	assert.False(t, IsFullRank(deficient, rankTol))
}
