package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKLDivergenceIdenticalIsZero(t *testing.T) {
	mu := []float64{1, 2}
	cov := diag(2, 1)
	div := KLDivergenceGaussian(mu, mu, cov, cov)
	assert.InDelta(t, 0, div, 1e-9)
}

func TestKLDivergencePositive(t *testing.T) {
	cov := diag(2, 1)
	div := KLDivergenceGaussian([]float64{0, 0}, []float64{5, 5}, cov, cov)
	assert.Greater(t, div, 0.0)
}

// TestYaoSymmetric is spec invariant 5: Yao/Hotelling distances are
// symmetric in their arguments.
func TestYaoSymmetric(t *testing.T) {
	mu0 := []float64{1, 2, 3}
	mu1 := []float64{1.5, 1.8, 3.2}
	cov0 := diag(3, 0.5)
	cov1 := diag(3, 0.7)

	a := Yao1965(mu0, mu1, cov0, cov1, 20, 20)
	b := Yao1965(mu1, mu0, cov1, cov0, 20, 20)

	assert.InDelta(t, a.Statistic, b.Statistic, 1e-6)
}

func TestHotellingT2Symmetric(t *testing.T) {
	mu0 := []float64{1, 2}
	mu1 := []float64{2, 1}
	cov0 := diag(2, 1)
	cov1 := diag(2, 1)

	a := HotellingT2(mu0, mu1, cov0, cov1, 10, 10)
	b := HotellingT2(mu1, mu0, cov1, cov0, 10, 10)

	assert.InDelta(t, a, b, 1e-9)
}

func TestChi2InvMonotonic(t *testing.T) {
	low := Chi2Inv(0.5, 5)
	high := Chi2Inv(0.95, 5)
	assert.Less(t, low, high)
}

func TestBhattacharyyaIdenticalIsZero(t *testing.T) {
	mu := []float64{0, 0}
	cov := diag(2, 1)
	d := BhattacharyyaDistance(mu, mu, cov, cov)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestNelVanDerMerweProducesFiniteStatistic(t *testing.T) {
	mu0 := []float64{0, 0}
	mu1 := []float64{1, 1}
	cov0 := diag(2, 1)
	cov1 := diag(2, 1.5)

	res := NelVanDerMerwe1986(mu0, mu1, cov0, cov1, 15, 15)
	assert.False(t, math.IsNaN(res.Statistic))
	assert.Greater(t, res.Statistic, 0.0)
}
