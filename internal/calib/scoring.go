package calib

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Score computes the weighted log-determinant admission key for a
// window: score = log(det(Σ')) where Σ'_ij = w_i · w_j · Σ_ij. Smaller
// (more negative) is more informative. Any NaN/∞ result, or a
// rank-deficient covariance, is treated as +∞ — the worst possible
// score, mirroring the teacher's hungarian.go preference for a large
// finite-ish sentinel over propagating NaN, adapted here to the
// literal +∞ the scoring rule calls for.
func Score(w *CalibrationWindow, weights []float64) float64 {
	d := w.Dim()
	if d == 0 || w.RankDeficient {
		return math.Inf(1)
	}

	weighted := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := weights[i] * weights[j] * w.Covariance[i][j]
			weighted.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(weighted); !ok {
		return math.Inf(1)
	}
	logDet := chol.LogDet()
	if math.IsNaN(logDet) || math.IsInf(logDet, 0) {
		return math.Inf(1)
	}
	return logDet
}

// Rank computes the numerical rank of a symmetric matrix stored as a
// dense [][]float64 by counting eigenvalues greater than tol; it
// returns 0 if the eigen-decomposition fails.
func Rank(cov [][]float64, tol float64) int {
	d := len(cov)
	if d == 0 {
		return 0
	}
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return 0
	}
	values := eig.Values(nil)
	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}
	return rank
}

// IsFullRank reports whether cov (d x d) has rank d, within tol.
func IsFullRank(cov [][]float64, tol float64) bool {
	return Rank(cov, tol) == len(cov)
}

func toSymDense(cov [][]float64) *mat.SymDense {
	d := len(cov)
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}
	return sym
}

func toVecDense(v []float64) *mat.VecDense {
	return mat.NewVecDense(len(v), append([]float64(nil), v...))
}
