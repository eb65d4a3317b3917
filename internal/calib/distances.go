package calib

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Chi2Inv is the inverse CDF ("chi2inv") of the chi-square distribution
// with k degrees of freedom, evaluated at probability p — used both by
// the Yao/Nel-Van der Merwe p-value conversions and by the adaptive
// conditioning loop's chi-square gates.
func Chi2Inv(p float64, k float64) float64 {
	if k <= 0 {
		return 0
	}
	d := distuv.ChiSquared{K: k}
	return d.Quantile(p)
}

// Chi2CDF is the chi-square cumulative distribution function, used to
// convert a T²-like statistic into a p-value.
func Chi2CDF(x float64, k float64) float64 {
	if k <= 0 {
		return 0
	}
	d := distuv.ChiSquared{K: k}
	return d.CDF(x)
}

// symCovInverse returns Σ⁻¹ via Cholesky, or nil if Σ is not SPD.
func symCovInverse(sym *mat.SymDense) *mat.SymDense {
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil
	}
	return &inv
}

// KLDivergenceGaussian computes the symmetric Kullback-Leibler
// divergence between two multivariate Gaussians N(mu0,cov0) and
// N(mu1,cov1): ½(KL(0‖1) + KL(1‖0)).
func KLDivergenceGaussian(mu0, mu1 []float64, cov0, cov1 [][]float64) float64 {
	d := len(mu0)
	s0 := toSymDense(cov0)
	s1 := toSymDense(cov1)

	inv0 := symCovInverse(s0)
	inv1 := symCovInverse(s1)
	if inv0 == nil || inv1 == nil {
		return math.NaN()
	}

	var chol0, chol1 mat.Cholesky
	if !chol0.Factorize(s0) || !chol1.Factorize(s1) {
		return math.NaN()
	}
	logDet0 := chol0.LogDet()
	logDet1 := chol1.LogDet()

	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, mu1[i]-mu0[i])
	}

	kl01 := klOneDirection(s1, inv0, logDet0, logDet1, diff, d)
	diffRev := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diffRev.SetVec(i, mu0[i]-mu1[i])
	}
	kl10 := klOneDirection(s0, inv1, logDet1, logDet0, diffRev, d)

	return 0.5 * (kl01 + kl10)
}

// klOneDirection computes KL(N(mu1,cov1) ‖ N(mu0,cov0)) given Σ1,
// Σ0⁻¹, log|Σ0|, log|Σ1| and (mu1-mu0).
func klOneDirection(cov1 *mat.SymDense, inv0 *mat.SymDense, logDet0, logDet1 float64, diff *mat.VecDense, d int) float64 {
	var trace float64
	var prod mat.Dense
	prod.Mul(inv0, cov1)
	for i := 0; i < d; i++ {
		trace += prod.At(i, i)
	}

	var tmp mat.VecDense
	tmp.MulVec(inv0, diff)
	mahalanobis := mat.Dot(diff, &tmp)

	return 0.5 * (logDet0 - logDet1 - float64(d) + trace + mahalanobis)
}

// HotellingT2 computes the two-sample Hotelling T² statistic on
// (mu0-mu1) with pooled covariance weighted by sample sizes n0, n1.
func HotellingT2(mu0, mu1 []float64, cov0, cov1 [][]float64, n0, n1 int) float64 {
	d := len(mu0)
	pooled := mat.NewSymDense(d, nil)
	denom := float64(n0 + n1 - 2)
	if denom <= 0 {
		denom = 1
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := (float64(n0-1)*cov0[i][j] + float64(n1-1)*cov1[i][j]) / denom
			pooled.SetSym(i, j, v)
		}
	}
	inv := symCovInverse(pooled)
	if inv == nil {
		return math.NaN()
	}
	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, mu0[i]-mu1[i])
	}
	var tmp mat.VecDense
	tmp.MulVec(inv, diff)
	m := mat.Dot(diff, &tmp)
	scale := float64(n0*n1) / float64(n0+n1)
	return scale * m
}

// BhattacharyyaDistance computes ⅛(µ0-µ1)ᵀΣ̄⁻¹(µ0-µ1) + ½ln(|Σ̄|/√(|Σ0||Σ1|))
// with Σ̄ = ½(Σ0+Σ1).
func BhattacharyyaDistance(mu0, mu1 []float64, cov0, cov1 [][]float64) float64 {
	d := len(mu0)
	avg := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			avg.SetSym(i, j, 0.5*(cov0[i][j]+cov1[i][j]))
		}
	}
	invAvg := symCovInverse(avg)
	if invAvg == nil {
		return math.NaN()
	}
	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, mu0[i]-mu1[i])
	}
	var tmp mat.VecDense
	tmp.MulVec(invAvg, diff)
	mahalanobis := mat.Dot(diff, &tmp)

	var cholAvg, chol0, chol1 mat.Cholesky
	s0 := toSymDense(cov0)
	s1 := toSymDense(cov1)
	if !cholAvg.Factorize(avg) || !chol0.Factorize(s0) || !chol1.Factorize(s1) {
		return math.NaN()
	}
	logDetTerm := cholAvg.LogDet() - 0.5*(chol0.LogDet()+chol1.LogDet())

	return mahalanobis/8 + logDetTerm/2
}

// Yao1965Result is the statistic and effective degrees of freedom
// produced by the Yao (1965) approximation, plus the derived p-value.
type Yao1965Result struct {
	Statistic float64
	DOF       float64
	PValue    float64
}

// Yao1965 approximates the two-sample T² statistic for unequal
// covariances and converts it to a p-value via the chi-square CDF with
// the approximation's effective degrees of freedom. This is the change
// detector's default distance.
func Yao1965(mu0, mu1 []float64, cov0, cov1 [][]float64, n0, n1 int) Yao1965Result {
	d := len(mu0)
	s0 := toSymDense(cov0)
	s1 := toSymDense(cov1)

	// Pooled-for-statistic covariance S = Σ0/n0 + Σ1/n1.
	pooled := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			pooled.SetSym(i, j, cov0[i][j]/float64(n0)+cov1[i][j]/float64(n1))
		}
	}
	inv := symCovInverse(pooled)
	if inv == nil {
		return Yao1965Result{Statistic: math.NaN(), DOF: math.NaN(), PValue: math.NaN()}
	}
	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, mu0[i]-mu1[i])
	}
	var tmp mat.VecDense
	tmp.MulVec(inv, diff)
	stat := mat.Dot(diff, &tmp)

	// Effective degrees of freedom (Yao 1965 / Welch-Satterthwaite style):
	// f = d² / (t0²/(n0-1) + t1²/(n1-1)) with t_i = tr(S⁻¹Σi/ni), where
	// t0+t1 = d. f grows with n0,n1 (2(n-1) for equal sizes and equal
	// covariances) and is floored at 1.
	var invS0, invS1 mat.Dense
	invS0.Mul(inv, s0)
	var numTrace, denomTrace float64
	for i := 0; i < d; i++ {
		numTrace += invS0.At(i, i) / float64(n0)
	}
	invS1.Mul(inv, s1)
	for i := 0; i < d; i++ {
		denomTrace += invS1.At(i, i) / float64(n1)
	}
	sumSq := numTrace*numTrace/float64(n0-1) + denomTrace*denomTrace/float64(n1-1)
	dof := float64(d)
	if sumSq > 0 {
		dof = float64(d*d) / sumSq
	}
	if dof < 1 {
		dof = 1
	}

	return Yao1965Result{
		Statistic: stat,
		DOF:       dof,
		PValue:    1 - Chi2CDF(stat, dof),
	}
}

// NelVanDerMerwe1986 is the Nel-Van der Merwe (1986) alternative
// approximation for the same two-sample-unequal-covariance problem,
// kept alongside Yao1965 for diagnostics (spec §4.4: "other distances
// available for diagnostics").
func NelVanDerMerwe1986(mu0, mu1 []float64, cov0, cov1 [][]float64, n0, n1 int) Yao1965Result {
	d := len(mu0)

	pooled := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			pooled.SetSym(i, j, cov0[i][j]/float64(n0)+cov1[i][j]/float64(n1))
		}
	}
	inv := symCovInverse(pooled)
	if inv == nil {
		return Yao1965Result{Statistic: math.NaN(), DOF: math.NaN(), PValue: math.NaN()}
	}
	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, mu0[i]-mu1[i])
	}
	var tmp mat.VecDense
	tmp.MulVec(inv, diff)
	stat := mat.Dot(diff, &tmp)

	// Nel-Van der Merwe uses a slightly different degrees-of-freedom
	// estimator based on (tr S²P + (tr SP)²) rather than Yao's per-group
	// trace split; both converge to the same statistic value.
	var SP mat.Dense
	SP.Mul(inv, pooled)
	var trSP, trSP2 float64
	var SP2 mat.Dense
	SP2.Mul(&SP, &SP)
	for i := 0; i < d; i++ {
		trSP += SP.At(i, i)
		trSP2 += SP2.At(i, i)
	}
	dof := float64(d)
	denom := trSP2/float64(n0-1) + trSP2/float64(n1-1)
	if denom > 0 {
		dof = (trSP2 + trSP*trSP) / denom
	}
	if dof < 1 {
		dof = 1
	}

	return Yao1965Result{
		Statistic: stat,
		DOF:       dof,
		PValue:    1 - Chi2CDF(stat, dof),
	}
}
