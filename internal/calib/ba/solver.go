package ba

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReferenceSolver is a small Gauss-Newton solver used by tests and the
// cmd/selfcal-sim driver. It is explicitly NOT a production BA solver:
// it refines only the shared calibration parameter vector (camera
// intrinsics, plus the trailing 6 camera-to-IMU extrinsic parameters
// when the mode requests them) against a fixed-pinhole projection
// model, holding pose and landmark state fixed. That is enough to
// exercise every caller in this repo (Window Analyser, Priority Queue,
// Change Detector, adaptive loop) end to end without depending on a
// real bundle adjuster.
type ReferenceSolver struct {
	mode Mode
	opts Options

	poses     []poseSlot
	cams      []camSlot
	landmarks []landmarkSlot
	proj      []projResidual
	imu       []imuResidual

	calib    []float64
	calibDim int

	summary SolutionSummary
}

type poseSlot struct {
	PoseResult
	active bool
	t      float64
}

type camSlot struct {
	params     []float64
	poseInBody [16]float64
}

type landmarkSlot struct {
	ray    [3]float64
	rho    float64
	poseID int
	camID  int
	active bool
	outlierRatio float64
}

type projResidual struct {
	z          [2]float64
	poseID     int
	landmarkID int
	camID      int
	weight     float64
}

type imuResidual struct {
	pose0, pose1 int
	measurements []ImuMeasurement
}

// NewReferenceSolver builds a solver for the given mode. calibDim is
// the number of calibration parameters this mode estimates (camera
// intrinsics size k, plus 6 when the mode estimates extrinsics).
func NewReferenceSolver(mode Mode, calibDim int) *ReferenceSolver {
	return &ReferenceSolver{mode: mode, calibDim: calibDim}
}

var _ Solver = (*ReferenceSolver)(nil)

func (s *ReferenceSolver) Init(opts Options, numPoses, numLandmarks int) {
	s.opts = opts
	s.poses = make([]poseSlot, 0, numPoses)
	s.landmarks = make([]landmarkSlot, 0, numLandmarks)
	s.cams = s.cams[:0]
	s.proj = s.proj[:0]
	s.imu = s.imu[:0]
	s.calib = nil
	s.summary = SolutionSummary{}
}

func (s *ReferenceSolver) AddCamera(params []float64, poseInBody [16]float64) int {
	s.cams = append(s.cams, camSlot{params: append([]float64(nil), params...), poseInBody: poseInBody})
	if s.calib == nil && len(s.cams) == 1 {
		s.calib = make([]float64, s.calibDim)
		copy(s.calib, params)
	}
	return len(s.cams) - 1
}

func (s *ReferenceSolver) AddPose(tWorldPose [16]float64, camParams []float64, vWorld [3]float64, bias [6]float64, isActive bool, t float64) int {
	s.poses = append(s.poses, poseSlot{
		PoseResult: PoseResult{TWorldPose: tWorldPose, VWorld: vWorld, Bias: bias},
		active:     isActive,
		t:          t,
	})
	return len(s.poses) - 1
}

func (s *ReferenceSolver) AddLandmark(ray [3]float64, rho float64, poseID, camID int, isActive bool) int {
	s.landmarks = append(s.landmarks, landmarkSlot{ray: ray, rho: rho, poseID: poseID, camID: camID, active: isActive})
	return len(s.landmarks) - 1
}

func (s *ReferenceSolver) AddProjectionResidual(z [2]float64, poseID, landmarkID, camID int, weight float64) {
	s.proj = append(s.proj, projResidual{z: z, poseID: poseID, landmarkID: landmarkID, camID: camID, weight: weight})
}

func (s *ReferenceSolver) AddImuResidual(pose0, pose1 int, measurements []ImuMeasurement) {
	s.imu = append(s.imu, imuResidual{pose0: pose0, pose1: pose1, measurements: append([]ImuMeasurement(nil), measurements...)})
}

func (s *ReferenceSolver) RegularizePose(poseID int) {
	// Reference solver holds poses fixed; regularisation is a no-op here
	// but kept as a distinct call so callers don't need a mode check.
}

// pinhole projects a 3D point already expressed in the camera frame
// into pixel coordinates using a k∈{4,5} intrinsics vector
// [fx, fy, cx, cy, (k1)].
func pinhole(params []float64, p [3]float64) [2]float64 {
	if p[2] == 0 {
		p[2] = 1e-9
	}
	x := p[0] / p[2]
	y := p[1] / p[2]
	if len(params) >= 5 {
		r2 := x*x + y*y
		d := 1 + params[4]*r2
		x *= d
		y *= d
	}
	return [2]float64{
		params[0]*x + params[2],
		params[1]*y + params[3],
	}
}

// residuals evaluates every projection residual using the reference
// landmark ray scaled by inverse depth as its camera-frame position —
// the reference solver does not chain through pose transforms, which
// is a deliberate simplification (see the type's doc comment).
func (s *ReferenceSolver) residuals(calib []float64) []float64 {
	out := make([]float64, 0, 2*len(s.proj))
	for _, pr := range s.proj {
		lm := s.landmarks[pr.landmarkID]
		if !lm.active {
			continue
		}
		p := [3]float64{lm.ray[0] / lm.rho, lm.ray[1] / lm.rho, lm.ray[2] / lm.rho}
		pred := pinhole(calib, p)
		out = append(out, pr.weight*(pred[0]-pr.z[0]), pr.weight*(pred[1]-pr.z[1]))
	}
	return out
}

func (s *ReferenceSolver) jacobian(calib []float64) *mat.Dense {
	r0 := s.residuals(calib)
	n := len(r0)
	d := len(calib)
	J := mat.NewDense(n, d, nil)
	const eps = 1e-6
	perturbed := append([]float64(nil), calib...)
	for j := 0; j < d; j++ {
		perturbed[j] = calib[j] + eps
		rp := s.residuals(perturbed)
		perturbed[j] = calib[j]
		for i := 0; i < n; i++ {
			J.Set(i, j, (rp[i]-r0[i])/eps)
		}
	}
	return J
}

// Solve runs iters Gauss-Newton steps refining the shared calibration
// vector against the accumulated projection residuals.
func (s *ReferenceSolver) Solve(iters int) {
	if s.calib == nil || len(s.proj) == 0 {
		s.summary = SolutionSummary{Converged: true}
		return
	}
	const lambda = 1e-6
	var lastCost float64
	for it := 0; it < iters; it++ {
		r := s.residuals(s.calib)
		J := s.jacobian(s.calib)
		n, d := J.Dims()
		var JtJ mat.Dense
		JtJ.Mul(J.T(), J)
		for k := 0; k < d; k++ {
			JtJ.Set(k, k, JtJ.At(k, k)+lambda)
		}
		rv := mat.NewVecDense(n, r)
		var Jtr mat.VecDense
		Jtr.MulVec(J.T(), rv)

		var delta mat.VecDense
		if err := delta.SolveVec(&JtJ, &Jtr); err != nil {
			break
		}
		for k := 0; k < d; k++ {
			s.calib[k] -= delta.AtVec(k)
		}

		lastCost = 0
		for _, v := range r {
			lastCost += v * v
		}
	}
	s.summary = SolutionSummary{
		Converged: true,
		FinalCost: lastCost,
	}
	if len(s.cams) > 0 {
		copy(s.cams[0].params, s.calib[:min(len(s.calib), len(s.cams[0].params))])
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *ReferenceSolver) GetPose(poseID int) PoseResult {
	return s.poses[poseID].PoseResult
}

func (s *ReferenceSolver) GetLandmark(landmarkID int) float64 {
	return s.landmarks[landmarkID].rho
}

func (s *ReferenceSolver) LandmarkOutlierRatio(landmarkID int) float64 {
	return s.landmarks[landmarkID].outlierRatio
}

func (s *ReferenceSolver) GetSolutionSummary() SolutionSummary {
	var condInertial, condProj float64
	for range s.imu {
		condInertial += 0 // reference solver does not model inertial residuals numerically
	}
	for _, v := range s.residuals(s.calib) {
		condProj += v * v
	}
	s.summary.CondInertialError = condInertial
	s.summary.CondProjError = condProj
	s.summary.NumCondInertialResiduals = len(s.imu)
	s.summary.NumCondProjResiduals = len(s.proj)
	return s.summary
}

// CalibrationPosterior returns the current calibration estimate and an
// approximate posterior covariance (JᵀJ)⁻¹ evaluated at the final
// estimate, scaled by the empirical residual variance — the usual
// Gauss-Newton approximation to the information matrix.
func (s *ReferenceSolver) CalibrationPosterior() (*mat.VecDense, *mat.SymDense) {
	if s.calib == nil {
		return mat.NewVecDense(s.calibDim, nil), nil
	}
	mean := mat.NewVecDense(len(s.calib), append([]float64(nil), s.calib...))

	J := s.jacobian(s.calib)
	n, d := J.Dims()
	var JtJ mat.Dense
	JtJ.Mul(J.T(), J)

	r := s.residuals(s.calib)
	var ss float64
	for _, v := range r {
		ss += v * v
	}
	dof := n - d
	sigma2 := 1.0
	if dof > 0 {
		sigma2 = ss / float64(dof)
	}

	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, JtJ.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return mean, nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return mean, nil
	}
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := inv.At(i, j) * sigma2
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = math.Inf(1)
			}
			cov.SetSym(i, j, v)
		}
	}
	return mean, cov
}
