// Package ba defines the bundle-adjustment collaborator contract the
// self-calibration engine depends on, and the BaMode dispatch that
// selects among the four (pose-dim, calibration-dim) parameterisations.
//
// The production solver (minimising reprojection + inertial residuals
// over poses, landmarks and calibration) is an external collaborator —
// out of scope for this repo, per the engine's purpose & scope. What
// lives here is the Solver interface itself plus a small in-repo
// reference implementation (see solver.go) used by tests and the
// simulator driver.
package ba

import "gonum.org/v1/gonum/mat"

// Mode selects which BA parameterisation a window or controller solve
// uses. The four modes mirror four distinct state-dimension pairings;
// the source this engine is modelled on selected between them via
// template specialisation on (use_imu, do_tvs) — here that collapses to
// a single enum dispatched at runtime.
type Mode int

const (
	// Visual is the vision-only BA: poses + landmarks + camera intrinsics,
	// no IMU state.
	Visual Mode = iota
	// VI is the visual-inertial BA: adds velocity/bias per active pose.
	VI
	// VIExtrinsics is VI plus camera-to-IMU extrinsics as free calibration
	// parameters (calibration dimension = intrinsics + 6).
	VIExtrinsics
	// ExtrinsicsOnly estimates camera-to-IMU extrinsics with intrinsics
	// held fixed (calibration dimension = 6).
	ExtrinsicsOnly
)

func (m Mode) String() string {
	switch m {
	case Visual:
		return "visual"
	case VI:
		return "vi"
	case VIExtrinsics:
		return "vi+extrinsics"
	case ExtrinsicsOnly:
		return "extrinsics-only"
	default:
		return "unknown"
	}
}

// UsesIMU reports whether this mode registers velocity/bias state and
// inertial residuals.
func (m Mode) UsesIMU() bool { return m == VI || m == VIExtrinsics || m == ExtrinsicsOnly }

// EstimatesExtrinsics reports whether this mode treats camera-to-IMU
// extrinsics as free calibration parameters.
func (m Mode) EstimatesExtrinsics() bool { return m == VIExtrinsics || m == ExtrinsicsOnly }

// Dispatch resolves a (useIMU, doTVS) request to a Mode. The
// combination (useIMU=false, doTVS=true) is disallowed: the source this
// engine generalises leaves that specialisation commented out, and
// nothing in the rest of the design defines what estimating camera-to-
// IMU extrinsics without an IMU would even mean. Requesting it is a
// caller/programmer error, not a runtime condition to recover from, so
// it panics rather than returning an error — matching the "panic for
// unrecoverable preconditions" convention used elsewhere in this repo.
func Dispatch(useIMU, doTVS bool) Mode {
	switch {
	case useIMU && !doTVS:
		return VI
	case !useIMU && !doTVS:
		return Visual
	case useIMU && doTVS:
		return VIExtrinsics
	default: // !useIMU && doTVS
		panic("ba: (useIMU=false, doTVS=true) is not a supported BA mode")
	}
}

// Options configures a Solver.Init call (spec step 4.1.3: "Initialises
// the BA with options").
type Options struct {
	GyroSigma               float64
	AccelSigma              float64
	GyroBiasSigma           float64
	AccelBiasSigma          float64
	UseDogleg               bool
	UseRobustNormForProj    bool
	OutlierThreshold        float64
	RegularizeBiases        bool // enabled by caller when |poses| < 30
	PerPoseCameraParameters bool
	ImuTimeOffset           float64
}

// ImuMeasurement is one interpolated or raw IMU sample fed to an
// inertial residual between two consecutive active poses.
type ImuMeasurement struct {
	T     float64
	Gyro  [3]float64
	Accel [3]float64
}

// PoseResult is what Solve leaves behind for a registered pose.
type PoseResult struct {
	TWorldPose [16]float64
	VWorld     [3]float64
	Bias       [6]float64
}

// SolutionSummary reports the solver's final residual state, including
// the conditioning-residual statistics the adaptive loop gates on.
type SolutionSummary struct {
	Converged               bool
	FinalCost               float64
	CondInertialError       float64
	CondProjError           float64
	NumCondInertialResiduals int
	NumCondProjResiduals     int
}

// Solver is the external bundle-adjustment collaborator. One instance
// exists per Mode; the BA facade selects which to drive.
type Solver interface {
	// Init resets solver state for a fresh run over numPoses poses and
	// numLandmarks landmarks.
	Init(opts Options, numPoses, numLandmarks int)

	// AddCamera registers a camera's intrinsics/extrinsics as the shared
	// calibration parameter vector this solve estimates (or holds fixed,
	// depending on Mode).
	AddCamera(params []float64, poseInBody [16]float64) int

	// AddPose registers a pose slot. isActive marks it as part of the
	// free (optimised) window; inactive poses are held fixed but still
	// contribute residuals. Returns an opaque pose id.
	AddPose(tWorldPose [16]float64, camParams []float64, vWorld [3]float64, bias [6]float64, isActive bool, t float64) int

	// AddLandmark registers an inverse-depth landmark ray born at
	// poseID, observed by camID. Returns an opaque landmark id.
	AddLandmark(ray [3]float64, rho float64, poseID, camID int, isActive bool) int

	// AddProjectionResidual ties an observed pixel to a landmark/pose/
	// camera triple.
	AddProjectionResidual(z [2]float64, poseID, landmarkID, camID int, weight float64)

	// AddImuResidual adds an inertial residual spanning [pose0,pose1)
	// using the supplied interpolated measurements.
	AddImuResidual(pose0, pose1 int, measurements []ImuMeasurement)

	// RegularizePose anchors a pose's translation and rotation, used on
	// the first active pose of an IMU-mode window when every pose in
	// range is active.
	RegularizePose(poseID int)

	// Solve runs iters nonlinear least-squares iterations.
	Solve(iters int)

	// GetPose reads back a solved pose.
	GetPose(poseID int) PoseResult

	// GetLandmark reads back a solved inverse depth.
	GetLandmark(landmarkID int) float64

	// LandmarkOutlierRatio reports the fraction of a landmark's residuals
	// flagged as outliers by the robust loss.
	LandmarkOutlierRatio(landmarkID int) float64

	// GetSolutionSummary reports aggregate solve statistics, including
	// conditioning-residual error sums used by the adaptive loop.
	GetSolutionSummary() SolutionSummary

	// CalibrationPosterior returns the posterior mean and covariance of
	// the calibration parameter sub-block (camera intrinsics, and/or
	// camera-to-IMU extrinsics depending on Mode).
	CalibrationPosterior() (mean *mat.VecDense, cov *mat.SymDense)
}
