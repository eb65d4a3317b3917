// Package calib implements the online self-calibration engine for a
// visual-inertial odometry pipeline: a priority queue of BA-summarised
// calibration windows, the statistical tests that score and admit
// them, drift detection against the queue distribution, and the
// controller that ties incremental self-cal to full-batch fallback.
//
// Responsibilities:
//   - Pose & Track Store: thread-shared keyframe sequence (store.go).
//   - Rig/Camera model shared by the live, self-cal and async rigs
//     (types.go).
//   - IMU Interpolation Buffer (imubuffer.go).
//   - Window Analyser, Scoring, Statistical Distances (window_analyser.go,
//     scoring.go, distances.go).
//   - Priority Queue and Change Detector (queue.go, change_detector.go).
//   - Self-Cal Controller orchestrating the above per keyframe
//     (controller.go).
//   - Adaptive Conditioning Loop, a background goroutine (aac.go).
//
// Dependency rule: this package depends on internal/calib/ba for the
// bundle-adjustment collaborator contract, and on internal/config for
// tuning knobs. The feature tracker, BA solver, camera/IMU drivers and
// projection model proper are external collaborators — calib only
// depends on the interfaces it needs from them.
package calib

import (
	"errors"
	"math"

	"github.com/google/uuid"
)

// Errors returned by calib operations. None of these represent a fatal
// condition in steady state — callers are expected to skip the current
// candidate or keep the previous estimate, per the engine's error
// handling policy.
var (
	// ErrEmptyRange is returned when a BA or analyse call is requested
	// over a zero-pose range.
	ErrEmptyRange = errors.New("calib: empty pose range")
	// ErrRankDeficient marks a window whose posterior covariance is not
	// full rank; such a window is never admitted to the queue.
	ErrRankDeficient = errors.New("calib: rank-deficient covariance")
	// ErrDisallowedMode is returned (in addition to the ba package's
	// panic at dispatch time) when a caller's own checks already know a
	// mode combination is unsupported.
	ErrDisallowedMode = errors.New("calib: disallowed BA mode combination")
)

// Observation is one per-frame, per-camera sighting of a track.
type Observation struct {
	PixelX, PixelY float64
	Tracked        bool
}

// Track is a reference keypoint owned by the pose at which it was
// first observed.
type Track struct {
	ExternalID [2]int

	CenterPx [2]float64
	Ray      [3]float64
	Rho      float64

	Observations []Observation

	IsOutlier            bool
	NumGoodTrackedFrames int

	// NeedsBackprojection is set whenever calibration parameters are
	// applied and this track's reference ray must be recomputed from
	// CenterPx through the new θ (spec invariant 6/S6).
	NeedsBackprojection bool
}

// Admissible reports whether this track may contribute BA residuals:
// tracks with at most one good tracked frame, or marked outlier, are
// excluded (still retained for read-only reporting).
func (t *Track) Admissible() bool {
	return !t.IsOutlier && t.NumGoodTrackedFrames > 1
}

// Pose is a keyframe pose: world-frame rigid transform, velocity, IMU
// bias, a snapshot of the camera parameters live when it was created,
// opaque per-BA slot ids, and its owned tracks.
type Pose struct {
	Index int

	// TWorldPose is the SE(3) world<-body transform as a row-major 4x4
	// matrix, following the teacher's pose.go T [16]float64 convention.
	TWorldPose [16]float64
	VWorld     [3]float64
	Bias       [6]float64
	Time       float64

	// CamParams is the snapshot of calibration parameters live at the
	// moment this pose was created (ℝᵏ, k∈{4,5}).
	CamParams []float64

	// OptID holds the opaque pose id assigned by whichever BA instance
	// last rebuilt it (one slot per BaMode family actually in use); reset
	// each time that BA is rebuilt.
	OptID [2]int

	Tracks []*Track
}

// IdentityTransform returns the 4x4 row-major identity SE(3) matrix.
func IdentityTransform() [16]float64 {
	var t [16]float64
	t[0], t[5], t[10], t[15] = 1, 1, 1, 1
	return t
}

// Camera holds intrinsics and the camera-to-body extrinsic transform.
type Camera struct {
	// Params is the intrinsics vector, length k∈{4,5}: [fx, fy, cx, cy]
	// or [fx, fy, cx, cy, k1].
	Params []float64
	// PoseInBody is the camera-to-IMU/body SE(3) extrinsic transform.
	PoseInBody [16]float64
	Width      int
	Height     int
}

// NumParams returns len(Params).
func (c *Camera) NumParams() int { return len(c.Params) }

// Unproject back-projects a pixel into a unit ray in the camera frame
// using the pinhole inverse of the k∈{4,5} intrinsics model.
func (c *Camera) Unproject(px [2]float64) [3]float64 {
	p := c.Params
	x := (px[0] - p[2]) / p[0]
	y := (px[1] - p[3]) / p[1]
	n := math.Sqrt(x*x + y*y + 1)
	return [3]float64{x / n, y / n, 1 / n}
}

// Rig is an ordered sequence of cameras. Three instances co-exist: the
// live (foreground) rig, the self-cal (candidate) rig and the async
// (background-BA snapshot) rig.
type Rig struct {
	Cameras []Camera
}

// CalibParams returns camera-0's intrinsics, the calibration vector
// this engine estimates in Visual/VI mode.
func (r *Rig) CalibParams() []float64 {
	if len(r.Cameras) == 0 {
		return nil
	}
	return r.Cameras[0].Params
}

// SetCalibParams overwrites camera-0's intrinsics in place.
func (r *Rig) SetCalibParams(params []float64) {
	copy(r.Cameras[0].Params, params)
}

// Clone returns a deep copy, used by NewEngine to derive the self-cal
// and async rigs from the live rig.
func (r *Rig) Clone() *Rig {
	out := &Rig{Cameras: make([]Camera, len(r.Cameras))}
	for i, c := range r.Cameras {
		out.Cameras[i] = Camera{
			Params:     append([]float64(nil), c.Params...),
			PoseInBody: c.PoseInBody,
			Width:      c.Width,
			Height:     c.Height,
		}
	}
	return out
}

// CalibrationWindow is a contiguous pose range summarised by the
// posterior distribution of calibration parameters obtained from a BA
// solve over that range.
type CalibrationWindow struct {
	ID uuid.UUID

	Start, End int

	Mean       []float64
	Covariance [][]float64 // d x d, symmetric

	Score           float64
	NumMeasurements int
	KLDivergence    float64

	// CondProjError and CondInertialError are the solver's conditioning
	// residual sums (ba.SolutionSummary), the signal the adaptive
	// conditioning loop gates growth on — distinct from Score, which is
	// the covariance log-determinant used for queue ranking.
	CondProjError     float64
	CondInertialError float64

	// RankDeficient is set by the window analyser when Covariance is not
	// full rank; such a window must never be admitted.
	RankDeficient bool
}

// Dim returns the calibration parameter count this window describes.
func (w *CalibrationWindow) Dim() int { return len(w.Mean) }

// NewCalibrationWindow allocates a window of dimension d with a fresh
// id for log/DB correlation.
func NewCalibrationWindow(start, end, d int) *CalibrationWindow {
	cov := make([][]float64, d)
	for i := range cov {
		cov[i] = make([]float64, d)
	}
	return &CalibrationWindow{
		ID:         uuid.New(),
		Start:      start,
		End:        end,
		Mean:       make([]float64, d),
		Covariance: cov,
		Score:      math.Inf(1),
	}
}
