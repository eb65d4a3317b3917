package calib

import (
	"math"

	"github.com/konanrobot/selfcal-go/internal/calib/ba"
)

// rankTol is the eigenvalue threshold below which a covariance
// dimension is considered numerically zero (spec invariant 1: rank
// must equal d).
const rankTol = 1e-9

// RunBA is the BA Facade (spec §4.1): runs one of the four BA
// parameterisations over a pose range and returns the resulting
// calibration posterior as a window.
//
// Failure conditions per spec: a zero-length range returns
// ErrEmptyRange; a single-pose range returns an empty window without
// touching any state.
func (e *Engine) RunBA(mode ba.Mode, start, end, iterations int, apply bool) (*CalibrationWindow, error) {
	if end <= start {
		return nil, ErrEmptyRange
	}
	calibDim := len(e.SelfCalRig.CalibParams())
	if mode.EstimatesExtrinsics() {
		calibDim += 6
	}
	if end-start == 1 {
		return NewCalibrationWindow(start, end, calibDim), nil
	}

	solver := e.solverFor(mode)
	opts := e.solverOptions(end - start)

	e.Lock()
	rig := e.SelfCalRig
	poses := e.Store.Range(start, end)

	numLandmarks := 0
	for _, p := range poses {
		for _, tr := range p.Tracks {
			if tr.Admissible() {
				numLandmarks++
			}
		}
	}

	solver.Init(opts, len(poses), numLandmarks)
	camID := solver.AddCamera(rig.CalibParams(), rig.Cameras[0].PoseInBody)

	poseIDs := make([]int, len(poses))
	for i, p := range poses {
		poseIDs[i] = solver.AddPose(p.TWorldPose, rig.CalibParams(), p.VWorld, p.Bias, true, p.Time)
	}

	if mode.UsesIMU() {
		// First active pose of an all-active range is regularised in
		// translation and rotation (spec §4.1 step 4).
		solver.RegularizePose(poseIDs[0])
		for i := 0; i < len(poses)-1; i++ {
			samples := e.IMU.GetRange(poses[i].Time, poses[i+1].Time)
			solver.AddImuResidual(poseIDs[i], poseIDs[i+1], ToResidualMeasurements(samples))
		}
	}

	landmarkOf := make(map[*Track]int)
	for i, p := range poses {
		for _, tr := range p.Tracks {
			if !tr.Admissible() {
				continue
			}
			lmID := solver.AddLandmark(tr.Ray, tr.Rho, poseIDs[i], camID, true)
			landmarkOf[tr] = lmID
			for _, obs := range tr.Observations {
				if !obs.Tracked {
					continue
				}
				solver.AddProjectionResidual([2]float64{obs.PixelX, obs.PixelY}, poseIDs[i], lmID, camID, 1.0)
			}
		}
	}
	e.Unlock()

	solver.Solve(iterations)

	e.Lock()
	defer e.Unlock()

	for i, p := range poses {
		res := solver.GetPose(poseIDs[i])
		p.TWorldPose = res.TWorldPose
		p.VWorld = res.VWorld
		p.Bias = res.Bias
	}

	rangeLongEnough := (end-start) >= e.Config.GetSelfCalSegmentLength() || !mode.UsesIMU()
	for tr, lmID := range landmarkOf {
		tr.Rho = solver.GetLandmark(lmID)
		ratio := solver.LandmarkOutlierRatio(lmID)
		if ratio > 0.3 && !lastObservationTracked(tr) && rangeLongEnough {
			tr.IsOutlier = true
		}
	}

	mean, cov := solver.CalibrationPosterior()
	summary := solver.GetSolutionSummary()

	w := NewCalibrationWindow(start, end, calibDim)
	for i := 0; i < calibDim; i++ {
		w.Mean[i] = mean.AtVec(i)
	}
	if cov != nil {
		for i := 0; i < calibDim; i++ {
			for j := 0; j < calibDim; j++ {
				w.Covariance[i][j] = cov.At(i, j)
			}
		}
	} else {
		w.RankDeficient = true
	}
	w.NumMeasurements = summary.NumCondProjResiduals + summary.NumCondInertialResiduals
	w.CondProjError = summary.CondProjError
	w.CondInertialError = summary.CondInertialError
	w.RankDeficient = w.RankDeficient || !IsFullRank(w.Covariance, rankTol)
	w.Score = Score(w, e.Config.GetCovarianceWeights())

	if apply && !w.RankDeficient {
		recovered := w.Mean[:len(rig.CalibParams())]
		rig.SetCalibParams(recovered)
		e.LiveRig.SetCalibParams(recovered)
		e.Store.ApplyCalibration(start, end, recovered, &rig.Cameras[0])
	}

	return w, nil
}

func lastObservationTracked(tr *Track) bool {
	if len(tr.Observations) == 0 {
		return false
	}
	return tr.Observations[len(tr.Observations)-1].Tracked
}

func (e *Engine) solverOptions(windowPoses int) ba.Options {
	cfg := e.Config
	return ba.Options{
		GyroSigma:               cfg.GetGyroSigma(),
		AccelSigma:              cfg.GetAccelSigma(),
		GyroBiasSigma:           cfg.GetGyroBiasSigma(),
		AccelBiasSigma:          cfg.GetAccelBiasSigma(),
		UseDogleg:               cfg.GetUseDogleg(),
		UseRobustNormForProj:    cfg.GetUseRobustNormForProj(),
		OutlierThreshold:        cfg.GetOutlierThreshold(),
		RegularizeBiases:        cfg.GetRegularizeBiasesInBatch() && windowPoses < 30,
		PerPoseCameraParameters: true,
		ImuTimeOffset:           cfg.GetImuTimeOffset(),
	}
}

// Analyse is the Window Analyser (spec §4.2): wraps RunBA and enforces
// the guarantees callers depend on — mean ordering matches the live rig
// (RunBA already builds Mean in that order), full-rank flagging, and
// (when apply=true) propagation of the new θ into pose snapshots and
// track re-projection flags, which RunBA already performs under the BA
// mutex as part of applying calibration.
func (e *Engine) Analyse(mode ba.Mode, start, end, iterations int, apply bool) (*CalibrationWindow, error) {
	w, err := e.RunBA(mode, start, end, iterations, apply)
	if err != nil {
		return nil, err
	}
	if w.RankDeficient {
		w.Score = math.Inf(1)
	}
	return w, nil
}
