package calib

import (
	"sync"
	"time"

	"github.com/konanrobot/selfcal-go/internal/calib/ba"
	"github.com/konanrobot/selfcal-go/internal/calib/storage"
	"github.com/konanrobot/selfcal-go/internal/config"
	"github.com/konanrobot/selfcal-go/internal/monitoring"
)

// TrackSource is the subset of the external feature tracker's contract
// this engine depends on (spec §6 "Tracker"): reporting how many
// tracks were carried forward successfully since the last keyframe, and
// the accumulated delta transform, used for the IMU-integrated guess
// fallback and keyframe heuristics.
type TrackSource interface {
	NumSuccessfulTracks() int
	DeltaSinceKeyframe() [16]float64
}

// Engine bundles every piece of shared state the self-calibration
// engine's components operate on: the pose & track store, the three
// rigs, the IMU buffer, configuration, and the BA mutex that serialises
// access across the foreground and background goroutines (design note:
// "file-scoped mutable globals" packaged into an explicit engine state
// struct, rather than left as package-level globals the way the
// original source has them).
type Engine struct {
	// mu is the BA mutex (spec §5): serialises BA init/enumeration
	// phases, result readback, parameter application, and the
	// foreground's use of tracker input ranges. It does NOT serialise
	// the Solve() call itself.
	mu sync.Mutex

	Store *Store
	IMU   *InterpolationBuffer

	LiveRig    *Rig
	SelfCalRig *Rig
	AsyncRig   *Rig

	Config *config.Config

	solvers map[ba.Mode]ba.Solver

	Queue          *PriorityQueue
	ChangeDetector *ChangeDetector

	// UnknownCamCalibrationStartPose marks the pose index at which the
	// current calibration was declared unknown; valid only while
	// ChangeDetector is in Recalibrating.
	UnknownCamCalibrationStartPose int
	UnknownCamCalibration          bool

	Logs *LogWriters

	// Storage is optional: when set, admitted windows and controller
	// transitions are additionally persisted to sqlite for queryable
	// history (domain-stack addition beyond the plain text logs).
	Storage *storage.Store
}

// NewEngine wires a fresh engine around the given rig (cloned into the
// three parallel instances), configuration and solver set.
func NewEngine(cfg *config.Config, rig *Rig, solvers map[ba.Mode]ba.Solver, logs *LogWriters) *Engine {
	return &Engine{
		Store:          NewStore(),
		IMU:            NewInterpolationBuffer(),
		LiveRig:        rig,
		SelfCalRig:     rig.Clone(),
		AsyncRig:       rig.Clone(),
		Config:         cfg,
		solvers:        solvers,
		Queue:          NewPriorityQueue(cfg.GetNumSelfCalSegments()),
		ChangeDetector: NewChangeDetector(cfg.GetNumChangeNeeded()),
		Logs:           logs,
	}
}

// persistWindow writes w to Storage if one is wired; a nil Storage is
// a normal configuration (sqlite persistence is optional), not an
// error.
func (e *Engine) persistWindow(w *CalibrationWindow) {
	if e.Storage == nil {
		return
	}
	if err := e.Storage.InsertWindow(storage.WindowRecord{
		ID:                 w.ID.String(),
		Start:              w.Start,
		End:                w.End,
		Score:              w.Score,
		NumMeasurements:    w.NumMeasurements,
		KLDivergence:       w.KLDivergence,
		Mean:               w.Mean,
		Covariance:         w.Covariance,
		RankDeficient:      w.RankDeficient,
		CreatedAtUnixNanos: time.Now().UnixNano(),
	}); err != nil {
		e.logf("calib: persist window failed: %v", err)
	}
}

// persistTransition records a controller state-machine transition if
// Storage is wired.
func (e *Engine) persistTransition(keyframeID int, state string, unknownStartPose int) {
	if e.Storage == nil {
		return
	}
	if err := e.Storage.RecordTransition(keyframeID, state, unknownStartPose, time.Now().UnixNano()); err != nil {
		e.logf("calib: persist transition failed: %v", err)
	}
}

// solverFor returns the ba.Solver backing the given mode, panicking if
// the mode was not wired (a wiring bug, not a runtime condition).
func (e *Engine) solverFor(mode ba.Mode) ba.Solver {
	s, ok := e.solvers[mode]
	if !ok {
		panic("calib: no solver wired for BA mode " + mode.String())
	}
	return s
}

// Lock/Unlock expose the BA mutex to callers that need to hold it
// across more than one Engine method (e.g. the controller's parameter
// application sequence).
func (e *Engine) Lock()   { e.mu.Lock() }
func (e *Engine) Unlock() { e.mu.Unlock() }

func (e *Engine) logf(format string, v ...interface{}) {
	monitoring.Logf(format, v...)
}
