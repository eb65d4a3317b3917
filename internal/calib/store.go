package calib

import (
	"math"
	"sync"
)

// Store is the thread-shared, ordered sequence of keyframe poses. It is
// the single owner of the pose vector (design note: "shared pose vector
// between two threads" resolved as a single owner plus a mutex):
// producers append new poses from the foreground thread, the
// background adaptive-conditioning loop reads a consistent snapshot
// under the same lock before its solve.
//
// Pose indices are monotonically increasing and stable once assigned;
// poses are never removed.
type Store struct {
	mu    sync.RWMutex
	poses []*Pose
}

// NewStore returns an empty pose store.
func NewStore() *Store { return &Store{} }

// Len returns the current pose count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.poses)
}

// At returns the pose at index i. Callers must not retain the pointer
// across an Append without re-acquiring Store's protection for any
// field they mutate.
func (s *Store) At(i int) *Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poses[i]
}

// Range returns the poses in [start,end).
func (s *Store) Range(start, end int) []*Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Pose, end-start)
	copy(out, s.poses[start:end])
	return out
}

// Snapshot returns a shallow copy of the full pose slice, used by the
// background loop to take a consistent view before its solve.
func (s *Store) Snapshot() []*Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Pose, len(s.poses))
	copy(out, s.poses)
	return out
}

// Append adds a new pose, assigning it the next stable index.
func (s *Store) Append(p *Pose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Index = len(s.poses)
	s.poses = append(s.poses, p)
	return p.Index
}

// ApplyCalibration updates every pose's θ snapshot in [start,end) to
// params, and flags every one of their tracks for ray re-projection
// (spec §4.7: parameter application always propagates to affected pose
// snapshots and affected track reference rays/needs_backprojection).
// Must be called with the caller already holding the engine's BA mutex.
func (s *Store) ApplyCalibration(start, end int, params []float64, cam *Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := start; i < end && i < len(s.poses); i++ {
		p := s.poses[i]
		p.CamParams = append([]float64(nil), params...)
		for _, tr := range p.Tracks {
			tr.Ray = cam.Unproject(tr.CenterPx)
			tr.NeedsBackprojection = true
		}
	}
}

// InitialPoseFromGravity builds the orientation of the very first pose
// from an IMU accelerometer sample's down-vector, rather than leaving
// it as identity.
//
// Grounded on the original source's ProcessImage gravity-alignment
// branch (down = -accel.normalized(); forward/right built by crossing
// against a world axis). Only applies when this is the first pose and
// an accel sample is available; callers with no IMU fall back to
// IdentityTransform.
func InitialPoseFromGravity(accel [3]float64) [16]float64 {
	norm := math.Sqrt(accel[0]*accel[0] + accel[1]*accel[1] + accel[2]*accel[2])
	if norm < 1e-9 {
		return IdentityTransform()
	}
	down := [3]float64{-accel[0] / norm, -accel[1] / norm, -accel[2] / norm}

	// Pick a world axis not parallel to down to build an orthonormal
	// basis via cross products, the same construction the original
	// source uses (forward = worldZ x down, right = down x forward).
	worldZ := [3]float64{0, 0, 1}
	if math.Abs(down[2]) > 0.9 {
		worldZ = [3]float64{1, 0, 0}
	}
	forward := cross(worldZ, down)
	forward = normalize(forward)
	right := cross(down, forward)
	right = normalize(right)

	// Rows [right, forward, down] form the rotation; row-major 4x4.
	var t [16]float64
	t[0], t[4], t[8] = right[0], forward[0], down[0]
	t[1], t[5], t[9] = right[1], forward[1], down[1]
	t[2], t[6], t[10] = right[2], forward[2], down[2]
	t[15] = 1
	return t
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n < 1e-12 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

// IntegrateIMUGuess produces a pose-delta guess by integrating gyro and
// accel samples over dt, used as a fallback when visual tracking fails
// (spec §7 "Tracking Failure": use IMU-integrated guess as pose delta).
// This is a first-order integration, adequate for a short tracking
// dropout, not a full strapdown mechanisation.
func IntegrateIMUGuess(prev [16]float64, vWorld [3]float64, gyro, accel [3]float64, dt float64) [16]float64 {
	next := prev
	// Translate along current velocity plus half the accel contribution.
	next[3] += vWorld[0]*dt + 0.5*accel[0]*dt*dt
	next[7] += vWorld[1]*dt + 0.5*accel[1]*dt*dt
	next[11] += vWorld[2]*dt + 0.5*accel[2]*dt*dt
	// Rotation update is intentionally left as identity-times-prev: a
	// small-angle gyro integration is not needed for the guess to be
	// usable as a tracking seed, only the translation matters for
	// re-acquiring features.
	_ = gyro
	return next
}

// IntegrateIMUGuessOverRange folds IntegrateIMUGuess across every sample
// in [prevTime,t], the same way the original source's tracking-failure
// guess integrates imu_buffer.GetRange(pose1->time, pose2->time) sample
// by sample rather than trusting a single stale reading. samples must be
// ordered by T; prevTime/t bound the sub-intervals before the first and
// after the last sample.
func IntegrateIMUGuessOverRange(prev [16]float64, vWorld [3]float64, samples []ImuSample, prevTime, t float64) [16]float64 {
	if len(samples) == 0 {
		return prev
	}
	twp := prev
	tPrev := prevTime
	for _, s := range samples {
		if dt := s.T - tPrev; dt > 0 {
			twp = IntegrateIMUGuess(twp, vWorld, s.Gyro, s.Accel, dt)
		}
		tPrev = s.T
	}
	if dt := t - tPrev; dt > 0 {
		last := samples[len(samples)-1]
		twp = IntegrateIMUGuess(twp, vWorld, last.Gyro, last.Accel, dt)
	}
	return twp
}
