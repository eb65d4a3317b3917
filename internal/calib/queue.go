package calib

import (
	"math"
	"sync"

	"github.com/konanrobot/selfcal-go/internal/calib/ba"
)

// PriorityQueue is the bounded set of mutually-disjoint, informative
// calibration windows whose pooled posterior tracks the long-horizon
// parameter estimate (spec §4.5).
type PriorityQueue struct {
	mu sync.RWMutex

	capacity int
	windows  []*CalibrationWindow

	needsUpdate bool

	meanQ []float64
	covQ  [][]float64
}

// NewPriorityQueue returns an empty queue with the given capacity
// (`queue_length`, default 5).
func NewPriorityQueue(capacity int) *PriorityQueue {
	return &PriorityQueue{capacity: capacity}
}

// Len returns the current window count.
func (q *PriorityQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.windows)
}

// NeedsUpdate reports whether membership changed since the last read.
func (q *PriorityQueue) NeedsUpdate() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.needsUpdate
}

// clearNeedsUpdate is called by the controller once it has consumed a
// pending update.
func (q *PriorityQueue) clearNeedsUpdate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.needsUpdate = false
}

// Windows returns a shallow copy of the queued windows.
func (q *PriorityQueue) Windows() []*CalibrationWindow {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*CalibrationWindow, len(q.windows))
	copy(out, q.windows)
	return out
}

func overlaps(a, b *CalibrationWindow) bool {
	return a.Start < b.End && b.Start < a.End
}

// reset empties the queue and its pooled distribution, used when the
// change detector transitions into Recalibrating (spec §4.6: "clear
// the queue, mark calibration as unknown").
func (q *PriorityQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.windows = nil
	q.meanQ = nil
	q.covQ = nil
	q.needsUpdate = false
}

// Admit applies the admission policy (spec §4.5) to candidate c:
//  1. room + full rank => admit.
//  2. otherwise, if c beats the worst-scoring queued window AND is
//     sufficiently distinct from the queue distribution (KL divergence
//     against (meanQ,covQ) above klDivergenceThreshold), evict the worst
//     and admit c.
//  3. otherwise discard.
//
// Returns true if c was admitted.
func (q *PriorityQueue) Admit(c *CalibrationWindow, klDivergenceThreshold float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c.RankDeficient {
		return false
	}
	for _, w := range q.windows {
		if overlaps(w, c) {
			// A candidate overlapping an already-queued window would
			// violate the disjointness invariant if admitted alongside
			// it; this implementation only ever evicts the globally
			// worst-scoring window (not necessarily the overlapping
			// one), so an overlapping candidate is simply discarded
			// rather than risking two overlapping entries.
			return false
		}
	}

	if len(q.windows) < q.capacity {
		q.windows = append(q.windows, c)
		q.needsUpdate = true
		return true
	}

	worstIdx, worst := q.worstLocked()
	if worst == nil {
		return false
	}
	if c.Score >= worst.Score {
		return false
	}
	if q.meanQ == nil {
		// No queue distribution yet to compare against; admission on
		// score alone is still meaningful once the queue is full.
		q.windows[worstIdx] = c
		q.needsUpdate = true
		return true
	}
	div := KLDivergenceGaussian(q.meanQ, c.Mean, q.covQ, c.Covariance)
	if math.IsNaN(div) || div <= klDivergenceThreshold {
		return false
	}
	q.windows[worstIdx] = c
	q.needsUpdate = true
	return true
}

func (q *PriorityQueue) worstLocked() (int, *CalibrationWindow) {
	if len(q.windows) == 0 {
		return -1, nil
	}
	idx := 0
	worst := q.windows[0]
	for i, w := range q.windows[1:] {
		if w.Score > worst.Score {
			worst = w
			idx = i + 1
		}
	}
	return idx, worst
}

// SetPriorityQueueDistribution sets the queue's pooled distribution,
// as computed by AnalyzePriorityQueue.
func (q *PriorityQueue) SetPriorityQueueDistribution(mean []float64, cov [][]float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.meanQ = mean
	q.covQ = cov
}

// Distribution returns the queue's current pooled (mean, covariance).
func (q *PriorityQueue) Distribution() ([]float64, [][]float64) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.meanQ, q.covQ
}

// AnalyzePriorityQueue re-runs BA over one contiguous pose range, from
// the earliest queued window's Start to the latest queued window's End,
// with a single shared calibration parameter vector, and updates the
// queue distribution. Poses lying between queued windows are part of
// that range; the solve is not restricted to the queued windows' own
// poses.
//
// Per spec boundary behaviour 9, this MUST error when mode does not use
// an IMU but estimates extrinsics — that combination is already
// statically unreachable via ba.Dispatch, which panics before a Solver
// for it could ever be wired; AnalyzePriorityQueue additionally treats
// it as a caller error here in case a caller passes a bogus mode
// without going through Dispatch.
func (e *Engine) AnalyzePriorityQueue(mode ba.Mode, iterations int) (*CalibrationWindow, error) {
	if !mode.UsesIMU() && mode.EstimatesExtrinsics() {
		return nil, ErrDisallowedMode
	}
	windows := e.Queue.Windows()
	if len(windows) == 0 {
		return nil, ErrEmptyRange
	}
	start, end := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start < start {
			start = w.Start
		}
		if w.End > end {
			end = w.End
		}
	}
	w, err := e.Analyse(mode, start, end, iterations, false)
	if err != nil {
		return nil, err
	}
	if !w.RankDeficient {
		e.Queue.SetPriorityQueueDistribution(w.Mean, w.Covariance)
	}
	e.Queue.clearNeedsUpdate()
	return w, nil
}
