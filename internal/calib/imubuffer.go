package calib

import (
	"sync"
	"time"

	"github.com/konanrobot/selfcal-go/internal/calib/ba"
)

// ImuSample is one raw inertial measurement.
type ImuSample struct {
	T     float64
	Gyro  [3]float64
	Accel [3]float64
}

// InterpolationBuffer is the time-indexed IMU sample store. It is
// internally concurrent: the IMU driver's callback thread only ever
// calls Add; consumers call GetRange and may busy-wait (bounded) for
// EndTime to catch up with the frame timestamp they need.
type InterpolationBuffer struct {
	mu       sync.Mutex
	elements []ImuSample
}

// NewInterpolationBuffer returns an empty buffer.
func NewInterpolationBuffer() *InterpolationBuffer {
	return &InterpolationBuffer{}
}

// Add appends a new sample. Samples must arrive in non-decreasing time
// order; the buffer does not re-sort.
func (b *InterpolationBuffer) Add(gyro, accel [3]float64, t float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elements = append(b.elements, ImuSample{T: t, Gyro: gyro, Accel: accel})
}

// EndTime returns the timestamp of the most recent sample, or -1 if
// empty.
func (b *InterpolationBuffer) EndTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.elements) == 0 {
		return -1
	}
	return b.elements[len(b.elements)-1].T
}

// First returns the earliest buffered sample and true, or the zero
// value and false if the buffer is empty. Used by
// InitialPoseFromGravity to pull the very first accel reading.
func (b *InterpolationBuffer) First() (ImuSample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.elements) == 0 {
		return ImuSample{}, false
	}
	return b.elements[0], true
}

// maxBufferWait bounds how long GetRange busy-waits for the buffer's
// end-time to catch up, per spec §5: "may busy-wait up to 100 ms".
const maxBufferWait = 100 * time.Millisecond

// GetRange returns every sample with t in [t0,t1], waiting up to
// maxBufferWait for the buffer to accumulate samples covering t1 before
// returning whatever is available (spec §7 "IMU Buffer Stale": wait,
// then proceed with whatever is available).
func (b *InterpolationBuffer) GetRange(t0, t1 float64) []ImuSample {
	deadline := time.Now().Add(maxBufferWait)
	for time.Now().Before(deadline) {
		if b.EndTime() >= t1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ImuSample, 0, 8)
	for _, e := range b.elements {
		if e.T >= t0 && e.T <= t1 {
			out = append(out, e)
		}
	}
	return out
}

// ToResidualMeasurements converts a slice of samples into the ba
// package's wire shape for AddImuResidual.
func ToResidualMeasurements(samples []ImuSample) []ba.ImuMeasurement {
	out := make([]ba.ImuMeasurement, len(samples))
	for i, s := range samples {
		out[i] = ba.ImuMeasurement{T: s.T, Gyro: s.Gyro, Accel: s.Accel}
	}
	return out
}
