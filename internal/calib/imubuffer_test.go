package calib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolationBufferAddAndEndTime(t *testing.T) {
	b := NewInterpolationBuffer()
	assert.Equal(t, -1.0, b.EndTime())

	b.Add([3]float64{}, [3]float64{}, 1.0)
	b.Add([3]float64{}, [3]float64{}, 2.0)
	assert.Equal(t, 2.0, b.EndTime())
}

func TestInterpolationBufferFirst(t *testing.T) {
	b := NewInterpolationBuffer()
	_, ok := b.First()
	assert.False(t, ok)

	b.Add([3]float64{1, 2, 3}, [3]float64{4, 5, 6}, 0.5)
	s, ok := b.First()
	require.True(t, ok)
	assert.Equal(t, 0.5, s.T)
}

func TestInterpolationBufferGetRangeFiltersByTime(t *testing.T) {
	b := NewInterpolationBuffer()
	for i := 0; i < 5; i++ {
		b.Add([3]float64{}, [3]float64{}, float64(i))
	}
	out := b.GetRange(1, 3)
	require.Len(t, out, 3)
	assert.Equal(t, 1.0, out[0].T)
	assert.Equal(t, 3.0, out[2].T)
}

// TestInterpolationBufferGetRangeBoundedWait is spec §7 "IMU Buffer
// Stale": GetRange waits up to maxBufferWait for the buffer to catch
// up, then proceeds with whatever is available rather than blocking
// forever.
func TestInterpolationBufferGetRangeBoundedWait(t *testing.T) {
	b := NewInterpolationBuffer()
	b.Add([3]float64{}, [3]float64{}, 0)

	start := time.Now()
	out := b.GetRange(0, 100) // buffer never reaches t=100
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*maxBufferWait)
	assert.Len(t, out, 1)
}

func TestToResidualMeasurementsConverts(t *testing.T) {
	samples := []ImuSample{
		{T: 1, Gyro: [3]float64{1, 0, 0}, Accel: [3]float64{0, 1, 0}},
	}
	out := ToResidualMeasurements(samples)
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].T)
	assert.Equal(t, [3]float64{1, 0, 0}, out[0].Gyro)
}
