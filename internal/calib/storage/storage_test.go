package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "selfcal.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	_, err := s.RecentWindows(10)
	assert.NoError(t, err)
}

func TestInsertAndQueryWindowRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := WindowRecord{
		ID:                 "11111111-1111-1111-1111-111111111111",
		Start:              0,
		End:                10,
		Score:              123.5,
		NumMeasurements:    42,
		KLDivergence:       0.6,
		Mean:               []float64{500, 500, 320, 240},
		Covariance:         [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}},
		RankDeficient:      false,
		CreatedAtUnixNanos: 1000,
	}
	require.NoError(t, s.InsertWindow(rec))

	got, err := s.RecentWindows(5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, rec.Mean, got[0].Mean)
	assert.Equal(t, rec.Covariance, got[0].Covariance)
	assert.Equal(t, rec.Score, got[0].Score)
}

func TestInsertWindowUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	rec := WindowRecord{ID: "dup", Start: 0, End: 5, Score: 1, Mean: []float64{1}, Covariance: [][]float64{{1}}, CreatedAtUnixNanos: 1}
	require.NoError(t, s.InsertWindow(rec))

	rec.Score = 2
	require.NoError(t, s.InsertWindow(rec))

	got, err := s.RecentWindows(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Score)
}

func TestRecordTransition(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordTransition(7, "recalibrating", 3, 500))
}
