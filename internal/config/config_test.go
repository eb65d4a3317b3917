package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	assert.Equal(t, 5, cfg.GetNumSelfCalSegments())
	assert.Equal(t, 10, cfg.GetSelfCalSegmentLength())
	assert.Equal(t, 3, cfg.GetNumChangeNeeded())
	assert.Equal(t, 0.9, cfg.GetAdaptiveThreshold())
	assert.False(t, cfg.GetUseIMUMeasurements())
	assert.False(t, cfg.GetDoImuSelfCal())
	assert.True(t, cfg.GetDoSelfCal())
	assert.False(t, cfg.GetCompareSelfCalWithBatch())
	assert.Equal(t, []float64{1, 1, 1.7, 1.7, 3.2e5}, cfg.GetCovarianceWeights())
}

func TestLoadPartialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.json")
	body := `{"num_self_cal_segments": 8, "use_imu_measurements": true}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.GetNumSelfCalSegments())
	assert.True(t, cfg.GetUseIMUMeasurements())
	// Untouched fields keep their documented defaults.
	assert.Equal(t, 10, cfg.GetSelfCalSegmentLength())
	assert.False(t, cfg.GetDoImuSelfCal())
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.json")
	big := make([]byte, 2*1024*1024)
	for i := range big {
		big[i] = ' '
	}
	big[0] = '{'
	big[len(big)-1] = '}'
	require.NoError(t, os.WriteFile(path, big, 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  *Config
	}{
		{"negative segments", &Config{NumSelfCalSegments: intPtr(-1)}},
		{"zero segment length", &Config{SelfCalSegmentLength: intPtr(0)}},
		{"zero change needed", &Config{NumChangeNeeded: intPtr(0)}},
		{"negative drift threshold", &Config{DriftThreshold: floatPtr(-0.1)}},
		{"adaptive threshold at zero", &Config{AdaptiveThreshold: floatPtr(0)}},
		{"adaptive threshold at one", &Config{AdaptiveThreshold: floatPtr(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestMustLoadDefaultPanicsWhenMissing(t *testing.T) {
	// Run from a throwaway directory with no config/ ancestor tree.
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	assert.Panics(t, func() { MustLoadDefault() })
}

func TestCovarianceWeightsRoundTrip(t *testing.T) {
	weights := []float64{2, 2, 3.4, 3.4, 6.4e5}
	raw, err := json.Marshal(&Config{CovarianceWeights: weights})
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, weights, cfg.GetCovarianceWeights())
}

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }
