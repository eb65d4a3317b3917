// Package config loads the self-calibration engine's tuning knobs.
//
// The schema mirrors the teacher's tuning-defaults pattern: every field
// is optional (a pointer), JSON omits unset fields, and Get* accessors
// supply the documented default when a field was not present in the
// file. Partial config files are always safe to load.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the canonical location of the self-cal tuning
// defaults file.
const DefaultConfigPath = "config/selfcal.defaults.json"

// Config holds every tunable knob recognised by the self-calibration
// engine (spec.md §6).
type Config struct {
	// Priority queue / change detection.
	NumSelfCalSegments   *int     `json:"num_self_cal_segments,omitempty"`
	SelfCalSegmentLength *int     `json:"self_cal_segment_length,omitempty"`
	NumChangeNeeded      *int     `json:"num_change_needed,omitempty"`
	DriftThreshold       *float64 `json:"drift_threshold,omitempty"`
	BatchScoreThreshold  *float64 `json:"batch_score_threshold,omitempty"`

	// BA sizing.
	MinPosesForIMU *int `json:"min_poses_for_imu,omitempty"`
	NumBaPoses     *int `json:"num_ba_poses,omitempty"`
	NumBaIterations *int `json:"num_ba_iterations,omitempty"`

	// Adaptive conditioning.
	NumAacPoses        *int     `json:"num_aac_poses,omitempty"`
	AdaptiveThreshold  *float64 `json:"adaptive_threshold,omitempty"`
	DoAdaptive         *bool    `json:"do_adaptive,omitempty"`
	AacPoseGrowth      *int     `json:"aac_pose_growth,omitempty"`
	AacMinImprovement  *float64 `json:"aac_min_improvement,omitempty"`

	// Feature toggles.
	UseIMUMeasurements      *bool `json:"use_imu_measurements,omitempty"`
	DoImuSelfCal            *bool `json:"do_imu_self_cal,omitempty"`
	DoSelfCal               *bool `json:"do_self_cal,omitempty"`
	CompareSelfCalWithBatch *bool `json:"compare_self_cal_with_batch,omitempty"`
	UseDogleg               *bool `json:"use_dogleg,omitempty"`
	UseRobustNormForProj    *bool `json:"use_robust_norm_for_proj,omitempty"`
	RegularizeBiasesInBatch *bool `json:"regularize_biases_in_batch,omitempty"`

	// Solver numerics.
	OutlierThreshold *float64 `json:"outlier_threshold,omitempty"`
	GyroSigma        *float64 `json:"gyro_sigma,omitempty"`
	AccelSigma       *float64 `json:"accel_sigma,omitempty"`
	GyroBiasSigma    *float64 `json:"gyro_bias_sigma,omitempty"`
	AccelBiasSigma   *float64 `json:"accel_bias_sigma,omitempty"`
	ImuTimeOffset    *float64 `json:"imu_time_offset,omitempty"`

	// Covariance weights, in live-rig parameter order. Length must equal
	// the rig's calibration parameter count when set.
	CovarianceWeights []float64 `json:"covariance_weights,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config { return &Config{} }

// Load reads a Config from a JSON file. Fields omitted from the file
// retain their documented defaults via the Get* accessors, so partial
// configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefault loads DefaultConfigPath, searching from the current
// directory up through a few parent levels. Panics if not found —
// intended for tests and binaries that have already validated config
// availability, mirroring the teacher's MustLoadDefaultConfig.
func MustLoadDefault() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, p := range candidates {
		if cfg, err := Load(p); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root, or pass an explicit path")
}

// Validate checks that set fields hold sane values.
func (c *Config) Validate() error {
	if c.NumSelfCalSegments != nil && *c.NumSelfCalSegments <= 0 {
		return fmt.Errorf("num_self_cal_segments must be positive, got %d", *c.NumSelfCalSegments)
	}
	if c.SelfCalSegmentLength != nil && *c.SelfCalSegmentLength <= 0 {
		return fmt.Errorf("self_cal_segment_length must be positive, got %d", *c.SelfCalSegmentLength)
	}
	if c.NumChangeNeeded != nil && *c.NumChangeNeeded <= 0 {
		return fmt.Errorf("num_change_needed must be positive, got %d", *c.NumChangeNeeded)
	}
	if c.DriftThreshold != nil && *c.DriftThreshold < 0 {
		return fmt.Errorf("drift_threshold must be non-negative, got %f", *c.DriftThreshold)
	}
	if c.AdaptiveThreshold != nil && (*c.AdaptiveThreshold <= 0 || *c.AdaptiveThreshold >= 1) {
		return fmt.Errorf("adaptive_threshold must be in (0,1), got %f", *c.AdaptiveThreshold)
	}
	return nil
}

// --- Get* accessors: documented default when the field is unset. ---

func (c *Config) GetNumSelfCalSegments() int {
	if c.NumSelfCalSegments == nil {
		return 5
	}
	return *c.NumSelfCalSegments
}

func (c *Config) GetSelfCalSegmentLength() int {
	if c.SelfCalSegmentLength == nil {
		return 10
	}
	return *c.SelfCalSegmentLength
}

func (c *Config) GetNumChangeNeeded() int {
	if c.NumChangeNeeded == nil {
		return 3
	}
	return *c.NumChangeNeeded
}

// GetDriftThreshold returns the configured drift divergence level
// (default 0.2). The calib change detector does not read it: it uses
// its own built-in threshold of 0.2.
func (c *Config) GetDriftThreshold() float64 {
	if c.DriftThreshold == nil {
		return 0.2
	}
	return *c.DriftThreshold
}

// GetBatchScoreThreshold returns the configured full-batch convergence
// score (default 1e7). The calib change detector does not read it: it
// uses its own built-in threshold of 1e7 to leave Recalibrating.
func (c *Config) GetBatchScoreThreshold() float64 {
	if c.BatchScoreThreshold == nil {
		return 1e7
	}
	return *c.BatchScoreThreshold
}

func (c *Config) GetMinPosesForIMU() int {
	if c.MinPosesForIMU == nil {
		return 30
	}
	return *c.MinPosesForIMU
}

func (c *Config) GetNumBaPoses() int {
	if c.NumBaPoses == nil {
		return 15
	}
	return *c.NumBaPoses
}

func (c *Config) GetNumBaIterations() int {
	if c.NumBaIterations == nil {
		return 1
	}
	return *c.NumBaIterations
}

func (c *Config) GetNumAacPoses() int {
	if c.NumAacPoses == nil {
		return 20
	}
	return *c.NumAacPoses
}

func (c *Config) GetAdaptiveThreshold() float64 {
	if c.AdaptiveThreshold == nil {
		return 0.9
	}
	return *c.AdaptiveThreshold
}

func (c *Config) GetDoAdaptive() bool {
	if c.DoAdaptive == nil {
		return true
	}
	return *c.DoAdaptive
}

func (c *Config) GetAacPoseGrowth() int {
	if c.AacPoseGrowth == nil {
		return 30
	}
	return *c.AacPoseGrowth
}

func (c *Config) GetAacMinImprovement() float64 {
	if c.AacMinImprovement == nil {
		return 1e-5
	}
	return *c.AacMinImprovement
}

func (c *Config) GetUseIMUMeasurements() bool {
	if c.UseIMUMeasurements == nil {
		return false
	}
	return *c.UseIMUMeasurements
}

func (c *Config) GetDoImuSelfCal() bool {
	if c.DoImuSelfCal == nil {
		return false
	}
	return *c.DoImuSelfCal
}

func (c *Config) GetDoSelfCal() bool {
	if c.DoSelfCal == nil {
		return true
	}
	return *c.DoSelfCal
}

func (c *Config) GetCompareSelfCalWithBatch() bool {
	if c.CompareSelfCalWithBatch == nil {
		return false
	}
	return *c.CompareSelfCalWithBatch
}

func (c *Config) GetUseDogleg() bool {
	if c.UseDogleg == nil {
		return true
	}
	return *c.UseDogleg
}

func (c *Config) GetUseRobustNormForProj() bool {
	if c.UseRobustNormForProj == nil {
		return true
	}
	return *c.UseRobustNormForProj
}

func (c *Config) GetRegularizeBiasesInBatch() bool {
	if c.RegularizeBiasesInBatch == nil {
		return false
	}
	return *c.RegularizeBiasesInBatch
}

func (c *Config) GetOutlierThreshold() float64 {
	if c.OutlierThreshold == nil {
		return 2.0
	}
	return *c.OutlierThreshold
}

func (c *Config) GetGyroSigma() float64 {
	if c.GyroSigma == nil {
		return 0.5 / 180 * 3.14159265358979
	}
	return *c.GyroSigma
}

func (c *Config) GetAccelSigma() float64 {
	if c.AccelSigma == nil {
		return 0.1
	}
	return *c.AccelSigma
}

func (c *Config) GetGyroBiasSigma() float64 {
	if c.GyroBiasSigma == nil {
		return 0.01
	}
	return *c.GyroBiasSigma
}

func (c *Config) GetAccelBiasSigma() float64 {
	if c.AccelBiasSigma == nil {
		return 0.01
	}
	return *c.AccelBiasSigma
}

func (c *Config) GetImuTimeOffset() float64 {
	if c.ImuTimeOffset == nil {
		return 0
	}
	return *c.ImuTimeOffset
}

// GetCovarianceWeights returns the configured weights, or the spec's
// default 5-vector when unset.
func (c *Config) GetCovarianceWeights() []float64 {
	if len(c.CovarianceWeights) == 0 {
		return []float64{1, 1, 1.7, 1.7, 3.2e5}
	}
	out := make([]float64, len(c.CovarianceWeights))
	copy(out, c.CovarianceWeights)
	return out
}
