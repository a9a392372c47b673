package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/seathru/internal/errs"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* methods supply defaults for fields the
// JSON omits.
type TuningConfig struct {
	// Segmentation params
	Segmenter       *string  `json:"segmenter,omitempty"` // "flood" or "dbscan"
	EpsilonFraction *float64 `json:"epsilon_fraction,omitempty"`
	RandomizedSeed  *bool    `json:"randomized_seed,omitempty"`
	RandomSeed      *int64   `json:"random_seed,omitempty"`
	NearZeroOffset  *float64 `json:"near_zero_offset,omitempty"`

	// Clustering params
	DBSCANEps           *float64 `json:"dbscan_eps,omitempty"`
	DBSCANMinPoints     *int     `json:"dbscan_min_points,omitempty"`
	DBSCANMaxPasses     *int     `json:"dbscan_max_passes,omitempty"`
	DBSCANFlattenOnHost *bool    `json:"dbscan_flatten_on_host,omitempty"`
	DBSCANDepthScale    *float64 `json:"dbscan_depth_scale,omitempty"`
	DBSCANMaxPoints     *int     `json:"dbscan_max_points,omitempty"`
	MapTimeout          *string  `json:"map_timeout,omitempty"` // duration string like "5s"
	PowerPreference     *string  `json:"power_preference,omitempty"`

	// Sample selector params
	NumBins          *int     `json:"num_bins,omitempty"`
	SampleFraction   *float64 `json:"sample_fraction,omitempty"`
	MaxSamples       *int     `json:"max_samples,omitempty"`
	MinDepthFraction *float64 `json:"min_depth_fraction,omitempty"`
	ChannelOrder     *string  `json:"channel_order,omitempty"`

	// Local space average params
	LSAP             *float64 `json:"lsa_p,omitempty"`
	LSAConvergence   *float64 `json:"lsa_convergence,omitempty"`
	LSAMaxIterations *int     `json:"lsa_max_iterations,omitempty"`

	// Image source params
	MaxPixels *int `json:"max_pixels,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to the
// value its getter falls back to.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		Segmenter:           ptrString(e.GetSegmenter()),
		EpsilonFraction:     ptrFloat64(e.GetEpsilonFraction()),
		RandomizedSeed:      ptrBool(e.GetRandomizedSeed()),
		RandomSeed:          ptrInt64(e.GetRandomSeed()),
		NearZeroOffset:      ptrFloat64(e.GetNearZeroOffset()),
		DBSCANEps:           ptrFloat64(e.GetDBSCANEps()),
		DBSCANMinPoints:     ptrInt(e.GetDBSCANMinPoints()),
		DBSCANMaxPasses:     ptrInt(e.GetDBSCANMaxPasses()),
		DBSCANFlattenOnHost: ptrBool(e.GetDBSCANFlattenOnHost()),
		DBSCANDepthScale:    ptrFloat64(e.GetDBSCANDepthScale()),
		DBSCANMaxPoints:     ptrInt(e.GetDBSCANMaxPoints()),
		MapTimeout:          ptrString(e.GetMapTimeout().String()),
		PowerPreference:     ptrString(e.GetPowerPreference()),
		NumBins:             ptrInt(e.GetNumBins()),
		SampleFraction:      ptrFloat64(e.GetSampleFraction()),
		MaxSamples:          ptrInt(e.GetMaxSamples()),
		MinDepthFraction:    ptrFloat64(e.GetMinDepthFraction()),
		ChannelOrder:        ptrString(e.GetChannelOrder()),
		LSAP:                ptrFloat64(e.GetLSAP()),
		LSAConvergence:      ptrFloat64(e.GetLSAConvergence()),
		LSAMaxIterations:    ptrInt(e.GetLSAMaxIterations()),
		MaxPixels:           ptrInt(e.GetMaxPixels()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/seathru/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Segmenter != nil {
		if s := *c.Segmenter; s != "flood" && s != "dbscan" {
			return errs.Invalid("segmenter must be \"flood\" or \"dbscan\", got %q", s)
		}
	}
	if c.EpsilonFraction != nil && !(*c.EpsilonFraction > 0) {
		return errs.Invalid("epsilon_fraction must be positive, got %v", *c.EpsilonFraction)
	}
	if c.NearZeroOffset != nil && *c.NearZeroOffset < 0 {
		return errs.Invalid("near_zero_offset must be non-negative, got %v", *c.NearZeroOffset)
	}

	if c.DBSCANEps != nil && !(*c.DBSCANEps > 0) {
		return errs.Invalid("dbscan_eps must be positive, got %v", *c.DBSCANEps)
	}
	if c.DBSCANMinPoints != nil && *c.DBSCANMinPoints < 1 {
		return errs.Invalid("dbscan_min_points must be at least 1, got %d", *c.DBSCANMinPoints)
	}
	if c.DBSCANMaxPasses != nil && *c.DBSCANMaxPasses < 1 {
		return errs.Invalid("dbscan_max_passes must be at least 1, got %d", *c.DBSCANMaxPasses)
	}
	if c.DBSCANDepthScale != nil && !(*c.DBSCANDepthScale > 0) {
		return errs.Invalid("dbscan_depth_scale must be positive, got %v", *c.DBSCANDepthScale)
	}
	if c.DBSCANMaxPoints != nil && *c.DBSCANMaxPoints < 1 {
		return errs.Invalid("dbscan_max_points must be at least 1, got %d", *c.DBSCANMaxPoints)
	}
	if c.MapTimeout != nil && *c.MapTimeout != "" {
		d, err := time.ParseDuration(*c.MapTimeout)
		if err != nil {
			return fmt.Errorf("%w: invalid map_timeout '%s': %v", errs.ErrInvalidParameter, *c.MapTimeout, err)
		}
		if d <= 0 {
			return errs.Invalid("map_timeout must be positive, got %s", d)
		}
	}
	if c.PowerPreference != nil {
		if p := *c.PowerPreference; p != "high-performance" && p != "low-power" {
			return errs.Invalid("power_preference must be \"high-performance\" or \"low-power\", got %q", p)
		}
	}

	if c.NumBins != nil && *c.NumBins < 1 {
		return errs.Invalid("num_bins must be at least 1, got %d", *c.NumBins)
	}
	if c.SampleFraction != nil && !(*c.SampleFraction > 0 && *c.SampleFraction <= 1) {
		return errs.Invalid("sample_fraction must be in (0, 1], got %v", *c.SampleFraction)
	}
	if c.MaxSamples != nil && *c.MaxSamples < 0 {
		return errs.Invalid("max_samples must be non-negative, got %d", *c.MaxSamples)
	}
	if c.MinDepthFraction != nil && !(*c.MinDepthFraction >= 0 && *c.MinDepthFraction < 1) {
		return errs.Invalid("min_depth_fraction must be in [0, 1), got %v", *c.MinDepthFraction)
	}
	if c.ChannelOrder != nil && !isChannelPermutation(*c.ChannelOrder) {
		return errs.Invalid("channel_order must be a permutation of \"rgb\", got %q", *c.ChannelOrder)
	}

	if c.LSAP != nil && !(*c.LSAP >= 0 && *c.LSAP <= 1) {
		return errs.Invalid("lsa_p must be between 0 and 1, got %v", *c.LSAP)
	}
	if c.LSAConvergence != nil && !(*c.LSAConvergence > 0) {
		return errs.Invalid("lsa_convergence must be positive, got %v", *c.LSAConvergence)
	}
	if c.LSAMaxIterations != nil && *c.LSAMaxIterations < 1 {
		return errs.Invalid("lsa_max_iterations must be at least 1, got %d", *c.LSAMaxIterations)
	}

	if c.MaxPixels != nil && *c.MaxPixels < 0 {
		return errs.Invalid("max_pixels must be non-negative, got %d", *c.MaxPixels)
	}

	return nil
}

func isChannelPermutation(s string) bool {
	s = strings.ToLower(s)
	return len(s) == 3 && strings.ContainsRune(s, 'r') && strings.ContainsRune(s, 'g') && strings.ContainsRune(s, 'b')
}

// GetSegmenter returns the segmenter value or the default.
func (c *TuningConfig) GetSegmenter() string {
	if c.Segmenter == nil {
		return "flood"
	}
	return *c.Segmenter
}

// GetEpsilonFraction returns the epsilon_fraction value or the default.
func (c *TuningConfig) GetEpsilonFraction() float64 {
	if c.EpsilonFraction == nil {
		return 0.02
	}
	return *c.EpsilonFraction
}

// GetRandomizedSeed returns the randomized_seed value or the default.
func (c *TuningConfig) GetRandomizedSeed() bool {
	if c.RandomizedSeed == nil {
		return false
	}
	return *c.RandomizedSeed
}

// GetRandomSeed returns the random_seed value or the default.
func (c *TuningConfig) GetRandomSeed() int64 {
	if c.RandomSeed == nil {
		return 1
	}
	return *c.RandomSeed
}

// GetNearZeroOffset returns the near_zero_offset value or the default.
func (c *TuningConfig) GetNearZeroOffset() float64 {
	if c.NearZeroOffset == nil {
		return 1e-5
	}
	return *c.NearZeroOffset
}

// GetDBSCANEps returns the dbscan_eps value or the default.
func (c *TuningConfig) GetDBSCANEps() float64 {
	if c.DBSCANEps == nil {
		return 1.5
	}
	return *c.DBSCANEps
}

// GetDBSCANMinPoints returns the dbscan_min_points value or the default.
func (c *TuningConfig) GetDBSCANMinPoints() int {
	if c.DBSCANMinPoints == nil {
		return 4
	}
	return *c.DBSCANMinPoints
}

// GetDBSCANMaxPasses returns the dbscan_max_passes value or the default.
func (c *TuningConfig) GetDBSCANMaxPasses() int {
	if c.DBSCANMaxPasses == nil {
		return 32
	}
	return *c.DBSCANMaxPasses
}

// GetDBSCANFlattenOnHost returns the dbscan_flatten_on_host value or the default.
func (c *TuningConfig) GetDBSCANFlattenOnHost() bool {
	if c.DBSCANFlattenOnHost == nil {
		return true
	}
	return *c.DBSCANFlattenOnHost
}

// GetDBSCANDepthScale returns the dbscan_depth_scale value or the default.
func (c *TuningConfig) GetDBSCANDepthScale() float64 {
	if c.DBSCANDepthScale == nil {
		return 1.0
	}
	return *c.DBSCANDepthScale
}

// GetDBSCANMaxPoints returns the dbscan_max_points value or the default.
// Depth maps with more cells are downscaled before clustering.
func (c *TuningConfig) GetDBSCANMaxPoints() int {
	if c.DBSCANMaxPoints == nil {
		return 4096
	}
	return *c.DBSCANMaxPoints
}

// GetMapTimeout parses and returns the MapTimeout as a time.Duration.
func (c *TuningConfig) GetMapTimeout() time.Duration {
	if c.MapTimeout == nil || *c.MapTimeout == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.MapTimeout)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetPowerPreference returns the power_preference value or the default.
func (c *TuningConfig) GetPowerPreference() string {
	if c.PowerPreference == nil {
		return "high-performance"
	}
	return *c.PowerPreference
}

// GetNumBins returns the num_bins value or the default.
func (c *TuningConfig) GetNumBins() int {
	if c.NumBins == nil {
		return 10
	}
	return *c.NumBins
}

// GetSampleFraction returns the sample_fraction value or the default.
func (c *TuningConfig) GetSampleFraction() float64 {
	if c.SampleFraction == nil {
		return 0.01
	}
	return *c.SampleFraction
}

// GetMaxSamples returns the max_samples value or the default.
func (c *TuningConfig) GetMaxSamples() int {
	if c.MaxSamples == nil {
		return 10000
	}
	return *c.MaxSamples
}

// GetMinDepthFraction returns the min_depth_fraction value or the default.
func (c *TuningConfig) GetMinDepthFraction() float64 {
	if c.MinDepthFraction == nil {
		return 0.1
	}
	return *c.MinDepthFraction
}

// GetChannelOrder returns the channel_order value or the default.
func (c *TuningConfig) GetChannelOrder() string {
	if c.ChannelOrder == nil {
		return "rgb"
	}
	return *c.ChannelOrder
}

// GetLSAP returns the lsa_p value or the default.
func (c *TuningConfig) GetLSAP() float64 {
	if c.LSAP == nil {
		return 0.01
	}
	return *c.LSAP
}

// GetLSAConvergence returns the lsa_convergence value or the default.
func (c *TuningConfig) GetLSAConvergence() float64 {
	if c.LSAConvergence == nil {
		return 1e-5
	}
	return *c.LSAConvergence
}

// GetLSAMaxIterations returns the lsa_max_iterations value or the default.
func (c *TuningConfig) GetLSAMaxIterations() int {
	if c.LSAMaxIterations == nil {
		return 2000
	}
	return *c.LSAMaxIterations
}

// GetMaxPixels returns the max_pixels value or the default. Zero disables
// downscaling.
func (c *TuningConfig) GetMaxPixels() int {
	if c.MaxPixels == nil {
		return 1 << 20
	}
	return *c.MaxPixels
}
