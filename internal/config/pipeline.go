// Package config loads pipeline tuning from JSON files. Fields omitted
// from a config file keep their built-in defaults, so partial configs
// are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/avscene/internal/postprocess"
)

// PipelineConfig mirrors postprocess.Params with optional fields. The
// schema doubles as the on-disk format and the merge layer over
// DefaultParams.
type PipelineConfig struct {
	// Frame windowing
	FrameStart   *int `json:"frame_start,omitempty"`
	FrameEndTrim *int `json:"frame_end_trim,omitempty"`
	MaxFrames    *int `json:"max_frames,omitempty"`

	// Worker pools
	FetchChunk  *int  `json:"fetch_chunk,omitempty"`
	FetchCap    *int  `json:"fetch_cap,omitempty"`
	SensorChunk *int  `json:"sensor_chunk,omitempty"`
	SensorCap   *int  `json:"sensor_cap,omitempty"`
	Multi       *bool `json:"multi,omitempty"`

	// Geometry thresholds
	CalibWarmupFrames  *int     `json:"calib_warmup_frames,omitempty"`
	EgoOffsetThreshold *float64 `json:"ego_offset_threshold,omitempty"`
	FOVDepthThreshold  *float64 `json:"fov_depth_threshold,omitempty"`

	// Object type filters
	WhitelistTypes []string `json:"whitelist_types,omitempty"`
	IgnoreTypes    []string `json:"ignore_types,omitempty"`
}

// Load reads a pipeline config from a JSON file. The file must carry a
// .json extension and stay under 1MB.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg PipelineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the set fields hold usable values.
func (c *PipelineConfig) Validate() error {
	if c.FrameStart != nil && *c.FrameStart < 0 {
		return fmt.Errorf("frame_start must be >= 0, got %d", *c.FrameStart)
	}
	if c.FrameEndTrim != nil && *c.FrameEndTrim < 0 {
		return fmt.Errorf("frame_end_trim must be >= 0, got %d", *c.FrameEndTrim)
	}
	if c.MaxFrames != nil && *c.MaxFrames <= 0 {
		return fmt.Errorf("max_frames must be > 0, got %d", *c.MaxFrames)
	}
	for name, v := range map[string]*int{
		"fetch_chunk": c.FetchChunk, "fetch_cap": c.FetchCap,
		"sensor_chunk": c.SensorChunk, "sensor_cap": c.SensorCap,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", name, *v)
		}
	}
	if c.EgoOffsetThreshold != nil && *c.EgoOffsetThreshold < 0 {
		return fmt.Errorf("ego_offset_threshold must be >= 0, got %f", *c.EgoOffsetThreshold)
	}
	if c.FOVDepthThreshold != nil && *c.FOVDepthThreshold <= 0 {
		return fmt.Errorf("fov_depth_threshold must be > 0, got %f", *c.FOVDepthThreshold)
	}
	return nil
}

// Apply overlays the set fields onto params.
func (c *PipelineConfig) Apply(params *postprocess.Params) {
	if c.FrameStart != nil {
		params.FrameStart = *c.FrameStart
	}
	if c.FrameEndTrim != nil {
		params.FrameEndTrim = *c.FrameEndTrim
	}
	if c.MaxFrames != nil {
		params.MaxFrames = *c.MaxFrames
	}
	if c.FetchChunk != nil {
		params.FetchChunk = *c.FetchChunk
	}
	if c.FetchCap != nil {
		params.FetchCap = *c.FetchCap
	}
	if c.SensorChunk != nil {
		params.SensorChunk = *c.SensorChunk
	}
	if c.SensorCap != nil {
		params.SensorCap = *c.SensorCap
	}
	if c.Multi != nil {
		params.Multi = *c.Multi
	}
	if c.CalibWarmupFrames != nil {
		params.CalibWarmupFrames = *c.CalibWarmupFrames
	}
	if c.EgoOffsetThreshold != nil {
		params.EgoOffsetThreshold = *c.EgoOffsetThreshold
	}
	if c.FOVDepthThreshold != nil {
		params.FOVDepthThreshold = *c.FOVDepthThreshold
	}
	if c.WhitelistTypes != nil {
		params.WhitelistTypes = c.WhitelistTypes
	}
	if c.IgnoreTypes != nil {
		params.IgnoreTypes = c.IgnoreTypes
	}
}
