// Package scene reads recorded driving scenes from disk: per-frame ego
// poses, global object labels, sensor calibrations and payloads, and the
// per-sensor label files the postprocess pipeline writes back.
package scene

import (
	"encoding/json"
	"fmt"
	"os"
)

// Sensor type tags used in scene config files.
const (
	SensorCamera      = "camera"
	SensorDepthCamera = "depthcamera"
	SensorLidar       = "lidar"
	SensorRadar       = "radar"
)

// SensorInfo describes one sensor channel recorded in a scene.
type SensorInfo struct {
	// Name is the canonical sensor name, also the directory name under
	// data/, calibration/ and objects_sensor/.
	Name string `json:"name"`
	// Type is one of the Sensor* constants.
	Type string `json:"type"`
	// ID is the recording platform's channel identifier.
	ID string `json:"id,omitempty"`
	// Aliases are alternative names accepted by Dataset.SensorName.
	Aliases []string `json:"aliases,omitempty"`
	// Ext is the payload file extension under data/<name>/ (png, bin, ...).
	Ext string `json:"ext"`
}

// Config is the per-scene config.json record.
type Config struct {
	Name    string       `json:"name"`
	Sensors []SensorInfo `json:"sensors"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse scene config %s: %w", path, err)
	}
	if len(cfg.Sensors) == 0 {
		return nil, fmt.Errorf("scene config %s lists no sensors", path)
	}
	return &cfg, nil
}
