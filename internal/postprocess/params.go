// Package postprocess reframes a scene's global object labels into each
// sensor's frame, culls what the sensor cannot see, estimates occlusion,
// and writes per-sensor label files back into the scene.
package postprocess

// Params tunes a pipeline run. DefaultParams matches the recording
// platform's capture cadence and sensor ranges.
type Params struct {
	// FrameStart skips the first frames of a scene, where calibrations
	// and ego poses are still settling.
	FrameStart int
	// FrameEndTrim drops the last frames of a scene.
	FrameEndTrim int
	// MaxFrames caps the number of frames processed per scene.
	MaxFrames int

	// FetchChunk and FetchCap size the worker pool that loads ego poses
	// and global labels: one worker per FetchChunk frames, at most
	// FetchCap workers.
	FetchChunk int
	FetchCap   int
	// SensorChunk and SensorCap size the per-sensor frame worker pool.
	SensorChunk int
	SensorCap   int

	// CalibWarmupFrames is the initial window in which a missing
	// calibration file is expected and skipped without a warning.
	CalibWarmupFrames int
	// EgoOffsetThreshold is how far (metres) a sensor must sit from the
	// ego before the ego itself is labeled as an object for that sensor.
	EgoOffsetThreshold float64
	// FOVDepthThreshold is the camera range cut for field-of-view culls.
	FOVDepthThreshold float64

	// Multi enables the worker pools; otherwise all loops run
	// sequentially with identical output.
	Multi bool

	// WhitelistTypes and IgnoreTypes narrow which global objects are
	// processed at all.
	WhitelistTypes []string
	IgnoreTypes    []string
}

// DefaultParams returns the standard pipeline tuning.
func DefaultParams() Params {
	return Params{
		FrameStart:         4,
		FrameEndTrim:       4,
		MaxFrames:          10000,
		FetchChunk:         10,
		FetchCap:           100,
		SensorChunk:        20,
		SensorCap:          20,
		CalibWarmupFrames:  10,
		EgoOffsetThreshold: 5,
		FOVDepthThreshold:  150,
	}
}

// workerCount sizes a pool: one worker per chunk of items, bounded by
// cap, never below one.
func workerCount(n, chunk, cap int) int {
	if chunk <= 0 {
		chunk = 1
	}
	w := n / chunk
	if w > cap {
		w = cap
	}
	if w < 1 {
		w = 1
	}
	return w
}
