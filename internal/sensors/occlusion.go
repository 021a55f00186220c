package sensors

import (
	"math"

	"github.com/banshee-data/avscene/internal/calib"
	"github.com/banshee-data/avscene/internal/geometry"
	"github.com/banshee-data/avscene/internal/objects"
)

// Visible-fraction cut points for depth-image occlusion.
const (
	depthVisibleFraction = 0.5
	depthPartialFraction = 0.05
	// depthToleranceM absorbs the gap between the nearest box face and
	// the surface the depth camera actually measured on the object.
	depthToleranceM = 1.0
	// maxDepthSamples bounds the per-axis sampling grid over the
	// projected box rectangle.
	maxDepthSamples = 32
)

// Return-count cut points for point-cloud occlusion.
const (
	lidarVisiblePoints = 8
	lidarInflate       = 0.1
)

// OcclusionByDepth estimates how much of a box a depth camera can see.
// The box must already be expressed in the camera's frame. It projects
// the box corners, samples the depth raster over the resulting pixel
// rectangle, and classifies by the fraction of samples whose measured
// depth reaches the box. Boxes that project nowhere onto the image give
// OcclusionUnknown.
func OcclusionByDepth(box geometry.Box3D, cam *calib.CameraIntrinsics, depth *DepthImage) objects.Occlusion {
	minU, minV := math.Inf(1), math.Inf(1)
	maxU, maxV := math.Inf(-1), math.Inf(-1)
	minDepth := math.Inf(1)
	projected := false
	for _, corner := range box.Corners() {
		u, v, d := cam.Project(corner)
		if d <= 0 {
			continue
		}
		projected = true
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		minDepth = math.Min(minDepth, d)
	}
	if !projected {
		return objects.OcclusionUnknown
	}

	u0 := clampInt(int(math.Floor(minU)), 0, depth.Width-1)
	u1 := clampInt(int(math.Ceil(maxU)), 0, depth.Width-1)
	v0 := clampInt(int(math.Floor(minV)), 0, depth.Height-1)
	v1 := clampInt(int(math.Ceil(maxV)), 0, depth.Height-1)
	if u1 < u0 || v1 < v0 || maxU < 0 || minU >= float64(depth.Width) ||
		maxV < 0 || minV >= float64(depth.Height) {
		return objects.OcclusionUnknown
	}

	stepU := gridStep(u1 - u0)
	stepV := gridStep(v1 - v0)
	samples, visible := 0, 0
	for v := v0; v <= v1; v += stepV {
		for u := u0; u <= u1; u += stepU {
			d := float64(depth.At(u, v))
			if d <= 0 {
				continue
			}
			samples++
			if d >= minDepth-depthToleranceM {
				visible++
			}
		}
	}
	if samples == 0 {
		return objects.OcclusionUnknown
	}
	frac := float64(visible) / float64(samples)
	switch {
	case frac >= depthVisibleFraction:
		return objects.OcclusionVisible
	case frac >= depthPartialFraction:
		return objects.OcclusionPartial
	default:
		return objects.OcclusionComplete
	}
}

// OcclusionByPointCloud estimates occlusion by counting lidar returns
// inside the (slightly inflated) box. The box is re-expressed in the
// cloud's frame before testing.
func OcclusionByPointCloud(box geometry.Box3D, pc *PointCloud) objects.Occlusion {
	if pc.Ref != nil {
		box = box.InFrame(pc.Ref)
	}
	hits := 0
	for _, p := range pc.Points {
		if box.Contains(p.Vec(), lidarInflate) {
			hits++
			if hits >= lidarVisiblePoints {
				return objects.OcclusionVisible
			}
		}
	}
	if hits >= 1 {
		return objects.OcclusionPartial
	}
	return objects.OcclusionComplete
}

func gridStep(span int) int {
	step := (span + maxDepthSamples) / maxDepthSamples
	if step < 1 {
		return 1
	}
	return step
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
