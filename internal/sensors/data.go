// Package sensors holds raw sensor payload codecs and occlusion
// estimation against depth images and point clouds.
package sensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/geometry"
)

// Meta ties a sensor payload to where and when it was captured.
type Meta struct {
	SensorID  string
	Frame     int
	Timestamp float64
}

// ImageData carries raw encoded image bytes. The pipeline never decodes
// pixels; images are only copied and referenced by frame index.
type ImageData struct {
	Meta
	Bytes []byte
}

// DepthImage is a dense per-pixel depth raster in metres. Pixels with no
// return are zero.
type DepthImage struct {
	Meta
	Width  int
	Height int
	Depths []float32
}

// At returns the depth at pixel (u,v).
func (d *DepthImage) At(u, v int) float32 {
	return d.Depths[v*d.Width+u]
}

// ReadDepthImage decodes the on-disk depth format: uint32 little-endian
// width and height, then width*height float32 depths.
func ReadDepthImage(r io.Reader) (*DepthImage, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read depth header: %w", err)
	}
	w, h := int(hdr[0]), int(hdr[1])
	if w <= 0 || h <= 0 || w*h > 64<<20 {
		return nil, fmt.Errorf("implausible depth image shape %dx%d", w, h)
	}
	depths := make([]float32, w*h)
	if err := binary.Read(r, binary.LittleEndian, depths); err != nil {
		return nil, fmt.Errorf("read depth raster: %w", err)
	}
	return &DepthImage{Width: w, Height: h, Depths: depths}, nil
}

// WriteDepthImage encodes a depth image in the on-disk format.
func WriteDepthImage(w io.Writer, d *DepthImage) error {
	hdr := [2]uint32{uint32(d.Width), uint32(d.Height)}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write depth header: %w", err)
	}
	if len(d.Depths) != d.Width*d.Height {
		return fmt.Errorf("depth raster has %d values, want %d", len(d.Depths), d.Width*d.Height)
	}
	if err := binary.Write(w, binary.LittleEndian, d.Depths); err != nil {
		return fmt.Errorf("write depth raster: %w", err)
	}
	return nil
}

// PointCloud is a lidar return set in its sensor frame.
type PointCloud struct {
	Meta
	Ref    *geometry.ReferenceFrame
	Points []LidarPoint
}

// LidarPoint is one lidar return.
type LidarPoint struct {
	X, Y, Z   float32
	Intensity float32
}

// Vec returns the point position as a vector.
func (p LidarPoint) Vec() r3.Vec {
	return r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// FilterByRange returns the points between minRange and maxRange of the
// sensor origin.
func (pc *PointCloud) FilterByRange(minRange, maxRange float64) *PointCloud {
	out := &PointCloud{Meta: pc.Meta, Ref: pc.Ref}
	for _, p := range pc.Points {
		if r := r3.Norm(p.Vec()); r >= minRange && r <= maxRange {
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// ReadPointCloud decodes packed float32 x,y,z,intensity quads.
func ReadPointCloud(r io.Reader, ref *geometry.ReferenceFrame) (*PointCloud, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read point cloud: %w", err)
	}
	if len(raw)%16 != 0 {
		return nil, fmt.Errorf("point cloud payload is %d bytes, not a multiple of 16", len(raw))
	}
	pc := &PointCloud{Ref: ref, Points: make([]LidarPoint, len(raw)/16)}
	for i := range pc.Points {
		off := i * 16
		pc.Points[i] = LidarPoint{
			X:         f32(raw[off:]),
			Y:         f32(raw[off+4:]),
			Z:         f32(raw[off+8:]),
			Intensity: f32(raw[off+12:]),
		}
	}
	return pc, nil
}

// WritePointCloud encodes a point cloud as packed float32 quads.
func WritePointCloud(w io.Writer, pc *PointCloud) error {
	buf := make([]byte, len(pc.Points)*16)
	for i, p := range pc.Points {
		off := i * 16
		putF32(buf[off:], p.X)
		putF32(buf[off+4:], p.Y)
		putF32(buf[off+8:], p.Z)
		putF32(buf[off+12:], p.Intensity)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write point cloud: %w", err)
	}
	return nil
}

// RadarScan is a set of radar returns in spherical sensor coordinates.
type RadarScan struct {
	Meta
	Ref     *geometry.ReferenceFrame
	Returns []RadarReturn
}

// RadarReturn is one radar detection.
type RadarReturn struct {
	Range     float32
	Azimuth   float32
	Elevation float32
	RangeRate float32
}

// FilterByRange returns the returns between minRange and maxRange.
func (rs *RadarScan) FilterByRange(minRange, maxRange float64) *RadarScan {
	out := &RadarScan{Meta: rs.Meta, Ref: rs.Ref}
	for _, ret := range rs.Returns {
		if r := float64(ret.Range); r >= minRange && r <= maxRange {
			out.Returns = append(out.Returns, ret)
		}
	}
	return out
}

// ReadRadarScan decodes packed float32 range,azimuth,elevation,rangeRate
// quads.
func ReadRadarScan(r io.Reader, ref *geometry.ReferenceFrame) (*RadarScan, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read radar scan: %w", err)
	}
	if len(raw)%16 != 0 {
		return nil, fmt.Errorf("radar payload is %d bytes, not a multiple of 16", len(raw))
	}
	rs := &RadarScan{Ref: ref, Returns: make([]RadarReturn, len(raw)/16)}
	for i := range rs.Returns {
		off := i * 16
		rs.Returns[i] = RadarReturn{
			Range:     f32(raw[off:]),
			Azimuth:   f32(raw[off+4:]),
			Elevation: f32(raw[off+8:]),
			RangeRate: f32(raw[off+12:]),
		}
	}
	return rs, nil
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
