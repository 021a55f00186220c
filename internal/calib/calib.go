// Package calib binds sensors to their mounting reference frames and, for
// cameras, the projection intrinsics used for field-of-view tests.
package calib

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/avscene/internal/geometry"
)

func quatFromArray(a [4]float64) quat.Number {
	return quat.Number{Real: a[0], Imag: a[1], Jmag: a[2], Kmag: a[3]}
}

// Anchor values for on-disk calibration records.
const (
	// AnchorEgo mounts the sensor relative to the frame's ego pose.
	AnchorEgo = "ego"
	// AnchorGlobal mounts the sensor at a fixed world pose
	// (infrastructure sensors).
	AnchorGlobal = "global"
)

// CameraIntrinsics holds a 3x4 projection matrix (row major) plus the
// image geometry it projects into. Camera frames use optical axes:
// X=right, Y=down, Z=forward, so depth is the Z coordinate.
type CameraIntrinsics struct {
	P            [12]float64
	Width        int
	Height       int
	ChannelOrder string
}

// Project maps a camera-frame point to pixel coordinates and depth.
// Points at or behind the image plane report depth <= 0 and undefined
// pixel coordinates.
func (c *CameraIntrinsics) Project(p r3.Vec) (u, v, depth float64) {
	uh := c.P[0]*p.X + c.P[1]*p.Y + c.P[2]*p.Z + c.P[3]
	vh := c.P[4]*p.X + c.P[5]*p.Y + c.P[6]*p.Z + c.P[7]
	wh := c.P[8]*p.X + c.P[9]*p.Y + c.P[10]*p.Z + c.P[11]
	if wh <= 0 {
		return 0, 0, wh
	}
	return uh / wh, vh / wh, wh
}

// Contains reports whether pixel (u,v) lies inside the image bounds.
func (c *CameraIntrinsics) Contains(u, v float64) bool {
	return u >= 0 && u < float64(c.Width) && v >= 0 && v < float64(c.Height)
}

// Calibration binds a sensor to its mounting frame. Camera is nil for
// sensors without a projective model (lidar, radar, ego).
type Calibration struct {
	Reference *geometry.ReferenceFrame
	Camera    *CameraIntrinsics
}

// New builds a calibration with no camera model.
func New(ref *geometry.ReferenceFrame) *Calibration {
	return &Calibration{Reference: ref}
}

// BoxInFOV reports whether any corner of a box already expressed in this
// calibration's frame projects inside the image at positive depth within
// dThresh metres. Non-camera calibrations only apply the range test.
func (c *Calibration) BoxInFOV(box geometry.Box3D, dThresh float64) bool {
	for _, corner := range box.Corners() {
		if r3.Norm(corner) > dThresh {
			continue
		}
		if c.Camera == nil {
			return true
		}
		u, v, depth := c.Camera.Project(corner)
		if depth > 0 && c.Camera.Contains(u, v) {
			return true
		}
	}
	return false
}

// File is the JSON schema for per-frame, per-sensor calibration records.
// Ego-anchored records are composed with the frame's ego reference by the
// scene dataset; global-anchored records stand alone.
type File struct {
	Anchor       string       `json:"anchor,omitempty"`
	Reference    refJSON      `json:"reference"`
	P            *[12]float64 `json:"P,omitempty"`
	ImgShape     *[2]int      `json:"img_shape,omitempty"` // height, width
	ChannelOrder string       `json:"channel_order,omitempty"`
}

type refJSON struct {
	X [3]float64 `json:"x"`
	Q [4]float64 `json:"q"`
}

// Decode parses a calibration file and mounts it on the given parent
// frame (the frame's ego reference for ego-anchored records, ignored for
// global-anchored ones).
func Decode(data []byte, egoRef *geometry.ReferenceFrame) (*Calibration, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode calibration: %w", err)
	}
	anchor := f.Anchor
	if anchor == "" {
		anchor = AnchorEgo
	}
	var parent *geometry.ReferenceFrame
	switch anchor {
	case AnchorEgo:
		if egoRef == nil {
			return nil, fmt.Errorf("ego-anchored calibration requires an ego reference")
		}
		parent = egoRef
	case AnchorGlobal:
		parent = nil
	default:
		return nil, fmt.Errorf("unknown calibration anchor %q", anchor)
	}

	ref := geometry.NewReferenceFrame(
		r3.Vec{X: f.Reference.X[0], Y: f.Reference.X[1], Z: f.Reference.X[2]},
		quatFromArray(f.Reference.Q),
		parent,
	)
	out := &Calibration{Reference: ref}
	if f.P != nil {
		cam := &CameraIntrinsics{P: *f.P, ChannelOrder: f.ChannelOrder}
		if f.ImgShape != nil {
			cam.Height = f.ImgShape[0]
			cam.Width = f.ImgShape[1]
		}
		if cam.ChannelOrder == "" {
			cam.ChannelOrder = "rgb"
		}
		out.Camera = cam
	}
	return out, nil
}

// Encode writes a calibration record relative to its immediate parent.
func Encode(c *Calibration, anchor string) ([]byte, error) {
	q := c.Reference.Q
	f := File{
		Anchor: anchor,
		Reference: refJSON{
			X: [3]float64{c.Reference.X.X, c.Reference.X.Y, c.Reference.X.Z},
			Q: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		},
	}
	if c.Camera != nil {
		p := c.Camera.P
		f.P = &p
		shape := [2]int{c.Camera.Height, c.Camera.Width}
		f.ImgShape = &shape
		f.ChannelOrder = c.Camera.ChannelOrder
	}
	return json.Marshal(&f)
}
