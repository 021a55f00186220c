package geometry

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// BoxAnchor states where a box's translation point sits on the box body.
type BoxAnchor string

const (
	// AnchorBottom places the translation at the bottom-centre of the box
	// (KITTI convention).
	AnchorBottom BoxAnchor = "bottom"
	// AnchorCenter places the translation at the box centroid.
	AnchorCenter BoxAnchor = "center"
)

// Box3D is an oriented 3D bounding box. Body axes are X along length,
// Y along width and Z along height. Position and Attitude share one
// reference frame at all times.
type Box3D struct {
	Position Position
	Attitude Attitude
	// Height, Width, Length in metres (the on-disk "hwl" order).
	H, W, L float64
	Anchor  BoxAnchor
}

// NewBox3D builds a box from a frame-tagged pose and hwl extents.
func NewBox3D(pos Position, att Attitude, h, w, l float64, anchor BoxAnchor) Box3D {
	if anchor == "" {
		anchor = AnchorBottom
	}
	return Box3D{Position: pos, Attitude: att, H: h, W: w, L: l, Anchor: anchor}
}

// Center returns the box centroid in the box's reference frame,
// compensating for a bottom anchor.
func (b Box3D) Center() r3.Vec {
	if b.Anchor == AnchorBottom {
		up := QuatRotate(b.Attitude.Q, r3.Vec{Z: b.H / 2})
		return r3.Add(b.Position.V, up)
	}
	return b.Position.V
}

// Corners enumerates the eight box corners in the box's reference frame.
// Order: the four bottom corners counter-clockwise, then the four top
// corners in the same XY order.
func (b Box3D) Corners() []r3.Vec {
	center := b.Center()
	halfL, halfW, halfH := b.L/2, b.W/2, b.H/2
	local := []r3.Vec{
		{X: halfL, Y: halfW, Z: -halfH},
		{X: halfL, Y: -halfW, Z: -halfH},
		{X: -halfL, Y: -halfW, Z: -halfH},
		{X: -halfL, Y: halfW, Z: -halfH},
		{X: halfL, Y: halfW, Z: halfH},
		{X: halfL, Y: -halfW, Z: halfH},
		{X: -halfL, Y: -halfW, Z: halfH},
		{X: -halfL, Y: halfW, Z: halfH},
	}
	out := make([]r3.Vec, len(local))
	for i, c := range local {
		out[i] = r3.Add(center, QuatRotate(b.Attitude.Q, c))
	}
	return out
}

// Contains reports whether point p (expressed in the box's reference
// frame) lies inside the box inflated by the given fraction per axis.
func (b Box3D) Contains(p r3.Vec, inflate float64) bool {
	body := QuatRotate(QuatConj(b.Attitude.Q), r3.Sub(p, b.Center()))
	scale := 1 + inflate
	halfL, halfW, halfH := b.L/2*scale, b.W/2*scale, b.H/2*scale
	return body.X >= -halfL && body.X <= halfL &&
		body.Y >= -halfW && body.Y <= halfW &&
		body.Z >= -halfH && body.Z <= halfH
}

// InFrame returns the box re-expressed in target.
func (b Box3D) InFrame(target *ReferenceFrame) Box3D {
	b.Position = b.Position.InFrame(target)
	b.Attitude = b.Attitude.InFrame(target)
	return b
}

// ChangeReference mutates the box pose into target's coordinates.
func (b *Box3D) ChangeReference(target *ReferenceFrame) {
	*b = b.InFrame(target)
}
