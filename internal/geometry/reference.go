// Package geometry provides reference frames, frame-tagged kinematic values
// and 3D bounding boxes for sensor datasets.
//
// Frame convention: a ReferenceFrame's Q is the orientation of the frame
// relative to its parent (rotating a local vector by Q yields its parent
// coordinates) and X is the frame origin expressed in parent coordinates.
// A point converts as
//
//	p_parent = Q p_local Q* + X
//	p_local  = Q* (p_parent - X) Q
//
// Every frame chain bottoms out at the single global anchor, so frame
// composition is associative and invertible.
package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ReferenceFrame is a named coordinate system positioned and oriented
// relative to a parent frame. A nil Parent anchors the frame directly at
// the global origin.
type ReferenceFrame struct {
	Name   string
	X      r3.Vec
	Q      quat.Number
	Parent *ReferenceFrame
}

var globalOrigin = &ReferenceFrame{Name: "global", Q: QIdentity}

// GlobalOrigin returns the dataset-wide global anchor frame.
func GlobalOrigin() *ReferenceFrame {
	return globalOrigin
}

// NewReferenceFrame builds a frame at position x with orientation q
// relative to parent. A nil parent anchors the frame at the global origin.
func NewReferenceFrame(x r3.Vec, q quat.Number, parent *ReferenceFrame) *ReferenceFrame {
	return &ReferenceFrame{X: x, Q: QuatNorm(q), Parent: parent}
}

// IsGlobal reports whether f is the global anchor itself.
func (f *ReferenceFrame) IsGlobal() bool {
	return f == globalOrigin
}

func (f *ReferenceFrame) parent() *ReferenceFrame {
	if f.Parent == nil {
		return globalOrigin
	}
	return f.Parent
}

// GlobalRotation resolves the frame's orientation relative to the global
// anchor through the parent chain.
func (f *ReferenceFrame) GlobalRotation() quat.Number {
	if f.IsGlobal() {
		return QIdentity
	}
	return QuatMul(f.parent().GlobalRotation(), f.Q)
}

// GlobalPosition resolves the frame origin in global coordinates.
func (f *ReferenceFrame) GlobalPosition() r3.Vec {
	if f.IsGlobal() {
		return r3.Vec{}
	}
	return f.parent().PointToGlobal(f.X)
}

// PointToGlobal converts a point expressed in f into global coordinates.
func (f *ReferenceFrame) PointToGlobal(p r3.Vec) r3.Vec {
	if f.IsGlobal() {
		return p
	}
	inParent := r3.Add(QuatRotate(f.Q, p), f.X)
	return f.parent().PointToGlobal(inParent)
}

// PointFromGlobal converts a point expressed in global coordinates into f.
func (f *ReferenceFrame) PointFromGlobal(p r3.Vec) r3.Vec {
	if f.IsGlobal() {
		return p
	}
	inParent := f.parent().PointFromGlobal(p)
	return QuatRotate(QuatConj(f.Q), r3.Sub(inParent, f.X))
}

// VectorToGlobal rotates a direction vector expressed in f into global
// coordinates (no translation).
func (f *ReferenceFrame) VectorToGlobal(v r3.Vec) r3.Vec {
	return QuatRotate(f.GlobalRotation(), v)
}

// VectorFromGlobal rotates a global direction vector into f.
func (f *ReferenceFrame) VectorFromGlobal(v r3.Vec) r3.Vec {
	return QuatRotate(QuatConj(f.GlobalRotation()), v)
}

// TransformPoint re-expresses a point from frame `from` in frame `to`.
func TransformPoint(p r3.Vec, from, to *ReferenceFrame) r3.Vec {
	if from == to {
		return p
	}
	return to.PointFromGlobal(from.PointToGlobal(p))
}

// TransformVector re-expresses a direction vector from frame `from` in
// frame `to`.
func TransformVector(v r3.Vec, from, to *ReferenceFrame) r3.Vec {
	if from == to {
		return v
	}
	return to.VectorFromGlobal(from.VectorToGlobal(v))
}

// RotationBetween returns the rotation that re-expresses an orientation
// held relative to `from` as an orientation relative to `to`
// (left-composed onto the orientation quaternion).
func RotationBetween(from, to *ReferenceFrame) quat.Number {
	return QuatMul(QuatConj(to.GlobalRotation()), from.GlobalRotation())
}

func (f *ReferenceFrame) String() string {
	name := f.Name
	if name == "" {
		name = "frame"
	}
	return fmt.Sprintf("%s(x=%.3f,%.3f,%.3f)", name, f.X.X, f.X.Y, f.X.Z)
}
