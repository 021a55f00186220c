package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Position is a point tagged with the reference frame it is expressed in.
type Position struct {
	V   r3.Vec
	Ref *ReferenceFrame
}

// NewPosition builds a position in the given frame.
func NewPosition(v r3.Vec, ref *ReferenceFrame) Position {
	return Position{V: v, Ref: ref}
}

// InFrame returns the position re-expressed in target.
func (p Position) InFrame(target *ReferenceFrame) Position {
	return Position{V: TransformPoint(p.V, p.Ref, target), Ref: target}
}

// ChangeReference mutates the position into target's coordinates.
func (p *Position) ChangeReference(target *ReferenceFrame) {
	*p = p.InFrame(target)
}

// Norm is the distance from the position to its own frame's origin.
func (p Position) Norm() float64 {
	return r3.Norm(p.V)
}

// Distance is the Euclidean distance between the position and the origin
// of frame f, regardless of the frames either is expressed in.
func (p Position) Distance(f *ReferenceFrame) float64 {
	return r3.Norm(r3.Sub(p.Ref.PointToGlobal(p.V), f.GlobalPosition()))
}

// Velocity is a frame-tagged linear velocity. Frame changes rotate the
// vector without translation.
type Velocity struct {
	V   r3.Vec
	Ref *ReferenceFrame
}

// InFrame returns the velocity re-expressed in target.
func (v Velocity) InFrame(target *ReferenceFrame) Velocity {
	return Velocity{V: TransformVector(v.V, v.Ref, target), Ref: target}
}

// ChangeReference mutates the velocity into target's coordinates.
func (v *Velocity) ChangeReference(target *ReferenceFrame) {
	*v = v.InFrame(target)
}

// Acceleration is a frame-tagged linear acceleration.
type Acceleration struct {
	V   r3.Vec
	Ref *ReferenceFrame
}

// InFrame returns the acceleration re-expressed in target.
func (a Acceleration) InFrame(target *ReferenceFrame) Acceleration {
	return Acceleration{V: TransformVector(a.V, a.Ref, target), Ref: target}
}

// ChangeReference mutates the acceleration into target's coordinates.
func (a *Acceleration) ChangeReference(target *ReferenceFrame) {
	*a = a.InFrame(target)
}

// Attitude is a body orientation relative to the frame it is tagged with:
// rotating a body-axis vector by Q yields its Ref-frame coordinates.
type Attitude struct {
	Q   quat.Number
	Ref *ReferenceFrame
}

// NewAttitude builds an attitude relative to ref.
func NewAttitude(q quat.Number, ref *ReferenceFrame) Attitude {
	return Attitude{Q: QuatNorm(q), Ref: ref}
}

// AttitudeFromGlobal builds an attitude from a globally-expressed body
// orientation, re-expressed relative to ref.
func AttitudeFromGlobal(qGlobal quat.Number, ref *ReferenceFrame) Attitude {
	return Attitude{Q: QuatNorm(QuatMul(QuatConj(ref.GlobalRotation()), qGlobal)), Ref: ref}
}

// GlobalQuat resolves the attitude into a globally-expressed orientation.
func (a Attitude) GlobalQuat() quat.Number {
	return QuatMul(a.Ref.GlobalRotation(), a.Q)
}

// InFrame returns the attitude relative to target.
func (a Attitude) InFrame(target *ReferenceFrame) Attitude {
	if a.Ref == target {
		return a
	}
	return Attitude{Q: QuatMul(RotationBetween(a.Ref, target), a.Q), Ref: target}
}

// ChangeReference mutates the attitude to be relative to target.
func (a *Attitude) ChangeReference(target *ReferenceFrame) {
	*a = a.InFrame(target)
}

// AngularVelocity is a frame-tagged rotation rate stored in quaternion
// form, changing reference the same way an attitude does.
type AngularVelocity struct {
	Q   quat.Number
	Ref *ReferenceFrame
}

// InFrame returns the angular velocity relative to target.
func (w AngularVelocity) InFrame(target *ReferenceFrame) AngularVelocity {
	if w.Ref == target {
		return w
	}
	return AngularVelocity{Q: QuatMul(RotationBetween(w.Ref, target), w.Q), Ref: target}
}

// ChangeReference mutates the angular velocity to be relative to target.
func (w *AngularVelocity) ChangeReference(target *ReferenceFrame) {
	*w = w.InFrame(target)
}

// VecNearEqual reports whether two vectors agree within tol per component.
func VecNearEqual(a, b r3.Vec, tol float64) bool {
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol && math.Abs(a.Z-b.Z) < tol
}
