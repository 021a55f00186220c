package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// QIdentity is the identity rotation.
var QIdentity = quat.Number{Real: 1}

// QCamToStd rotates optical camera coordinates (X=right, Y=down, Z=forward)
// into standard vehicle coordinates (X=forward, Y=left, Z=up).
var QCamToStd = QuatFromMatrix([3][3]float64{
	{0, 0, 1},
	{-1, 0, 0},
	{0, -1, 0},
})

// QuatMul composes two rotations. The right-hand factor is applied first,
// so QuatMul(b, a) maps through a and then b.
func QuatMul(b, a quat.Number) quat.Number {
	return quat.Mul(b, a)
}

// QuatConj returns the conjugate (inverse for unit quaternions).
func QuatConj(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// QuatNorm normalises q to unit length. The zero quaternion is returned
// unchanged to avoid dividing by zero.
func QuatNorm(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return q
	}
	return quat.Scale(1/n, q)
}

// QuatRotate applies the rotation q to vector v (computes q v q*).
func QuatRotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// QuatFromYaw builds a rotation of yaw radians about the +Z axis.
func QuatFromYaw(yaw float64) quat.Number {
	half := yaw / 2
	return quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
}

// YawOf extracts the rotation about +Z from q (Z-Y-X euler convention).
func YawOf(q quat.Number) float64 {
	return math.Atan2(
		2*(q.Real*q.Kmag+q.Imag*q.Jmag),
		1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag),
	)
}

// QuatFromMatrix converts a 3x3 rotation matrix (row major) into a unit
// quaternion using the Shepperd stability branches.
func QuatFromMatrix(m [3][3]float64) quat.Number {
	tr := m[0][0] + m[1][1] + m[2][2]
	var q quat.Number
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q.Real = s / 4
		q.Imag = (m[2][1] - m[1][2]) / s
		q.Jmag = (m[0][2] - m[2][0]) / s
		q.Kmag = (m[1][0] - m[0][1]) / s
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q.Real = (m[2][1] - m[1][2]) / s
		q.Imag = s / 4
		q.Jmag = (m[0][1] + m[1][0]) / s
		q.Kmag = (m[0][2] + m[2][0]) / s
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q.Real = (m[0][2] - m[2][0]) / s
		q.Imag = (m[0][1] + m[1][0]) / s
		q.Jmag = s / 4
		q.Kmag = (m[1][2] + m[2][1]) / s
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q.Real = (m[1][0] - m[0][1]) / s
		q.Imag = (m[0][2] + m[2][0]) / s
		q.Jmag = (m[1][2] + m[2][1]) / s
		q.Kmag = s / 4
	}
	return QuatNorm(q)
}

// QuatNearEqual reports whether two unit quaternions represent the same
// rotation within tol, treating q and -q as equal.
func QuatNearEqual(a, b quat.Number, tol float64) bool {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	return math.Abs(math.Abs(dot)-1) < tol
}

// WrapMinusPiToPi wraps an angle into the (-pi, pi] interval.
func WrapMinusPiToPi(angle float64) float64 {
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}
