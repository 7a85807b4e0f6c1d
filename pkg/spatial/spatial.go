// Package spatial provides the small 3D math types carried by introspection
// values: vectors, quaternions and poses.
package spatial

import "math"

// Vector3 is a 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a rotation in (w, x, y, z) form.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose is a position plus an orientation.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// FromEuler builds a quaternion from roll/pitch/yaw angles in radians.
func FromEuler(roll, pitch, yaw float64) Quaternion {
	phi := roll / 2
	the := pitch / 2
	psi := yaw / 2

	return Quaternion{
		W: math.Cos(phi)*math.Cos(the)*math.Cos(psi) + math.Sin(phi)*math.Sin(the)*math.Sin(psi),
		X: math.Sin(phi)*math.Cos(the)*math.Cos(psi) - math.Cos(phi)*math.Sin(the)*math.Sin(psi),
		Y: math.Cos(phi)*math.Sin(the)*math.Cos(psi) + math.Sin(phi)*math.Cos(the)*math.Sin(psi),
		Z: math.Cos(phi)*math.Cos(the)*math.Sin(psi) - math.Sin(phi)*math.Sin(the)*math.Cos(psi),
	}
}

// Normalized returns the unit-length form of q. The zero quaternion
// normalizes to identity.
func (q Quaternion) Normalized() Quaternion {
	s := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if s == 0 {
		return Identity()
	}
	s = math.Sqrt(s)
	return Quaternion{W: q.W / s, X: q.X / s, Y: q.Y / s, Z: q.Z / s}
}

// Euler returns the roll/pitch/yaw angles of q in radians, as the X, Y and Z
// components of the result.
func (q Quaternion) Euler() Vector3 {
	const tol = 1e-15

	copy := q.Normalized()

	squ := copy.W * copy.W
	sqx := copy.X * copy.X
	sqy := copy.Y * copy.Y
	sqz := copy.Z * copy.Z

	var vec Vector3

	sarg := -2 * (copy.X*copy.Z - copy.W*copy.Y)
	switch {
	case sarg <= -1:
		vec.Y = -math.Pi / 2
	case sarg >= 1:
		vec.Y = math.Pi / 2
	default:
		vec.Y = math.Asin(sarg)
	}

	// Gimbal lock: pitch at +-90 degrees collapses roll into yaw.
	switch {
	case math.Abs(sarg-1) < tol:
		vec.X = 0
		vec.Z = math.Atan2(2*(copy.X*copy.Y-copy.Z*copy.W), squ-sqx+sqy-sqz)
	case math.Abs(sarg+1) < tol:
		vec.X = 0
		vec.Z = math.Atan2(-2*(copy.X*copy.Y-copy.Z*copy.W), squ-sqx+sqy-sqz)
	default:
		vec.X = math.Atan2(2*(copy.Y*copy.Z+copy.W*copy.X), squ-sqx-sqy+sqz)
		vec.Z = math.Atan2(2*(copy.X*copy.Y+copy.W*copy.Z), squ+sqx-sqy-sqz)
	}

	return vec
}
