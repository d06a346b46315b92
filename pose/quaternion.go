package pose

import "math"

// slerpLinearThreshold is the dot product above which two quaternions are
// treated as parallel and blended linearly.
const slerpLinearThreshold = 0.9995

// Quaternion is a rotation in (x, y, z, w) order, w being the scalar part
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity returns the no-rotation quaternion
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// Norm returns the Euclidean length of q
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalized returns q scaled to unit length. A quaternion with norm <= 0 is
// returned unchanged.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n <= 0 {
		return q
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// Dot returns the 4D dot product of q and o
func (q Quaternion) Dot(o Quaternion) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Negate returns -q, which encodes the same rotation as q
func (q Quaternion) Negate() Quaternion {
	return Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: -q.W}
}

// Slerp blends a toward b by fraction u along the shorter arc.
// u is clamped to [0, 1].
func Slerp(a, b Quaternion, u float64) Quaternion {
	u = clamp(u, 0, 1)

	dot := a.Dot(b)
	if dot < 0 {
		b = b.Negate()
		dot = -dot
	}
	dot = clamp(dot, -1, 1)

	if dot > slerpLinearThreshold {
		return Quaternion{
			X: a.X + u*(b.X-a.X),
			Y: a.Y + u*(b.Y-a.Y),
			Z: a.Z + u*(b.Z-a.Z),
			W: a.W + u*(b.W-a.W),
		}.Normalized()
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-u)*theta) / sinTheta
	wb := math.Sin(u*theta) / sinTheta

	return Quaternion{
		X: wa*a.X + wb*b.X,
		Y: wa*a.Y + wb*b.Y,
		Z: wa*a.Z + wb*b.Z,
		W: wa*a.W + wb*b.W,
	}
}

// Euler holds Tait-Bryan angles in degrees (Z-Y-X convention)
type Euler struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Euler converts q to yaw/pitch/roll in degrees. Pitch saturates at ±90°
// at gimbal lock.
func (q Quaternion) Euler() Euler {
	q = q.Normalized()

	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	return Euler{
		Yaw:   yaw * 180 / math.Pi,
		Pitch: pitch * 180 / math.Pi,
		Roll:  roll * 180 / math.Pi,
	}
}

// FromYaw builds a rotation of yawDeg degrees about the Z axis
func FromYaw(yawDeg float64) Quaternion {
	half := yawDeg * math.Pi / 360
	return Quaternion{Z: math.Sin(half), W: math.Cos(half)}
}

// angleBetween returns the rotation angle in degrees separating a and b,
// treating q and -q as equal.
func angleBetween(a, b Quaternion) float64 {
	d := math.Abs(a.Normalized().Dot(b.Normalized()))
	d = clamp(d, -1, 1)
	return 2 * math.Acos(d) * 180 / math.Pi
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
