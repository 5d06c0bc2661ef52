package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	radToDeg = 180 / math.Pi
	// below this angle the first order expansions of exp and log are exact to machine precision.
	smallAngle = 1e-10
)

// ExpSO3 maps a rotation vector to its rotation matrix (Rodrigues' formula).
func ExpSO3(w r3.Vector) mgl64.Mat3 {
	theta := w.Norm()
	r := mgl64.Ident3()
	if theta < smallAngle {
		r.Set(0, 1, -w.Z)
		r.Set(0, 2, w.Y)
		r.Set(1, 0, w.Z)
		r.Set(1, 2, -w.X)
		r.Set(2, 0, -w.Y)
		r.Set(2, 1, w.X)
		return r
	}
	k := w.Mul(1 / theta)
	s, c := math.Sin(theta), math.Cos(theta)
	v := 1 - c
	r.Set(0, 0, c+k.X*k.X*v)
	r.Set(0, 1, k.X*k.Y*v-k.Z*s)
	r.Set(0, 2, k.X*k.Z*v+k.Y*s)
	r.Set(1, 0, k.Y*k.X*v+k.Z*s)
	r.Set(1, 1, c+k.Y*k.Y*v)
	r.Set(1, 2, k.Y*k.Z*v-k.X*s)
	r.Set(2, 0, k.Z*k.X*v-k.Y*s)
	r.Set(2, 1, k.Z*k.Y*v+k.X*s)
	r.Set(2, 2, c+k.Z*k.Z*v)
	return r
}

// LogSO3 maps a rotation matrix to its rotation vector, with angle in [0, π].
func LogSO3(r mgl64.Mat3) r3.Vector {
	cosTheta := math.Max(-1, math.Min(1, (r.At(0, 0)+r.At(1, 1)+r.At(2, 2)-1)/2))
	skew := r3.Vector{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	// atan2 keeps full precision at small angles where acos does not.
	theta := math.Atan2(skew.Norm()/2, cosTheta)
	switch {
	case theta < smallAngle:
		return skew.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// sin(theta) vanishes; recover the axis from the symmetric part.
		i := 0
		for j := 1; j < 3; j++ {
			if r.At(j, j) > r.At(i, i) {
				i = j
			}
		}
		var axis [3]float64
		axis[i] = math.Sqrt(math.Max(0, (r.At(i, i)+1)/2))
		for j := 0; j < 3; j++ {
			if j != i {
				axis[j] = (r.At(i, j) + r.At(j, i)) / (4 * axis[i])
			}
		}
		v := r3.Vector{X: axis[0], Y: axis[1], Z: axis[2]}.Normalize()
		return v.Mul(theta)
	default:
		return skew.Mul(theta / (2 * math.Sin(theta)))
	}
}

// Orthonormalize projects a 3x3 matrix onto the closest rotation matrix in the Frobenius norm.
func Orthonormalize(r mgl64.Mat3) mgl64.Mat3 {
	a := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, r.At(i, j))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return r
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	var out mgl64.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rot.At(i, j))
		}
	}
	return out
}

// EulerXYZ returns the extrinsic x-y-z Euler angles (roll, pitch, yaw) in radians of the pose's
// rotation, R = Rz(yaw)·Ry(pitch)·Rx(roll).
func EulerXYZ(p Pose) r3.Vector {
	r := p.Rotation()
	sinPitch := math.Max(-1, math.Min(1, -r.At(2, 0)))
	pitch := math.Asin(sinPitch)
	if math.Abs(sinPitch) > 1-1e-9 {
		// gimbal lock: roll and yaw share an axis, put everything in yaw.
		return r3.Vector{X: 0, Y: pitch, Z: math.Atan2(-r.At(0, 1), r.At(1, 1))}
	}
	return r3.Vector{
		X: math.Atan2(r.At(2, 1), r.At(2, 2)),
		Y: pitch,
		Z: math.Atan2(r.At(1, 0), r.At(0, 0)),
	}
}

// EulerXYZDegrees is EulerXYZ in degrees.
func EulerXYZDegrees(p Pose) r3.Vector {
	return EulerXYZ(p).Mul(radToDeg)
}
