// Package spatialmath defines the rigid transforms used to describe sensor motion and poses.
//
// A Pose is a 4x4 homogeneous transform. Every constructor and every composition projects the
// rotation block back onto SO(3) so that numerical drift never accumulates across long chains
// of relative motions.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform, either a relative motion between two frames or the
// absolute pose of a sensor in a fixed world frame.
type Pose interface {
	// Point returns the translation part of the transform.
	Point() r3.Vector
	// Rotation returns the orthonormal rotation block.
	Rotation() mgl64.Mat3
	// Quaternion returns the rotation as a unit quaternion.
	Quaternion() quat.Number
	// Matrix returns the full homogeneous matrix.
	Matrix() mgl64.Mat4
	// Transform applies the pose to a point.
	Transform(p r3.Vector) r3.Vector
	// Rotate applies only the rotation block to a vector.
	Rotate(v r3.Vector) r3.Vector
}

type matrixPose struct {
	m mgl64.Mat4
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return &matrixPose{m: mgl64.Ident4()}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return &matrixPose{m: mgl64.Translate3D(pt.X, pt.Y, pt.Z)}
}

// NewPose builds a pose from a translation and a (not necessarily normalized) quaternion.
func NewPose(pt r3.Vector, q quat.Number) Pose {
	n := quat.Abs(q)
	if n == 0 {
		return NewPoseFromPoint(pt)
	}
	q = quat.Scale(1/n, q)
	mq := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}
	return newPoseFromRotation(mq.Mat4().Mat3(), pt)
}

// NewPoseFromAxisAngle builds a pose from a translation and a rotation vector whose direction
// is the rotation axis and whose norm is the rotation angle in radians.
func NewPoseFromAxisAngle(pt, rotationVector r3.Vector) Pose {
	return newPoseFromRotation(ExpSO3(rotationVector), pt)
}

// NewPoseFromMatrix validates a homogeneous matrix and returns it as a pose. The rotation block
// is re-orthonormalized.
func NewPoseFromMatrix(m mgl64.Mat4) (Pose, error) {
	for i, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("matrix element %d is not finite: %v", i, v)
		}
	}
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return nil, errors.Errorf("last row of a homogeneous transform must be [0 0 0 1], got %v", m.Row(3))
	}
	rot := m.Mat3()
	if math.Abs(rot.Det()) < 1e-9 {
		return nil, errors.New("rotation block is singular")
	}
	return newPoseFromRotation(rot, r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}), nil
}

func newPoseFromRotation(rot mgl64.Mat3, pt r3.Vector) Pose {
	rot = Orthonormalize(rot)
	m := rot.Mat4()
	m.Set(0, 3, pt.X)
	m.Set(1, 3, pt.Y)
	m.Set(2, 3, pt.Z)
	return &matrixPose{m: m}
}

func (p *matrixPose) Point() r3.Vector {
	return r3.Vector{X: p.m.At(0, 3), Y: p.m.At(1, 3), Z: p.m.At(2, 3)}
}

func (p *matrixPose) Rotation() mgl64.Mat3 {
	return p.m.Mat3()
}

func (p *matrixPose) Quaternion() quat.Number {
	q := mgl64.Mat4ToQuat(p.m).Normalize()
	return quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
}

func (p *matrixPose) Matrix() mgl64.Mat4 {
	return p.m
}

func (p *matrixPose) Transform(pt r3.Vector) r3.Vector {
	v := p.m.Mul4x1(mgl64.Vec4{pt.X, pt.Y, pt.Z, 1})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

func (p *matrixPose) Rotate(v r3.Vector) r3.Vector {
	out := p.m.Mat3().Mul3x1(mgl64.Vec3{v.X, v.Y, v.Z})
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}

// Compose returns a·b, the transform that first applies b and then a.
func Compose(a, b Pose) Pose {
	m := a.Matrix().Mul4(b.Matrix())
	return newPoseFromRotation(m.Mat3(), r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)})
}

// PoseInverse returns the inverse transform.
func PoseInverse(p Pose) Pose {
	rt := p.Rotation().Transpose()
	t := p.Point()
	inv := rt.Mul3x1(mgl64.Vec3{t.X, t.Y, t.Z}).Mul(-1)
	return newPoseFromRotation(rt, r3.Vector{X: inv[0], Y: inv[1], Z: inv[2]})
}

// PoseBetween returns the relative transform a⁻¹·b, i.e. b expressed in a's frame.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// RotationAngle returns the magnitude of the pose's rotation in radians.
func RotationAngle(p Pose) float64 {
	return LogSO3(p.Rotation()).Norm()
}

// PoseAlmostEqual returns whether two poses differ by less than tol in translation (length
// units) and in rotation angle (radians).
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	delta := PoseBetween(a, b)
	return delta.Point().Norm() <= tol && RotationAngle(delta) <= tol
}
