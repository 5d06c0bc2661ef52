package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestExpLogSO3(t *testing.T) {
	for _, w := range []r3.Vector{
		{},
		{1e-12, 0, 0},
		{0.1, -0.2, 0.3},
		{0, 0, 3},
		{0, math.Pi - 1e-8, 0},
		{math.Pi / math.Sqrt(2), math.Pi / math.Sqrt(2), 0},
	} {
		got := LogSO3(ExpSO3(w))
		if w.Norm() > math.Pi-1e-6 {
			// the sign of the axis is ambiguous at pi
			test.That(t, got.Norm(), test.ShouldAlmostEqual, w.Norm(), 1e-6)
			test.That(t, math.Abs(got.Normalize().Dot(w.Normalize())), test.ShouldAlmostEqual, 1, 1e-6)
			continue
		}
		test.That(t, got.X, test.ShouldAlmostEqual, w.X, 1e-9)
		test.That(t, got.Y, test.ShouldAlmostEqual, w.Y, 1e-9)
		test.That(t, got.Z, test.ShouldAlmostEqual, w.Z, 1e-9)
	}
}

func TestEulerXYZ(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{}, r3.Vector{0, 0, 10 * math.Pi / 180})
	euler := EulerXYZDegrees(p)
	test.That(t, euler.X, test.ShouldAlmostEqual, 0)
	test.That(t, euler.Y, test.ShouldAlmostEqual, 0)
	test.That(t, euler.Z, test.ShouldAlmostEqual, 10)

	roll, pitch, yaw := 0.1, -0.2, 0.3
	rx := NewPoseFromAxisAngle(r3.Vector{}, r3.Vector{roll, 0, 0})
	ry := NewPoseFromAxisAngle(r3.Vector{}, r3.Vector{0, pitch, 0})
	rz := NewPoseFromAxisAngle(r3.Vector{}, r3.Vector{0, 0, yaw})
	got := EulerXYZ(Compose(rz, Compose(ry, rx)))
	test.That(t, got.X, test.ShouldAlmostEqual, roll)
	test.That(t, got.Y, test.ShouldAlmostEqual, pitch)
	test.That(t, got.Z, test.ShouldAlmostEqual, yaw)
}

func TestRetractLocal(t *testing.T) {
	a := NewPoseFromAxisAngle(r3.Vector{1, -2, 0.5}, r3.Vector{0.3, 0.1, -0.2})
	xi := Tangent{0.01, -0.02, 0.03, 0.1, 0.2, -0.3}
	b := Retract(a, xi)
	back := Local(a, b)
	for i := range xi {
		test.That(t, back[i], test.ShouldAlmostEqual, xi[i], 1e-12)
	}
	test.That(t, PoseAlmostEqual(Retract(a, Tangent{}), a, 1e-12), test.ShouldBeTrue)
}
