package spatialmath

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestComposeIsMatrixProduct(t *testing.T) {
	a := NewPoseFromAxisAngle(r3.Vector{1, 2, 3}, r3.Vector{0, 0, math.Pi / 2})
	b := NewPoseFromAxisAngle(r3.Vector{1, 0, 0}, r3.Vector{0.3, 0, 0})

	ab := Compose(a, b)
	expected := a.Matrix().Mul4(b.Matrix())
	test.That(t, ab.Matrix().ApproxEqualThreshold(expected, 1e-12), test.ShouldBeTrue)

	// rotating (1,0,0) by 90 degrees about z gives (0,1,0)
	test.That(t, ab.Point().X, test.ShouldAlmostEqual, 1)
	test.That(t, ab.Point().Y, test.ShouldAlmostEqual, 3)
	test.That(t, ab.Point().Z, test.ShouldAlmostEqual, 3)

	ba := Compose(b, a)
	test.That(t, PoseAlmostEqual(ab, ba, 1e-6), test.ShouldBeFalse)
}

func TestPoseInverseAndBetween(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{0.5, -1, 2}, r3.Vector{0.1, -0.4, 0.7})
	test.That(t, PoseAlmostEqual(Compose(p, PoseInverse(p)), NewZeroPose(), 1e-12), test.ShouldBeTrue)

	q := NewPoseFromAxisAngle(r3.Vector{3, 1, 0}, r3.Vector{0, 0.2, 0})
	between := PoseBetween(p, q)
	test.That(t, PoseAlmostEqual(Compose(p, between), q, 1e-12), test.ShouldBeTrue)
}

func TestNewPoseFromMatrix(t *testing.T) {
	m := NewPoseFromAxisAngle(r3.Vector{1, 1, 1}, r3.Vector{0.2, 0.1, 0}).Matrix()
	// perturb the rotation block off SO(3)
	m.Set(0, 0, m.At(0, 0)+1e-3)
	p, err := NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldBeNil)
	rot := p.Rotation()
	test.That(t, rot.Det(), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, rot.Mul3(rot.Transpose()).ApproxEqualThreshold(mgl64.Ident3(), 1e-12), test.ShouldBeTrue)

	m.Set(3, 0, 1)
	_, err = NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldNotBeNil)

	bad := mgl64.Ident4()
	bad.Set(0, 3, math.NaN())
	_, err = NewPoseFromMatrix(bad)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not finite")
}

func TestQuaternionRoundTrip(t *testing.T) {
	half := math.Pi / 8
	q := quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
	p := NewPose(r3.Vector{1, 2, 3}, quat.Scale(3, q))
	got := p.Quaternion()
	test.That(t, quat.Abs(got), test.ShouldAlmostEqual, 1)
	test.That(t, got.Real, test.ShouldAlmostEqual, q.Real)
	test.That(t, got.Kmag, test.ShouldAlmostEqual, q.Kmag)
	test.That(t, RotationAngle(p), test.ShouldAlmostEqual, math.Pi/4)
}

func TestLongChainStaysOrthonormal(t *testing.T) {
	step := NewPoseFromAxisAngle(r3.Vector{0.01, 0, 0}, r3.Vector{0.001, 0.002, 0.003})
	p := NewZeroPose()
	for i := 0; i < 10000; i++ {
		p = Compose(p, step)
	}
	rot := p.Rotation()
	test.That(t, rot.Det(), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, rot.Mul3(rot.Transpose()).ApproxEqualThreshold(mgl64.Ident3(), 1e-10), test.ShouldBeTrue)
}
