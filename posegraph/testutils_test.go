package posegraph

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthodom/spatialmath"
)

var (
	priorSigmas    = Sigmas{1e-3, 1e-3, 1e-3, 1e-3, 1e-3, 1e-3}
	odometrySigmas = Sigmas{0.05, 0.05, 0.05, 0.1, 0.1, 0.1}
)

func mustNoise(t *testing.T, s Sigmas) NoiseModel {
	t.Helper()
	n, err := NewDiagonalNoiseModel(s)
	test.That(t, err, test.ShouldBeNil)
	return n
}

// squareTrajectory returns n poses walking around a 2x2 square, turning 90 degrees at each
// corner so that the last pose returns next to the first.
func squareTrajectory(n int) []spatialmath.Pose {
	step := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 2}, r3.Vector{Z: 2 * math.Pi / float64(n)})
	poses := []spatialmath.Pose{spatialmath.NewZeroPose()}
	for i := 1; i < n; i++ {
		poses = append(poses, spatialmath.Compose(poses[i-1], step))
	}
	return poses
}

// perturb nudges a pose by a fixed, key dependent amount.
func perturb(p spatialmath.Pose, key int) spatialmath.Pose {
	s := 0.02 * float64(key%3+1)
	return spatialmath.Retract(p, spatialmath.Tangent{s, -s, s / 2, s, s, -s})
}

func assertPosesClose(t *testing.T, got, want Values, tol float64) {
	t.Helper()
	test.That(t, got.Keys(), test.ShouldResemble, want.Keys())
	for k, p := range want {
		delta := spatialmath.PoseBetween(p, got[k])
		test.That(t, delta.Point().Norm(), test.ShouldBeLessThan, tol)
		test.That(t, spatialmath.RotationAngle(delta), test.ShouldBeLessThan, tol)
	}
}
