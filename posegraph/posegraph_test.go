package posegraph

import (
	"errors"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/spatialmath"
)

func TestPoseGraphStore(t *testing.T) {
	pg := NewPoseGraph(DefaultISAMParams(), logging.NewTestLogger(t))
	poseA := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 2}, r3.Vector{Z: 0.4})
	poseB := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 2, Y: 2.5}, r3.Vector{Z: 0.6, X: 0.1})

	test.That(t, pg.AddPriorFactor(0, poseA, priorSigmas), test.ShouldBeNil)
	test.That(t, pg.AddOdometryFactor(0, poseA, 1, poseB, odometrySigmas), test.ShouldBeNil)
	test.That(t, pg.AddPriorFactor(0, poseA, Sigmas{}), test.ShouldNotBeNil)
	test.That(t, pg.AddOdometryFactor(1, poseA, 1, poseB, odometrySigmas), test.ShouldNotBeNil)

	factors := pg.FactorGraph()
	test.That(t, factors, test.ShouldHaveLength, 2)
	test.That(t, factors[0].Kind, test.ShouldEqual, FactorPrior)
	test.That(t, factors[1].Kind, test.ShouldEqual, FactorBetween)
	test.That(t, factors[1].Keys(), test.ShouldResemble, []int{0, 1})
	// the between factor stores A⁻¹·B
	test.That(t, spatialmath.PoseAlmostEqual(spatialmath.Compose(poseA, factors[1].Measurement), poseB, 1e-12), test.ShouldBeTrue)

	// upsert replaces the pending guess
	pg.AddInitEstimate(1, poseA)
	pg.AddInitEstimate(1, poseB)
	pg.AddInitEstimate(0, poseA)
	test.That(t, pg.InitialEstimate(), test.ShouldHaveLength, 2)
	test.That(t, pg.InitialEstimate()[1], test.ShouldEqual, poseB)

	_, ok := pg.MarginalCovariance(0)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, pg.CurrentEstimate(), test.ShouldBeEmpty)

	estimate, err := pg.PerformOptimization()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate, test.ShouldHaveLength, 2)
	test.That(t, pg.FactorGraph(), test.ShouldBeEmpty)
	test.That(t, pg.InitialEstimate(), test.ShouldBeEmpty)
	test.That(t, pg.CurrentEstimate(), test.ShouldHaveLength, 2)
	test.That(t, pg.AllFactors(), test.ShouldHaveLength, 2)
	test.That(t, spatialmath.PoseAlmostEqual(estimate[1], poseB, 1e-6), test.ShouldBeTrue)

	cov, ok := pg.MarginalCovariance(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cov.SymmetricDim(), test.ShouldEqual, 6)
	_, ok = pg.MarginalCovariance(2)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestPoseGraphRejectedUpdateKeepsPending(t *testing.T) {
	pg := NewPoseGraph(DefaultISAMParams(), logging.NewTestLogger(t))
	step := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	test.That(t, pg.AddOdometryFactor(0, spatialmath.NewZeroPose(), 1, step, odometrySigmas), test.ShouldBeNil)
	pg.AddInitEstimate(0, spatialmath.NewZeroPose())
	pg.AddInitEstimate(1, step)

	_, err := pg.PerformOptimization()
	test.That(t, errors.Is(err, ErrUnanchored), test.ShouldBeTrue)
	test.That(t, pg.FactorGraph(), test.ShouldHaveLength, 1)
	test.That(t, pg.InitialEstimate(), test.ShouldHaveLength, 2)

	test.That(t, pg.AddPriorFactor(0, spatialmath.NewZeroPose(), priorSigmas), test.ShouldBeNil)
	_, err = pg.PerformOptimization()
	test.That(t, err, test.ShouldBeNil)

	pg.AddInitEstimate(5, step)
	pg.ClearPending()
	test.That(t, pg.InitialEstimate(), test.ShouldBeEmpty)
}

func TestPoseGraphReinsertedEstimate(t *testing.T) {
	pg := NewPoseGraph(DefaultISAMParams(), logging.NewTestLogger(t))
	step := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	test.That(t, pg.AddPriorFactor(0, spatialmath.NewZeroPose(), priorSigmas), test.ShouldBeNil)
	test.That(t, pg.AddOdometryFactor(0, spatialmath.NewZeroPose(), 1, step, odometrySigmas), test.ShouldBeNil)
	pg.AddInitEstimate(0, spatialmath.NewZeroPose())
	pg.AddInitEstimate(1, step)
	_, err := pg.PerformOptimization()
	test.That(t, err, test.ShouldBeNil)

	// a new guess for a solved key is accepted and solved back onto its constraints
	pg.AddInitEstimate(1, spatialmath.NewPoseFromPoint(r3.Vector{X: 3, Y: -1}))
	estimate, err := pg.PerformOptimization()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimate, test.ShouldHaveLength, 2)
	test.That(t, spatialmath.PoseAlmostEqual(estimate[1], step, 1e-6), test.ShouldBeTrue)
	test.That(t, pg.AllFactors(), test.ShouldHaveLength, 2)
}
