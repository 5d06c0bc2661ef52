package posegraph

import (
	"errors"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/spatialmath"
)

func TestLMTwoNodeChain(t *testing.T) {
	relative := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 0.2}, r3.Vector{Z: 0.3})
	graph := FactorGraph{
		NewPriorFactor(0, spatialmath.NewZeroPose(), mustNoise(t, priorSigmas)),
		NewBetweenFactor(0, 1, relative, mustNoise(t, odometrySigmas)),
	}
	initial := Values{0: perturb(spatialmath.NewZeroPose(), 0), 1: perturb(relative, 1)}
	initialCopy := initial.Clone()

	solved, result, err := LevenbergMarquardt(graph, initial, DefaultLMParams())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Converged, test.ShouldBeTrue)
	test.That(t, result.FinalError, test.ShouldBeLessThan, result.InitialError)
	test.That(t, result.FinalError, test.ShouldBeLessThan, 1e-8)
	test.That(t, spatialmath.PoseAlmostEqual(solved[0], spatialmath.NewZeroPose(), 1e-5), test.ShouldBeTrue)
	between := spatialmath.PoseBetween(solved[0], solved[1])
	test.That(t, spatialmath.PoseAlmostEqual(between, relative, 1e-5), test.ShouldBeTrue)

	// the input estimate is untouched
	test.That(t, initial[1], test.ShouldEqual, initialCopy[1])
}

func TestLMAlreadyOptimal(t *testing.T) {
	graph := FactorGraph{NewPriorFactor(0, spatialmath.NewZeroPose(), mustNoise(t, priorSigmas))}
	solved, result, err := LevenbergMarquardt(graph, Values{0: spatialmath.NewZeroPose()}, DefaultLMParams())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Converged, test.ShouldBeTrue)
	test.That(t, result.FinalError, test.ShouldBeLessThan, 1e-20)
	test.That(t, spatialmath.PoseAlmostEqual(solved[0], spatialmath.NewZeroPose(), 1e-12), test.ShouldBeTrue)
}

func TestLMUnanchored(t *testing.T) {
	noise := mustNoise(t, odometrySigmas)
	step := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	initial := Values{0: spatialmath.NewZeroPose(), 1: step}

	_, _, err := LevenbergMarquardt(FactorGraph{NewBetweenFactor(0, 1, step, noise)}, initial, DefaultLMParams())
	test.That(t, errors.Is(err, ErrUnanchored), test.ShouldBeTrue)

	// a second chain without its own prior
	graph := FactorGraph{
		NewPriorFactor(0, spatialmath.NewZeroPose(), noise),
		NewBetweenFactor(0, 1, step, noise),
		NewBetweenFactor(2, 3, step, noise),
	}
	initial[2], initial[3] = step, step
	_, _, err = LevenbergMarquardt(graph, initial, DefaultLMParams())
	test.That(t, errors.Is(err, ErrUnanchored), test.ShouldBeTrue)

	// an estimate no factor touches
	_, _, err = LevenbergMarquardt(graph[:2], Values{0: step, 1: step, 9: step}, DefaultLMParams())
	test.That(t, errors.Is(err, ErrUnanchored), test.ShouldBeTrue)

	_, _, err = LevenbergMarquardt(graph[:2], Values{0: step}, DefaultLMParams())
	test.That(t, errors.Is(err, ErrKeyMissing), test.ShouldBeTrue)
}

// loopGraph builds odometry around a square with a loop closure, plus optionally a wrong
// measurement between two far apart keys.
func loopGraph(t *testing.T, n int, outlier bool) (FactorGraph, Values, []spatialmath.Pose) {
	truth := squareTrajectory(n)
	graph := FactorGraph{NewPriorFactor(0, truth[0], mustNoise(t, priorSigmas))}
	noise := mustNoise(t, odometrySigmas)
	initial := Values{0: truth[0]}
	for i := 1; i < n; i++ {
		graph = append(graph, NewBetweenFactor(i-1, i, spatialmath.PoseBetween(truth[i-1], truth[i]), noise))
		initial[i] = perturb(truth[i], i)
	}
	graph = append(graph, NewBetweenFactor(n-1, 0, spatialmath.PoseBetween(truth[n-1], truth[0]), noise))
	if outlier {
		wrong := spatialmath.Compose(
			spatialmath.PoseBetween(truth[0], truth[n/2]),
			spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1.5, Y: -1}, r3.Vector{Z: 0.5}),
		)
		graph = append(graph, NewBetweenFactor(0, n/2, wrong, noise))
	}
	return graph, initial, truth
}

func maxTranslationError(solved Values, truth []spatialmath.Pose) float64 {
	var worst float64
	for i, p := range truth {
		if d := solved[i].Point().Sub(p.Point()).Norm(); d > worst {
			worst = d
		}
	}
	return worst
}

func TestLMLoopClosure(t *testing.T) {
	graph, initial, truth := loopGraph(t, 8, false)
	solved, result, err := LevenbergMarquardt(graph, initial, DefaultLMParams())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Converged, test.ShouldBeTrue)
	test.That(t, maxTranslationError(solved, truth), test.ShouldBeLessThan, 1e-3)
}

func TestLMRobustKernel(t *testing.T) {
	graph, initial, truth := loopGraph(t, 8, true)

	plain, err := OptimizePoseGraphLM(graph, initial, false, false, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	robust, err := OptimizePoseGraphLM(graph, initial, false, true, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	plainError := maxTranslationError(plain, truth)
	robustError := maxTranslationError(robust, truth)
	test.That(t, robustError, test.ShouldBeLessThan, plainError)
	test.That(t, robustError, test.ShouldBeLessThan, 0.05)
}

func TestAddRobustKernel(t *testing.T) {
	graph, _, _ := loopGraph(t, 4, false)
	original := graph.Clone()

	robust := AddRobustKernel(graph, Huber{K: 2})
	test.That(t, robust, test.ShouldHaveLength, len(graph))
	for i, f := range robust {
		test.That(t, f.Kind, test.ShouldEqual, graph[i].Kind)
		test.That(t, f.Measurement, test.ShouldEqual, graph[i].Measurement)
		test.That(t, f.Noise.Sigmas, test.ShouldResemble, graph[i].Noise.Sigmas)
		if f.Kind == FactorBetween {
			test.That(t, f.Noise.Kernel, test.ShouldResemble, Huber{K: 2})
		} else {
			test.That(t, f.Noise.Kernel, test.ShouldBeNil)
		}
	}
	// the input graph keeps its plain noise models
	test.That(t, graph, test.ShouldResemble, original)
	for _, f := range graph {
		test.That(t, f.Noise.IsRobust(), test.ShouldBeFalse)
	}

	test.That(t, AddRobustKernel(graph, nil)[1].Noise.Kernel, test.ShouldResemble, DefaultCauchy)
}

func TestOptimizeVerboseLogs(t *testing.T) {
	graph, initial, _ := loopGraph(t, 4, false)
	logger, logs := logging.NewObservedTestLogger(t)
	_, err := OptimizePoseGraphLM(graph, initial, true, false, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("levenberg-marquardt").Len(), test.ShouldBeGreaterThan, 0)
}
