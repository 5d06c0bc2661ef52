package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthodom/posegraph"
	"go.viam.com/depthodom/spatialmath"
)

// writeChains writes two between-factor chains, 0-1-2 and 5-6, with noisy initial estimates.
func writeChains(t *testing.T) string {
	t.Helper()
	noise, err := posegraph.NewDiagonalNoiseModel(posegraph.Sigmas{0.1, 0.1, 0.1, 0.1, 0.1, 0.1})
	test.That(t, err, test.ShouldBeNil)
	step := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	graph := posegraph.FactorGraph{
		posegraph.NewBetweenFactor(0, 1, step, noise),
		posegraph.NewBetweenFactor(1, 2, step, noise),
		posegraph.NewBetweenFactor(5, 6, step, noise),
	}
	values := posegraph.Values{
		0: spatialmath.NewZeroPose(),
		1: spatialmath.NewPoseFromPoint(r3.Vector{X: 1.2, Y: 0.1}),
		2: spatialmath.NewPoseFromPoint(r3.Vector{X: 1.9, Y: -0.1}),
		5: spatialmath.NewPoseFromPoint(r3.Vector{Y: 4}),
		6: spatialmath.NewPoseFromPoint(r3.Vector{X: 0.7, Y: 4}),
	}
	var buf bytes.Buffer
	test.That(t, posegraph.WriteG2O(&buf, graph, values), test.ShouldBeNil)
	fn := filepath.Join(t.TempDir(), "chains.g2o")
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)
	return fn
}

func TestComponents(t *testing.T) {
	fn := writeChains(t)
	var out, errOut bytes.Buffer
	err := newApp(&out, &errOut).Run([]string{"posegraph", "components", fn})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Split(strings.TrimSpace(out.String()), "\n"), test.ShouldResemble, []string{"0 1 2", "5 6"})
}

func TestSolve(t *testing.T) {
	fn := writeChains(t)
	for _, robust := range []bool{false, true} {
		output := filepath.Join(t.TempDir(), "solved.g2o")
		args := []string{"posegraph", "solve", "-o", output, fn}
		if robust {
			args = []string{"posegraph", "solve", "--robust", "--kernel", "huber", "-o", output, fn}
		}
		var out, errOut bytes.Buffer
		test.That(t, newApp(&out, &errOut).Run(args), test.ShouldBeNil)

		f, err := os.Open(output)
		test.That(t, err, test.ShouldBeNil)
		graph, values, err := posegraph.ReadG2O(f)
		test.That(t, f.Close(), test.ShouldBeNil)
		test.That(t, err, test.ShouldBeNil)

		// each chain is anchored at its first key and then follows its edges exactly
		test.That(t, graph.Priors(), test.ShouldResemble, map[int]struct{}{0: {}, 5: {}})
		test.That(t, spatialmath.PoseAlmostEqual(values[0], spatialmath.NewZeroPose(), 1e-4), test.ShouldBeTrue)
		test.That(t, spatialmath.PoseAlmostEqual(values[2], spatialmath.NewPoseFromPoint(r3.Vector{X: 2}), 1e-4), test.ShouldBeTrue)
		test.That(t, spatialmath.PoseAlmostEqual(values[6], spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 4}), 1e-4), test.ShouldBeTrue)
	}
}

func TestSolveErrors(t *testing.T) {
	fn := writeChains(t)
	var out, errOut bytes.Buffer

	err := newApp(&out, &errOut).Run([]string{"posegraph", "solve", "--no-anchor", fn})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, posegraph.ErrUnanchored.Error())

	err = newApp(&out, &errOut).Run([]string{"posegraph", "solve", "--robust", "--kernel", "tukey", fn})
	test.That(t, err, test.ShouldNotBeNil)

	err = newApp(&out, &errOut).Run([]string{"posegraph", "solve"})
	test.That(t, err, test.ShouldNotBeNil)

	err = newApp(&out, &errOut).Run([]string{"posegraph", "components", filepath.Join(t.TempDir(), "missing.g2o")})
	test.That(t, err, test.ShouldNotBeNil)
}
