package posegraph

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestNoiseModel(t *testing.T) {
	_, err := NewDiagonalNoiseModel(Sigmas{1, 1, 1, 1, 1, 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDiagonalNoiseModel(Sigmas{1, 1, 1, math.Inf(1), 1, 1})
	test.That(t, err, test.ShouldNotBeNil)

	n := mustNoise(t, Sigmas{0.5, 1, 2, 1, 1, 1})
	w := n.Whiten([6]float64{1, 1, 1, 0, 0, 3})
	test.That(t, w, test.ShouldResemble, [6]float64{2, 1, 0.5, 0, 0, 3})
	test.That(t, n.IsRobust(), test.ShouldBeFalse)

	weight, loss := n.weightAndLoss([6]float64{3, 4})
	test.That(t, weight, test.ShouldEqual, 1)
	test.That(t, loss, test.ShouldAlmostEqual, 12.5)

	robust := n.Robust(DefaultCauchy)
	test.That(t, robust.IsRobust(), test.ShouldBeTrue)
	test.That(t, n.IsRobust(), test.ShouldBeFalse)
	weight, loss = robust.weightAndLoss([6]float64{3, 4})
	test.That(t, weight, test.ShouldAlmostEqual, DefaultCauchy.Weight(5))
	test.That(t, loss, test.ShouldAlmostEqual, DefaultCauchy.Loss(5))
}

func TestKernels(t *testing.T) {
	c := Cauchy{K: 0.3}
	test.That(t, c.Weight(0), test.ShouldEqual, 1)
	test.That(t, c.Weight(0.3), test.ShouldAlmostEqual, 0.5)
	test.That(t, c.Loss(1e-4), test.ShouldAlmostEqual, 0.5e-8, 1e-14)
	test.That(t, c.Loss(10), test.ShouldBeLessThan, 0.5*10*10)

	h := Huber{K: 1.345}
	test.That(t, h.Weight(1), test.ShouldEqual, 1)
	test.That(t, h.Weight(-2.69), test.ShouldAlmostEqual, 0.5)
	test.That(t, h.Loss(1), test.ShouldAlmostEqual, 0.5)
	test.That(t, h.Loss(3), test.ShouldAlmostEqual, 1.345*3-1.345*1.345/2)

	for _, name := range []string{"cauchy", "huber"} {
		k, err := KernelFromName(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, k.Name(), test.ShouldEqual, name)
	}
	k, err := KernelFromName("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k, test.ShouldBeNil)
	_, err = KernelFromName("tukey")
	test.That(t, err, test.ShouldNotBeNil)
}
