package pointcloud

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func bruteForceNeighbors(points []r3.Vector, q r3.Vector) []NeighborResult {
	out := make([]NeighborResult, 0, len(points))
	for i, p := range points {
		out = append(out, NeighborResult{Index: i, P: p, Distance: p.Sub(q).Norm()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].Index < out[j].Index
		}
		return out[i].Distance < out[j].Distance
	})
	return out
}

func TestKDTreeQueries(t *testing.T) {
	pc := randomCloud(t, 2000, 11)
	kd := ToKDTree(pc)
	test.That(t, kd.Size(), test.ShouldEqual, pc.Size())
	test.That(t, ToKDTree(kd), test.ShouldEqual, kd)

	points, _ := CloudToPoints(pc)
	//nolint:gosec
	rnd := rand.New(rand.NewSource(5))
	for i := 0; i < 50; i++ {
		q := r3.Vector{X: rnd.Float64()*4 - 2, Y: rnd.Float64()*4 - 2, Z: rnd.Float64() * 6}
		expected := bruteForceNeighbors(points, q)

		nn, ok := kd.NearestNeighbor(q)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, nn.Distance, test.ShouldAlmostEqual, expected[0].Distance)
		p, _ := kd.PointAt(nn.Index)
		test.That(t, p, test.ShouldResemble, nn.P)

		knn := kd.KNearestNeighbors(q, 10)
		test.That(t, knn, test.ShouldHaveLength, 10)
		for j := range knn {
			test.That(t, knn[j].Distance, test.ShouldAlmostEqual, expected[j].Distance)
		}

		radius := 0.4
		inRadius := 0
		for _, e := range expected {
			if e.Distance <= radius {
				inRadius++
			}
		}
		all := kd.RadiusNearestNeighbors(q, radius, 0)
		test.That(t, all, test.ShouldHaveLength, inRadius)
		capped := kd.RadiusNearestNeighbors(q, radius, 5)
		test.That(t, len(capped), test.ShouldBeLessThanOrEqualTo, 5)
		for j := range capped {
			test.That(t, capped[j].Distance, test.ShouldBeLessThanOrEqualTo, radius)
			test.That(t, capped[j].Distance, test.ShouldAlmostEqual, expected[j].Distance)
		}
	}
}

func TestKDTreeEmpty(t *testing.T) {
	kd := ToKDTree(New())
	_, ok := kd.NearestNeighbor(r3.Vector{})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, kd.KNearestNeighbors(r3.Vector{}, 3), test.ShouldBeEmpty)
	test.That(t, kd.RadiusNearestNeighbors(r3.Vector{}, 1, 0), test.ShouldBeEmpty)
	test.That(t, kd.Set(r3.Vector{}, nil), test.ShouldNotBeNil)
}
