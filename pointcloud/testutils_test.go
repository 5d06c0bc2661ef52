package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

// makeRoomCorner samples three orthogonal walls in front of a camera looking down +z: a side
// wall at x=-1, a floor at y=1 and a back wall at z=3.
func makeRoomCorner(t *testing.T, spacing float64) PointCloud {
	t.Helper()
	pc := New()
	steps := int(2/spacing + 0.5)
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			u := -1 + float64(i)*spacing
			v := float64(j) * spacing
			test.That(t, pc.Set(r3.Vector{X: -1, Y: u, Z: 1 + v}, nil), test.ShouldBeNil)
			test.That(t, pc.Set(r3.Vector{X: u, Y: 1, Z: 1 + v}, nil), test.ShouldBeNil)
			test.That(t, pc.Set(r3.Vector{X: u, Y: -1 + v, Z: 3}, nil), test.ShouldBeNil)
		}
	}
	return pc
}
