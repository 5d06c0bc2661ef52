package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates returns the voxel containing pt on a grid of the given edge length whose
// origin is the world origin.
func GetVoxelCoordinates(pt r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(pt.X / voxelSize)),
		J: int64(math.Floor(pt.Y / voxelSize)),
		K: int64(math.Floor(pt.Z / voxelSize)),
	}
}

type voxelAccumulator struct {
	sum   r3.Vector
	count int
}

// VoxelDownsample keeps one point per occupied voxel of edge voxelSize: the centroid of the
// points that fell into it. Voxels are emitted in the order they were first seen, so the result
// is deterministic for a fixed input order. Because the grid is anchored at the world origin and a
// centroid never leaves its voxel, downsampling an already downsampled cloud with the same size
// is a no-op. Normals are not carried over.
func VoxelDownsample(pc PointCloud, voxelSize float64) (PointCloud, error) {
	if !(voxelSize > 0) || math.IsInf(voxelSize, 0) {
		return nil, errors.Errorf("voxel size must be positive and finite, got %v", voxelSize)
	}
	order := make([]VoxelCoords, 0)
	voxels := make(map[VoxelCoords]*voxelAccumulator)
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(p, voxelSize)
		acc, ok := voxels[coords]
		if !ok {
			acc = &voxelAccumulator{}
			voxels[coords] = acc
			order = append(order, coords)
		}
		acc.sum = acc.sum.Add(p)
		acc.count++
		return true
	})

	out := NewWithPrealloc(len(order))
	for _, coords := range order {
		acc := voxels[coords]
		centroid := acc.sum.Mul(1 / float64(acc.count))
		if acc.count == 1 {
			// avoid any rounding on singletons.
			centroid = acc.sum
		}
		if err := out.Set(centroid, NewBasicData()); err != nil {
			return nil, err
		}
	}
	return out, nil
}
