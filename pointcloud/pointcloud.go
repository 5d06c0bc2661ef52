// Package pointcloud defines a point cloud and the operations the depth odometry needs on it:
// voxel downsampling, nearest neighbour search, surface normal estimation and point-to-plane
// registration.
//
// Clouds are unordered sets of points in a single reference frame. The basic implementation
// keeps insertion order so that every operation here is deterministic for a fixed input.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/depthodom/spatialmath"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	// HasNormals is true only when every point carries a surface normal.
	HasNormals bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
	count                  int
	withNormal             int
}

// PointCloud is a general purpose container of points.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud. Setting an existing position replaces its data.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	meta.count++
	if data != nil && data.HasNormal() {
		meta.withNormal++
	}
	meta.HasNormals = meta.withNormal == meta.count

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
}

// Center returns the center of the points.
func (meta *MetaData) Center() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	return r3.Vector{
		X: meta.totalX / float64(meta.count),
		Y: meta.totalY / float64(meta.count),
		Z: meta.totalZ / float64(meta.count),
	}
}

// CloudToPoints returns the positions and data of a cloud in iteration order.
func CloudToPoints(pc PointCloud) ([]r3.Vector, []Data) {
	points := make([]r3.Vector, 0, pc.Size())
	data := make([]Data, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		points = append(points, p)
		data = append(data, d)
		return true
	})
	return points, data
}

// ApplyPose returns a new cloud with every point (and normal) transformed by the pose.
func ApplyPose(pc PointCloud, pose spatialmath.Pose) (PointCloud, error) {
	out := NewWithPrealloc(pc.Size())
	var err error
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		var nd Data
		if d != nil && d.HasNormal() {
			nd = NewNormalData(pose.Rotate(d.Normal()))
		}
		err = out.Set(pose.Transform(p), nd)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
