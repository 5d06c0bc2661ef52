package pointcloud

import (
	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated single point within a PointCloud.
type Data interface {
	// HasNormal returns whether or not a surface normal was estimated for this point.
	HasNormal() bool

	// Normal returns the unit surface normal, if one exists.
	Normal() r3.Vector

	// SetNormal sets the given normal on the point.
	SetNormal(n r3.Vector) Data
}

type basicData struct {
	hasNormal bool
	normal    r3.Vector
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewNormalData returns a point that carries a surface normal.
func NewNormalData(n r3.Vector) Data {
	return &basicData{hasNormal: true, normal: n}
}

func (bd *basicData) HasNormal() bool {
	return bd.hasNormal
}

func (bd *basicData) Normal() r3.Vector {
	return bd.normal
}

func (bd *basicData) SetNormal(n r3.Vector) Data {
	bd.normal = n
	bd.hasNormal = true
	return bd
}
