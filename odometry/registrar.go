package odometry

import (
	"go.viam.com/depthodom/pointcloud"
	"go.viam.com/depthodom/spatialmath"
)

// Registrar aligns consecutive clouds. Prepare runs once per cloud, before the cloud is used as
// either side of a registration.
type Registrar interface {
	Prepare(cloud pointcloud.PointCloud) (pointcloud.PointCloud, error)
	Register(source, target pointcloud.PointCloud, guess spatialmath.Pose) (pointcloud.ICPResult, error)
}

// ICPRegistrar is the point-to-plane ICP Registrar.
type ICPRegistrar struct {
	cfg pointcloud.ICPConfig
}

// NewICPRegistrar returns a Registrar running RegisterPointToPlaneICP with cfg.
func NewICPRegistrar(cfg pointcloud.ICPConfig) *ICPRegistrar {
	return &ICPRegistrar{cfg: cfg}
}

// Prepare estimates surface normals and indexes the cloud.
func (r *ICPRegistrar) Prepare(cloud pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	return pointcloud.EstimateNormals(cloud, r.cfg.NormalRadius, r.cfg.NormalMaxNN)
}

// Register aligns source into target's frame.
func (r *ICPRegistrar) Register(source, target pointcloud.PointCloud, guess spatialmath.Pose) (pointcloud.ICPResult, error) {
	return pointcloud.RegisterPointToPlaneICP(source, pointcloud.ToKDTree(target), guess, r.cfg)
}
