package transform

import (
	"github.com/pkg/errors"

	"go.viam.com/depthodom/pointcloud"
	"go.viam.com/depthodom/rimage"
)

// MinValidDepth is the smallest depth treated as a measurement.
const MinValidDepth = 1e-6

// DepthMapToPointCloud back projects every measured pixel of the depth map into the camera
// frame: x right, y down, z along the optical axis. Pixels without a measurement are dropped,
// so the cloud holds at most width*height points, in row major pixel order.
func (params *PinholeCameraIntrinsics) DepthMapToPointCloud(dm *rimage.DepthMap) (pointcloud.PointCloud, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	if dm == nil || dm.Width() == 0 || dm.Height() == 0 {
		return nil, rimage.ErrEmptyDepthMap
	}
	if dm.Width() != params.Width || dm.Height() != params.Height {
		return nil, errors.Errorf("depth map and intrinsics sizes don't match DepthMap(%d,%d) != Intrinsics(%d,%d)",
			dm.Width(), dm.Height(), params.Width, params.Height)
	}

	pc := pointcloud.NewWithPrealloc(dm.ValidCount())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if !(z > MinValidDepth) {
				continue
			}
			px, py, pz := params.PixelToPoint(float64(x), float64(y), z)
			if err := pc.Set(pointcloud.NewVector(px, py, pz), nil); err != nil {
				return nil, errors.Wrapf(err, "pixel (%d, %d)", x, y)
			}
		}
	}
	return pc, nil
}
