package odometry

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthodom/pointcloud"
	"go.viam.com/depthodom/rimage"
	"go.viam.com/depthodom/rimage/transform"
	"go.viam.com/depthodom/spatialmath"
)

// fakeRegistrar hands out scripted registration results and records the clouds it was given.
type fakeRegistrar struct {
	transforms []spatialmath.Pose
	errs       []error
	prepareErr error

	clock   *clock.Mock
	advance time.Duration

	sources []pointcloud.PointCloud
	targets []pointcloud.PointCloud
}

func (f *fakeRegistrar) Prepare(cloud pointcloud.PointCloud) (pointcloud.PointCloud, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return cloud, nil
}

func (f *fakeRegistrar) Register(source, target pointcloud.PointCloud, guess spatialmath.Pose) (pointcloud.ICPResult, error) {
	i := len(f.sources)
	f.sources = append(f.sources, source)
	f.targets = append(f.targets, target)
	if f.clock != nil {
		f.clock.Add(f.advance * time.Duration(i+1))
	}
	res := pointcloud.ICPResult{Transform: spatialmath.NewZeroPose(), Fitness: 1, Converged: true}
	if i < len(f.transforms) {
		res.Transform = f.transforms[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		res.Converged = false
	}
	return res, err
}

// markerCloud returns a tiny cloud whose single point identifies it in assertions.
func markerCloud(t *testing.T, id float64) pointcloud.PointCloud {
	t.Helper()
	pc := pointcloud.New()
	test.That(t, pc.Set(r3.Vector{X: id, Y: 0, Z: 1}, nil), test.ShouldBeNil)
	return pc
}

func cloudMarker(pc pointcloud.PointCloud) float64 {
	var id float64
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		id = p.X
		return false
	})
	return id
}

func degrees(d float64) float64 {
	return d * math.Pi / 180
}

// motion builds a pose from a translation and a rotation about axis by deg degrees.
func motion(translation r3.Vector, axis r3.Vector, deg float64) spatialmath.Pose {
	return spatialmath.NewPoseFromAxisAngle(translation, axis.Normalize().Mul(degrees(deg)))
}

func testIntrinsics(t *testing.T) *transform.PinholeCameraIntrinsics {
	t.Helper()
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width:  64,
		Height: 48,
		Fx:     50,
		Fy:     50,
		Ppx:    32,
		Ppy:    16,
	}
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)
	return intrinsics
}

// roomCornerDepth renders the depth a camera at the origin looking down +z sees of a side wall
// at x=-1, a floor at y=1 and a back wall at z=3.
func roomCornerDepth(t *testing.T, intrinsics *transform.PinholeCameraIntrinsics) *rimage.DepthMap {
	t.Helper()
	samples := make([]float64, 0, intrinsics.Width*intrinsics.Height)
	for v := 0; v < intrinsics.Height; v++ {
		for u := 0; u < intrinsics.Width; u++ {
			dx := (float64(u) - intrinsics.Ppx) / intrinsics.Fx
			dy := (float64(v) - intrinsics.Ppy) / intrinsics.Fy
			z := 3.0
			if dx < 0 {
				z = math.Min(z, -1/dx)
			}
			if dy > 0 {
				z = math.Min(z, 1/dy)
			}
			samples = append(samples, z)
		}
	}
	dm, err := rimage.NewDepthMapFromSlice(intrinsics.Width, intrinsics.Height, samples, rimage.EncodingFloat)
	test.That(t, err, test.ShouldBeNil)
	return dm
}
