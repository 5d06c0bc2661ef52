package pointcloud

import (
	"runtime"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// minNormalNeighbors is the smallest neighbourhood that defines a plane.
const minNormalNeighbors = 3

// EstimateNormals fits a plane to the neighbourhood of every point (at most maxNN neighbours
// within radius) and returns an indexed copy of the cloud whose points carry the plane normals,
// oriented towards the sensor origin. Points whose neighbourhood is too small to define a plane
// are kept without a normal.
func EstimateNormals(pc PointCloud, radius float64, maxNN int) (*KDTree, error) {
	if radius <= 0 {
		return nil, errors.Errorf("normal estimation radius must be positive, got %v", radius)
	}
	if maxNN != 0 && maxNN < minNormalNeighbors {
		return nil, errors.Errorf("normal estimation needs at least %d neighbors, got %d", minNormalNeighbors, maxNN)
	}
	points, _ := CloudToPoints(pc)
	kd := newKDTree(pc, points, make([]Data, len(points)))

	normals := make([]Data, len(points))
	numBatches := runtime.GOMAXPROCS(0)
	var group errgroup.Group
	for batch := 0; batch < numBatches; batch++ {
		lower, upper := batchBounds(len(points), numBatches, batch)
		group.Go(func() error {
			for i := lower; i < upper; i++ {
				neighbors := kd.RadiusNearestNeighbors(points[i], radius, maxNN)
				n, ok := planeNormal(neighbors)
				if !ok {
					normals[i] = NewBasicData()
					continue
				}
				if n.Dot(points[i]) > 0 {
					n = n.Mul(-1)
				}
				normals[i] = NewNormalData(n)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	withNormals := NewWithPrealloc(len(points))
	for i, p := range points {
		if err := withNormals.Set(p, normals[i]); err != nil {
			return nil, err
		}
	}
	kd.PointCloud = withNormals
	kd.data = normals
	return kd, nil
}

// planeNormal returns the eigenvector of the smallest eigenvalue of the neighbourhood
// covariance.
func planeNormal(neighbors []NeighborResult) (r3.Vector, bool) {
	if len(neighbors) < minNormalNeighbors {
		return r3.Vector{}, false
	}
	var mean r3.Vector
	for _, nb := range neighbors {
		mean = mean.Add(nb.P)
	}
	mean = mean.Mul(1 / float64(len(neighbors)))

	cov := mat.NewSymDense(3, nil)
	for _, nb := range neighbors {
		d := nb.P.Sub(mean)
		v := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+v[i]*v[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return r3.Vector{}, false
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	// a neighbourhood with all points coincident or collinear has no plane.
	if values[1] <= 1e-12*values[2] {
		return r3.Vector{}, false
	}
	n := r3.Vector{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)}
	return n.Normalize(), true
}
