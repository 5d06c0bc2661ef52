package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is a read only PointCloud with a k-d tree index for nearest neighbour queries.
// Queries are safe for concurrent use.
type KDTree struct {
	PointCloud
	tree   *kdtree.Tree
	points []r3.Vector
	data   []Data
}

// NeighborResult is one answer of a neighbourhood query.
type NeighborResult struct {
	Index    int
	P        r3.Vector
	D        Data
	Distance float64
}

// ToKDTree indexes the given cloud. If the cloud is already a KDTree it is returned as is.
func ToKDTree(pc PointCloud) *KDTree {
	if kd, ok := pc.(*KDTree); ok {
		return kd
	}
	points, data := CloudToPoints(pc)
	return newKDTree(pc, points, data)
}

func newKDTree(pc PointCloud, points []r3.Vector, data []Data) *KDTree {
	tps := make(treePoints, len(points))
	for i, p := range points {
		tps[i] = treePoint{p: p, idx: i}
	}
	return &KDTree{
		PointCloud: pc,
		tree:       kdtree.New(tps, false),
		points:     points,
		data:       data,
	}
}

// Set is not supported: the index would go stale.
func (kd *KDTree) Set(p r3.Vector, d Data) error {
	return errors.New("cannot set a point in a KDTree, rebuild it from a new cloud")
}

// PointAt returns the i-th point in iteration order along with its data.
func (kd *KDTree) PointAt(i int) (r3.Vector, Data) {
	return kd.points[i], kd.data[i]
}

// NearestNeighbor returns the closest point to p. The last return is false for an empty tree.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (NeighborResult, bool) {
	if len(kd.points) == 0 {
		return NeighborResult{}, false
	}
	c, d2 := kd.tree.Nearest(treePoint{p: p, idx: -1})
	if c == nil {
		return NeighborResult{}, false
	}
	tp := c.(treePoint)
	return NeighborResult{Index: tp.idx, P: tp.p, D: kd.data[tp.idx], Distance: math.Sqrt(d2)}, true
}

// KNearestNeighbors returns up to k points closest to p sorted by increasing distance.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int) []NeighborResult {
	if k <= 0 || len(kd.points) == 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keeper, treePoint{p: p, idx: -1})
	return kd.fromHeap(keeper.Heap, math.Inf(1))
}

// RadiusNearestNeighbors returns up to maxNN points within radius of p sorted by increasing
// distance. maxNN <= 0 means no cap.
func (kd *KDTree) RadiusNearestNeighbors(p r3.Vector, radius float64, maxNN int) []NeighborResult {
	if len(kd.points) == 0 {
		return nil
	}
	q := treePoint{p: p, idx: -1}
	if maxNN <= 0 {
		keeper := kdtree.NewDistKeeper(radius * radius)
		kd.tree.NearestSet(keeper, q)
		return kd.fromHeap(keeper.Heap, radius)
	}
	keeper := kdtree.NewNKeeper(maxNN)
	kd.tree.NearestSet(keeper, q)
	return kd.fromHeap(keeper.Heap, radius)
}

func (kd *KDTree) fromHeap(heap kdtree.Heap, radius float64) []NeighborResult {
	out := make([]NeighborResult, 0, len(heap))
	for _, cd := range heap {
		// keepers are seeded with a nil sentinel at infinite distance.
		if cd.Comparable == nil {
			continue
		}
		dist := math.Sqrt(cd.Dist)
		if dist > radius {
			continue
		}
		tp := cd.Comparable.(treePoint)
		out = append(out, NeighborResult{Index: tp.idx, P: tp.p, D: kd.data[tp.idx], Distance: dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].Index < out[j].Index
		}
		return out[i].Distance < out[j].Distance
	})
	return out
}

type treePoint struct {
	p   r3.Vector
	idx int
}

func coordinate(p r3.Vector, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func (tp treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return coordinate(tp.p, d) - coordinate(c.(treePoint).p, d)
}

func (tp treePoint) Dims() int {
	return 3
}

// Distance is the squared euclidean distance, as kdtree expects.
func (tp treePoint) Distance(c kdtree.Comparable) float64 {
	return tp.p.Sub(c.(treePoint).p).Norm2()
}

type treePoints []treePoint

func (tps treePoints) Index(i int) kdtree.Comparable {
	return tps[i]
}

func (tps treePoints) Len() int {
	return len(tps)
}

func (tps treePoints) Pivot(d kdtree.Dim) int {
	return treePlane{treePoints: tps, dim: d}.Pivot()
}

func (tps treePoints) Slice(start, end int) kdtree.Interface {
	return tps[start:end]
}

// treePlane sorts treePoints along one dimension, mirroring kdtree.Plane.
type treePlane struct {
	treePoints
	dim kdtree.Dim
}

func (p treePlane) Less(i, j int) bool {
	return coordinate(p.treePoints[i].p, p.dim) < coordinate(p.treePoints[j].p, p.dim)
}

func (p treePlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	return treePlane{treePoints: p.treePoints[start:end], dim: p.dim}
}

func (p treePlane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}
