package pointcloud

import (
	"github.com/golang/geo/r3"
)

// PointAndData is a tiny struct to facilitate returning nearest neighbors in a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}

// storage is a place to store points. This is separate from the PointCloud so the same
// container can back several cloud flavours.
type storage interface {
	Size() int
	Set(p r3.Vector, d Data) error
	At(x, y, z float64) (Data, bool)
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
	Points() []PointAndData
}

// matrixStorage keeps points in insertion order with a position index for At and replacement.
type matrixStorage struct {
	points   []PointAndData
	indexMap map[r3.Vector]uint
}

func (ms *matrixStorage) Size() int {
	return len(ms.points)
}

func (ms *matrixStorage) Set(p r3.Vector, d Data) error {
	if idx, ok := ms.indexMap[p]; ok {
		ms.points[idx].D = d
	} else {
		ms.points = append(ms.points, PointAndData{p, d})
		ms.indexMap[p] = uint(len(ms.points) - 1)
	}
	return nil
}

func (ms *matrixStorage) At(x, y, z float64) (Data, bool) {
	idx, ok := ms.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return ms.points[idx].D, true
}

func (ms *matrixStorage) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	if numBatches <= 0 {
		for _, pd := range ms.points {
			if !fn(pd.P, pd.D) {
				return
			}
		}
		return
	}
	lowerBound, upperBound := batchBounds(len(ms.points), numBatches, myBatch)
	for i := lowerBound; i < upperBound; i++ {
		if !fn(ms.points[i].P, ms.points[i].D) {
			return
		}
	}
}

func (ms *matrixStorage) Points() []PointAndData {
	return ms.points
}

// batchBounds returns the half-open index range of batch myBatch when size items are split
// into numBatches contiguous batches.
func batchBounds(size, numBatches, myBatch int) (int, int) {
	batchSize := (size + numBatches - 1) / numBatches
	lowerBound := myBatch * batchSize
	upperBound := lowerBound + batchSize
	if lowerBound > size {
		lowerBound = size
	}
	if upperBound > size {
		upperBound = size
	}
	return lowerBound, upperBound
}
