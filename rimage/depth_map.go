// Package rimage holds the depth frames consumed by the odometry pipeline.
package rimage

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"
)

// ErrEmptyDepthMap is returned when a depth frame has no pixels or its data does not match its size.
var ErrEmptyDepthMap = errors.New("depth map is empty or malformed")

// DepthEncoding describes how raw sensor values map to depths in meters.
type DepthEncoding int

// The encodings a depth camera driver publishes.
const (
	EncodingFloat DepthEncoding = iota
	EncodingMono16
	EncodingMono8
)

// Scale is the factor that turns a raw sample into meters.
func (e DepthEncoding) Scale() float64 {
	switch e {
	case EncodingMono16:
		return 0.001
	case EncodingMono8:
		return 0.039
	default:
		return 1
	}
}

func (e DepthEncoding) String() string {
	switch e {
	case EncodingFloat:
		return "32FC1"
	case EncodingMono16:
		return "mono16"
	case EncodingMono8:
		return "mono8"
	default:
		return fmt.Sprintf("DepthEncoding(%d)", int(e))
	}
}

// DepthEncodingFromString parses the encoding names used by ROS image messages.
func DepthEncodingFromString(s string) (DepthEncoding, error) {
	switch s {
	case "32FC1", "64FC1", "float", "":
		return EncodingFloat, nil
	case "mono16", "16UC1":
		return EncodingMono16, nil
	case "mono8", "8UC1":
		return EncodingMono8, nil
	default:
		return EncodingFloat, errors.Errorf("unknown depth encoding %q", s)
	}
}

// DepthMap is a width x height grid of depths in meters along the optical axis, stored row major.
// A depth of 0 means no measurement. A DepthMap is not modified once built.
type DepthMap struct {
	width  int
	height int

	data []float64
}

// NewDepthMapFromSlice copies the row major samples into a DepthMap, scaling them by the
// encoding. Non-finite and negative samples are treated as missing.
func NewDepthMapFromSlice(width, height int, samples []float64, enc DepthEncoding) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrEmptyDepthMap, "bad size (%d, %d)", width, height)
	}
	if len(samples) != width*height {
		return nil, errors.Wrapf(ErrEmptyDepthMap, "got %d samples for a %dx%d frame", len(samples), width, height)
	}
	dm := newDepthMap(width, height)
	scale := enc.Scale()
	for i, s := range samples {
		dm.data[i] = sanitize(s * scale)
	}
	return dm, nil
}

// NewDepthMapFromGray16 converts a 16-bit image into a DepthMap.
func NewDepthMapFromGray16(img *image.Gray16, enc DepthEncoding) (*DepthMap, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyDepthMap
	}
	bounds := img.Bounds()
	dm := newDepthMap(bounds.Dx(), bounds.Dy())
	scale := enc.Scale()
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			dm.data[y*dm.width+x] = float64(img.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y) * scale
		}
	}
	return dm, nil
}

// NewDepthMapFromGray converts an 8-bit image into a DepthMap.
func NewDepthMapFromGray(img *image.Gray, enc DepthEncoding) (*DepthMap, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyDepthMap
	}
	bounds := img.Bounds()
	dm := newDepthMap(bounds.Dx(), bounds.Dy())
	scale := enc.Scale()
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			dm.data[y*dm.width+x] = float64(img.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) * scale
		}
	}
	return dm, nil
}

// ConvertImageToDepthMap takes a gray image and turns it into a DepthMap.
func ConvertImageToDepthMap(img image.Image, enc DepthEncoding) (*DepthMap, error) {
	switch ii := img.(type) {
	case *image.Gray16:
		return NewDepthMapFromGray16(ii, enc)
	case *image.Gray:
		return NewDepthMapFromGray(ii, enc)
	case nil:
		return nil, ErrEmptyDepthMap
	default:
		return nil, errors.Errorf("don't know how to make a DepthMap from %T", img)
	}
}

func newDepthMap(width, height int) *DepthMap {
	return &DepthMap{width: width, height: height, data: make([]float64, width*height)}
}

func sanitize(z float64) float64 {
	if math.IsNaN(z) || math.IsInf(z, 0) || z < 0 {
		return 0
	}
	return z
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Contains returns whether or not a point is within bounds of the depth map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// GetDepth returns the depth at column x, row y.
func (dm *DepthMap) GetDepth(x, y int) float64 {
	return dm.data[y*dm.width+x]
}

// ValidCount returns the number of pixels that carry a measurement.
func (dm *DepthMap) ValidCount() int {
	n := 0
	for _, z := range dm.data {
		if z > 0 {
			n++
		}
	}
	return n
}

// MinMax returns the smallest and largest measured depth, or zeros when nothing was measured.
func (dm *DepthMap) MinMax() (float64, float64) {
	min, max := math.Inf(1), 0.0
	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		min = math.Min(min, z)
		max = math.Max(max, z)
	}
	if math.IsInf(min, 1) {
		return 0, 0
	}
	return min, max
}

// ClampRange returns a copy where every depth outside [minDepth, maxDepth] is marked missing.
func (dm *DepthMap) ClampRange(minDepth, maxDepth float64) *DepthMap {
	out := newDepthMap(dm.width, dm.height)
	for i, z := range dm.data {
		if z >= minDepth && z <= maxDepth {
			out.data[i] = z
		}
	}
	return out
}

// Clone makes a deep copy.
func (dm *DepthMap) Clone() *DepthMap {
	out := newDepthMap(dm.width, dm.height)
	copy(out.data, dm.data)
	return out
}
