package posegraph

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/depthodom/spatialmath"
)

// fixSigma is the sigma of the prior standing in for a FIX line.
const fixSigma = 1e-6

// upper triangular offsets of the information matrix diagonal in an EDGE_SE3:QUAT line; the
// matrix is ordered translation first.
var g2oInfoDiagonal = [6]int{0, 6, 11, 15, 18, 20}

// ReadG2O parses the 3-D subset of the g2o format: VERTEX_SE3:QUAT lines become initial
// estimates, EDGE_SE3:QUAT lines become between factors whose sigmas come from the diagonal of the
// information matrix, and FIX lines become tight priors at the vertex estimate.
func ReadG2O(r io.Reader) (FactorGraph, Values, error) {
	var graph FactorGraph
	values := Values{}
	var fixed []int
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "VERTEX_SE3:QUAT":
			nums, err := parseFields(fields[1:], 8)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "line %d", lineNo)
			}
			values[int(nums[0])] = poseFromG2O(nums[1:8])
		case "EDGE_SE3:QUAT":
			nums, err := parseFields(fields[1:], 30)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "line %d", lineNo)
			}
			from, to := int(nums[0]), int(nums[1])
			if from == to {
				return nil, nil, errors.Errorf("line %d: edge from %d to itself", lineNo, from)
			}
			info := nums[9:]
			var sigmas Sigmas
			for i, idx := range g2oInfoDiagonal {
				if !(info[idx] > 0) {
					return nil, nil, errors.Errorf("line %d: information entry %d is not positive", lineNo, idx)
				}
				// translation rows come first in g2o, rotation first in the tangent order.
				sigmas[(i+3)%6] = 1 / math.Sqrt(info[idx])
			}
			noise, err := NewDiagonalNoiseModel(sigmas)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "line %d", lineNo)
			}
			graph = append(graph, NewBetweenFactor(from, to, poseFromG2O(nums[2:9]), noise))
		case "FIX":
			nums, err := parseFields(fields[1:], 1)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "line %d", lineNo)
			}
			fixed = append(fixed, int(nums[0]))
		default:
			// other record types (2-D vertices, landmarks, parameters) are not part of a 3-D pose graph.
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	prior := NoiseModel{Sigmas: Sigmas{fixSigma, fixSigma, fixSigma, fixSigma, fixSigma, fixSigma}}
	for _, k := range fixed {
		pose, ok := values[k]
		if !ok {
			return nil, nil, errors.Wrapf(ErrKeyMissing, "FIX %d", k)
		}
		graph = append(graph, NewPriorFactor(k, pose, prior))
	}
	return graph, values, nil
}

func parseFields(fields []string, want int) ([]float64, error) {
	if len(fields) < want {
		return nil, errors.Errorf("expected %d values, got %d", want, len(fields))
	}
	out := make([]float64, want)
	for i := 0; i < want; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// poseFromG2O reads x y z qx qy qz qw.
func poseFromG2O(v []float64) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		quat.Number{Real: v[6], Imag: v[3], Jmag: v[4], Kmag: v[5]},
	)
}

func formatPose(p spatialmath.Pose) string {
	t := p.Point()
	q := p.Quaternion()
	parts := make([]string, 0, 7)
	for _, v := range []float64{t.X, t.Y, t.Z, q.Imag, q.Jmag, q.Kmag, q.Real} {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, " ")
}

// WriteG2O writes values as vertices, between factors as edges and prior keys as FIX lines.
// Robust kernels are not part of the format and are dropped.
func WriteG2O(w io.Writer, graph FactorGraph, values Values) error {
	bw := bufio.NewWriter(w)
	for _, k := range values.Keys() {
		if _, err := fmt.Fprintf(bw, "VERTEX_SE3:QUAT %d %s\n", k, formatPose(values[k])); err != nil {
			return err
		}
	}
	for _, f := range graph {
		if f.Kind != FactorBetween {
			continue
		}
		var info [21]float64
		for i, idx := range g2oInfoDiagonal {
			s := f.Noise.Sigmas[(i+3)%6]
			info[idx] = 1 / (s * s)
		}
		parts := make([]string, len(info))
		for i, v := range info {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if _, err := fmt.Fprintf(bw, "EDGE_SE3:QUAT %d %d %s %s\n",
			f.Key, f.To, formatPose(f.Measurement), strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	for _, k := range sortedKeys(graph.Priors()) {
		if _, err := fmt.Fprintf(bw, "FIX %d\n", k); err != nil {
			return err
		}
	}
	return bw.Flush()
}
