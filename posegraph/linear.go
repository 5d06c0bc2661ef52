package posegraph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthodom/spatialmath"
)

// jacobianStep is the central difference step used to linearize factors on the tangent chart.
const jacobianStep = 1e-6

// linearSystem is the Gauss-Newton normal equations H·δ = b over a set of free keys, with
// δ stacked in key order, 6 entries per key.
type linearSystem struct {
	keys  []int
	index map[int]int
	h     *mat.SymDense
	b     *mat.VecDense
	cost  float64
}

// buildLinearSystem linearizes factors around the poses returned by lookup. Only keys present in
// free are variables; every other key is held at its current pose.
func buildLinearSystem(factors []Factor, lookup func(int) (spatialmath.Pose, bool), free []int) (*linearSystem, error) {
	sys := &linearSystem{
		keys:  free,
		index: make(map[int]int, len(free)),
		h:     mat.NewSymDense(6*len(free), nil),
		b:     mat.NewVecDense(6*len(free), nil),
	}
	for i, k := range free {
		sys.index[k] = i
	}

	for _, f := range factors {
		poses, err := f.poses(lookup)
		if err != nil {
			return nil, err
		}
		whitened := f.Noise.Whiten(f.Error(poses...))
		weight, loss := f.Noise.weightAndLoss(whitened)
		sys.cost += loss

		keys := f.Keys()
		blocks := make([]int, 0, len(keys))
		jacobians := make([][6][6]float64, 0, len(keys))
		for slot, k := range keys {
			block, ok := sys.index[k]
			if !ok {
				continue
			}
			blocks = append(blocks, block)
			jacobians = append(jacobians, numericJacobian(f, poses, slot))
		}
		sys.accumulate(blocks, jacobians, whitened, weight)
	}
	return sys, nil
}

// numericJacobian differentiates the whitened error of f with respect to the tangent
// perturbation of its slot-th pose.
func numericJacobian(f Factor, poses []spatialmath.Pose, slot int) [6][6]float64 {
	var jac [6][6]float64
	perturbed := make([]spatialmath.Pose, len(poses))
	for col := 0; col < 6; col++ {
		var xi spatialmath.Tangent
		xi[col] = jacobianStep
		copy(perturbed, poses)
		perturbed[slot] = spatialmath.Retract(poses[slot], xi)
		plus := f.Noise.Whiten(f.Error(perturbed...))
		xi[col] = -jacobianStep
		perturbed[slot] = spatialmath.Retract(poses[slot], xi)
		minus := f.Noise.Whiten(f.Error(perturbed...))
		for row := 0; row < 6; row++ {
			jac[row][col] = (plus[row] - minus[row]) / (2 * jacobianStep)
		}
	}
	return jac
}

// accumulate adds w·JᵀJ to H and −w·Jᵀe to b for one factor.
func (sys *linearSystem) accumulate(blocks []int, jacobians [][6][6]float64, e [6]float64, w float64) {
	for a, ba := range blocks {
		ja := &jacobians[a]
		for i := 0; i < 6; i++ {
			var g float64
			for r := 0; r < 6; r++ {
				g += ja[r][i] * e[r]
			}
			row := 6*ba + i
			sys.b.SetVec(row, sys.b.AtVec(row)-w*g)
		}
		for c, bb := range blocks {
			if bb < ba {
				continue
			}
			jb := &jacobians[c]
			for i := 0; i < 6; i++ {
				for j := 0; j < 6; j++ {
					row, col := 6*ba+i, 6*bb+j
					if bb == ba && col < row {
						continue
					}
					var v float64
					for r := 0; r < 6; r++ {
						v += ja[r][i] * jb[r][j]
					}
					sys.h.SetSym(row, col, sys.h.At(row, col)+w*v)
				}
			}
		}
	}
}

// solve returns δ for H damped by lambda·diag(H).
func (sys *linearSystem) solve(lambda float64) (*mat.VecDense, error) {
	h := sys.h
	if lambda > 0 {
		h = mat.NewSymDense(h.SymmetricDim(), nil)
		h.CopySym(sys.h)
		for i := 0; i < h.SymmetricDim(); i++ {
			d := sys.h.At(i, i)
			if d < minDamping {
				d = minDamping
			}
			h.SetSym(i, i, sys.h.At(i, i)+lambda*d)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(h) {
		return nil, ErrIndefinite
	}
	var delta mat.VecDense
	if err := chol.SolveVecTo(&delta, sys.b); err != nil {
		return nil, errors.Wrap(ErrIndefinite, err.Error())
	}
	return &delta, nil
}

// minDamping keeps the damping positive on variables the factors barely constrain.
const minDamping = 1e-9

// retract applies δ to the free keys and returns the moved poses.
func (sys *linearSystem) retract(lookup func(int) (spatialmath.Pose, bool), delta *mat.VecDense) Values {
	out := make(Values, len(sys.keys))
	for i, k := range sys.keys {
		var xi spatialmath.Tangent
		for j := 0; j < 6; j++ {
			xi[j] = delta.AtVec(6*i + j)
		}
		p, _ := lookup(k)
		out[k] = spatialmath.Retract(p, xi)
	}
	return out
}

// maxAbs returns the infinity norm of v.
func maxAbs(v *mat.VecDense) float64 {
	var m float64
	for i := 0; i < v.Len(); i++ {
		if a := v.AtVec(i); a > m {
			m = a
		} else if -a > m {
			m = -a
		}
	}
	return m
}
