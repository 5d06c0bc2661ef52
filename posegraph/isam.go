package posegraph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthodom/logging"
	"go.viam.com/depthodom/spatialmath"
)

// ISAMParams bounds the work of one incremental update.
type ISAMParams struct {
	// MaxIterations caps the Gauss-Newton steps per update.
	MaxIterations int `json:"max_iterations"`
	// Tolerance stops iterating once no tangent component moves more than this.
	Tolerance float64 `json:"tolerance"`
}

// DefaultISAMParams returns the parameters used by PoseGraph.
func DefaultISAMParams() ISAMParams {
	return ISAMParams{MaxIterations: 10, Tolerance: 1e-9}
}

// ISAM maintains a running estimate of a growing pose graph. Each update relinearizes the
// connected components touched by the new factors and estimates, warm-started from the current
// estimate. Components the update does not reach keep their estimates untouched.
//
// An ISAM is not safe for concurrent use.
type ISAM struct {
	params   ISAMParams
	logger   logging.Logger
	factors  FactorGraph
	byKey    map[int][]int
	estimate Values
	anchors  *disjointSet
}

// NewISAM returns an empty incremental solver.
func NewISAM(params ISAMParams, logger logging.Logger) *ISAM {
	if params.MaxIterations <= 0 {
		params.MaxIterations = DefaultISAMParams().MaxIterations
	}
	return &ISAM{
		params:   params,
		logger:   logger,
		byKey:    map[int][]int{},
		estimate: Values{},
		anchors:  newDisjointSet(),
	}
}

// Update adds new factors and initial estimates, then refines every component they touch. An
// estimate for a key the solver already holds overwrites the current one and that key is
// solved again. On error nothing is committed.
func (s *ISAM) Update(newFactors FactorGraph, newValues Values) error {
	var newKeys, replaced []int
	for _, k := range newValues.Keys() {
		if s.estimate.Exists(k) {
			replaced = append(replaced, k)
		} else {
			newKeys = append(newKeys, k)
		}
	}
	lookup := func(k int) (spatialmath.Pose, bool) {
		if p, ok := newValues[k]; ok {
			return p, true
		}
		p, ok := s.estimate[k]
		return p, ok
	}
	for _, f := range newFactors {
		for _, k := range f.Keys() {
			if _, ok := lookup(k); !ok {
				return errors.Wrapf(ErrKeyMissing, "%s factor references key %d", f.Kind, k)
			}
		}
	}
	if err := s.anchors.checkExtension(newFactors, newKeys); err != nil {
		return err
	}

	// the affected region and the factors touching it, with new factors indexed after old ones.
	base := len(s.factors)
	index := func(k int) []int {
		idx := s.byKey[k]
		for i, f := range newFactors {
			if f.Touches(k) {
				idx = append(idx, base+i)
			}
		}
		return idx
	}
	factorAt := func(i int) Factor {
		if i < base {
			return s.factors[i]
		}
		return newFactors[i-base]
	}
	seeds := map[int]struct{}{}
	for _, f := range newFactors {
		for _, k := range f.Keys() {
			seeds[k] = struct{}{}
		}
	}
	for _, k := range replaced {
		seeds[k] = struct{}{}
	}
	free := expand(seeds, index, factorAt)
	var involved []Factor
	seen := map[int]struct{}{}
	for _, k := range free {
		for _, i := range index(k) {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			involved = append(involved, factorAt(i))
		}
	}

	work := Values{}
	current := func(k int) (spatialmath.Pose, bool) {
		if p, ok := work[k]; ok {
			return p, true
		}
		return lookup(k)
	}
	iterations := 0
	for ; iterations < s.params.MaxIterations && len(free) > 0; iterations++ {
		sys, err := buildLinearSystem(involved, current, free)
		if err != nil {
			return err
		}
		delta, err := sys.solve(0)
		if err != nil {
			return errors.Wrapf(err, "relinearizing %d keys", len(free))
		}
		for k, p := range sys.retract(current, delta) {
			work[k] = p
		}
		if maxAbs(delta) < s.params.Tolerance {
			iterations++
			break
		}
	}

	// commit
	for i, f := range newFactors {
		s.factors = append(s.factors, f)
		for _, k := range f.Keys() {
			s.byKey[k] = append(s.byKey[k], base+i)
		}
		s.anchors.add(f)
	}
	for k, p := range newValues {
		s.estimate[k] = p
	}
	for k, p := range work {
		s.estimate[k] = p
	}
	if s.logger != nil {
		s.logger.Debugw("isam update",
			"new_factors", len(newFactors), "new_keys", len(newKeys), "replaced", len(replaced),
			"relinearized", len(free), "iterations", iterations)
	}
	return nil
}

// expand grows the seed keys along between factors to their full connected components and
// returns them sorted.
func expand(seeds map[int]struct{}, index func(int) []int, factorAt func(int) Factor) []int {
	region := map[int]struct{}{}
	frontier := make([]int, 0, len(seeds))
	for k := range seeds {
		region[k] = struct{}{}
		frontier = append(frontier, k)
	}
	for len(frontier) > 0 {
		var next []int
		for _, k := range frontier {
			for _, i := range index(k) {
				f := factorAt(i)
				if f.Kind != FactorBetween {
					continue
				}
				o := f.Other(k)
				if _, ok := region[o]; !ok {
					region[o] = struct{}{}
					next = append(next, o)
				}
			}
		}
		frontier = next
	}
	return sortedKeys(region)
}

// CalculateEstimate returns a copy of the current estimate.
func (s *ISAM) CalculateEstimate() Values {
	return s.estimate.Clone()
}

// Factors returns a copy of every factor the solver holds.
func (s *ISAM) Factors() FactorGraph {
	return s.factors.Clone()
}

// MarginalCovariance returns the 6x6 covariance of key in tangent order (rotation first) at the
// current estimate. The second return is false when the key has not been solved or the
// information matrix cannot be inverted.
func (s *ISAM) MarginalCovariance(key int) (*mat.SymDense, bool) {
	if !s.estimate.Exists(key) {
		return nil, false
	}
	sys, err := buildLinearSystem(s.factors, s.estimate.lookup, s.estimate.Keys())
	if err != nil {
		return nil, false
	}
	var chol mat.Cholesky
	if !chol.Factorize(sys.h) {
		return nil, false
	}
	block := sys.index[key]
	n := sys.h.SymmetricDim()
	rhs := mat.NewDense(n, 6, nil)
	for j := 0; j < 6; j++ {
		rhs.Set(6*block+j, j, 1)
	}
	var cols mat.Dense
	if err := chol.SolveTo(&cols, rhs); err != nil {
		return nil, false
	}
	cov := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			cov.SetSym(i, j, (cols.At(6*block+i, j)+cols.At(6*block+j, i))/2)
		}
	}
	return cov, true
}
