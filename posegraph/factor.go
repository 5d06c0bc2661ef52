package posegraph

import (
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/depthodom/spatialmath"
)

// FactorKind discriminates the factor variants.
type FactorKind int

// The factor variants.
const (
	// FactorPrior anchors one key to an absolute pose.
	FactorPrior FactorKind = iota
	// FactorBetween constrains the relative pose from one key to another.
	FactorBetween
)

func (k FactorKind) String() string {
	switch k {
	case FactorPrior:
		return "prior"
	case FactorBetween:
		return "between"
	default:
		return fmt.Sprintf("FactorKind(%d)", int(k))
	}
}

// Factor is a single constraint of the graph. A prior uses Key only; a between factor
// constrains To relative to Key. Factors are values and are never modified once built.
type Factor struct {
	Kind        FactorKind
	Key         int
	To          int
	Measurement spatialmath.Pose
	Noise       NoiseModel
}

// NewPriorFactor returns a factor anchoring key at pose.
func NewPriorFactor(key int, pose spatialmath.Pose, noise NoiseModel) Factor {
	return Factor{Kind: FactorPrior, Key: key, Measurement: pose, Noise: noise}
}

// NewBetweenFactor returns a factor saying that to sits at relative in from's frame.
func NewBetweenFactor(from, to int, relative spatialmath.Pose, noise NoiseModel) Factor {
	return Factor{Kind: FactorBetween, Key: from, To: to, Measurement: relative, Noise: noise}
}

// Keys returns the keys the factor touches.
func (f Factor) Keys() []int {
	if f.Kind == FactorBetween {
		return []int{f.Key, f.To}
	}
	return []int{f.Key}
}

// Touches returns whether key is one of the factor's keys.
func (f Factor) Touches(key int) bool {
	return f.Key == key || (f.Kind == FactorBetween && f.To == key)
}

// Other returns the key at the other end of a between factor.
func (f Factor) Other(key int) int {
	if f.Key == key {
		return f.To
	}
	return f.Key
}

// Error returns the unwhitened tangent error of the factor at the given poses. For a between
// factor the second pose is required.
func (f Factor) Error(poses ...spatialmath.Pose) spatialmath.Tangent {
	switch f.Kind {
	case FactorBetween:
		return spatialmath.Local(f.Measurement, spatialmath.PoseBetween(poses[0], poses[1]))
	default:
		return spatialmath.Local(f.Measurement, poses[0])
	}
}

// poses looks up the factor's poses in values.
func (f Factor) poses(lookup func(int) (spatialmath.Pose, bool)) ([]spatialmath.Pose, error) {
	keys := f.Keys()
	out := make([]spatialmath.Pose, len(keys))
	for i, k := range keys {
		p, ok := lookup(k)
		if !ok {
			return nil, errors.Wrapf(ErrKeyMissing, "%s factor references key %d", f.Kind, k)
		}
		out[i] = p
	}
	return out, nil
}

// FactorGraph is an ordered list of factors.
type FactorGraph []Factor

// Clone returns a shallow copy; factors themselves are immutable.
func (g FactorGraph) Clone() FactorGraph {
	out := make(FactorGraph, len(g))
	copy(out, g)
	return out
}

// Priors returns the set of keys anchored by a prior.
func (g FactorGraph) Priors() map[int]struct{} {
	out := map[int]struct{}{}
	for _, f := range g {
		if f.Kind == FactorPrior {
			out[f.Key] = struct{}{}
		}
	}
	return out
}

// Keys returns every key referenced by a factor, sorted.
func (g FactorGraph) Keys() []int {
	seen := map[int]struct{}{}
	for _, f := range g {
		for _, k := range f.Keys() {
			seen[k] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Error returns the total cost of the graph at values: half the sum of squared whitened
// residuals, or the kernel loss for robust factors.
func (g FactorGraph) Error(values Values) (float64, error) {
	var total float64
	for _, f := range g {
		poses, err := f.poses(values.lookup)
		if err != nil {
			return 0, err
		}
		_, loss := f.Noise.weightAndLoss(f.Noise.Whiten(f.Error(poses...)))
		total += loss
	}
	return total, nil
}
