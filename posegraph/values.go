package posegraph

import (
	"slices"

	"github.com/samber/lo"

	"go.viam.com/depthodom/spatialmath"
)

// Values maps node keys to pose estimates.
type Values map[int]spatialmath.Pose

// Keys returns the keys in increasing order.
func (v Values) Keys() []int {
	keys := lo.Keys(v)
	slices.Sort(keys)
	return keys
}

// Clone returns a copy of the mapping. Poses are immutable and shared.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, p := range v {
		out[k] = p
	}
	return out
}

// Exists returns whether key has an estimate.
func (v Values) Exists(key int) bool {
	_, ok := v[key]
	return ok
}

func (v Values) lookup(key int) (spatialmath.Pose, bool) {
	p, ok := v[key]
	return p, ok
}

func sortedKeys[V any](m map[int]V) []int {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
