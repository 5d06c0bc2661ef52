package posegraph

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnanchored is returned when some connected part of the graph has no prior, which leaves
	// its global pose undetermined.
	ErrUnanchored = errors.New("pose graph has a component without a prior factor")
	// ErrKeyMissing is returned when a factor references a key that has no estimate.
	ErrKeyMissing = errors.New("key has no estimate")
	// ErrIndefinite is returned when the linearized system cannot be factorized.
	ErrIndefinite = errors.New("linear system is not positive definite")
)

// checkAnchored verifies that every key of values is reachable from a prior through between
// factors and that every key referenced by a factor has an estimate.
func checkAnchored(graph FactorGraph, values Values) error {
	for _, k := range graph.Keys() {
		if !values.Exists(k) {
			return errors.Wrapf(ErrKeyMissing, "key %d", k)
		}
	}
	priors := graph.Priors()
	constrained := map[int]struct{}{}
	for k := range priors {
		constrained[k] = struct{}{}
	}
	for _, component := range ConnectedComponents(graph) {
		anchored := false
		for _, k := range component {
			constrained[k] = struct{}{}
			if _, ok := priors[k]; ok {
				anchored = true
			}
		}
		if !anchored {
			return errors.Wrapf(ErrUnanchored, "component %v", component)
		}
	}
	for _, k := range values.Keys() {
		if _, ok := constrained[k]; !ok {
			return errors.Wrapf(ErrUnanchored, "key %d has no factor", k)
		}
	}
	return nil
}

// disjointSet tracks which keys are connected by between factors and whether each connected
// set holds a prior, with near constant cost per factor.
type disjointSet struct {
	parent   map[int]int
	anchored map[int]bool
}

func newDisjointSet() *disjointSet {
	return &disjointSet{parent: map[int]int{}, anchored: map[int]bool{}}
}

func (ds *disjointSet) find(k int) int {
	p, ok := ds.parent[k]
	if !ok {
		ds.parent[k] = k
		return k
	}
	if p == k {
		return k
	}
	root := ds.find(p)
	ds.parent[k] = root
	return root
}

func (ds *disjointSet) union(a, b int) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	ds.parent[rb] = ra
	ds.anchored[ra] = ds.anchored[ra] || ds.anchored[rb]
	delete(ds.anchored, rb)
}

func (ds *disjointSet) add(f Factor) {
	switch f.Kind {
	case FactorPrior:
		ds.anchored[ds.find(f.Key)] = true
	case FactorBetween:
		ds.union(f.Key, f.To)
	}
}

func (ds *disjointSet) isAnchored(k int) bool {
	return ds.anchored[ds.find(k)]
}

// checkExtension reports whether adding factors (and estimates for newKeys) to the keys already
// tracked by ds would leave every touched component anchored. ds is not modified beyond path
// compression.
func (ds *disjointSet) checkExtension(factors FactorGraph, newKeys []int) error {
	overlay := newDisjointSet()
	root := func(k int) int {
		if _, ok := ds.parent[k]; ok {
			return ds.find(k)
		}
		return k
	}
	touched := map[int]struct{}{}
	for _, f := range factors {
		for _, k := range f.Keys() {
			r := root(k)
			touched[r] = struct{}{}
			if _, ok := ds.parent[k]; ok && ds.anchored[r] {
				overlay.anchored[overlay.find(r)] = true
			}
		}
		switch f.Kind {
		case FactorPrior:
			overlay.anchored[overlay.find(root(f.Key))] = true
		case FactorBetween:
			overlay.union(root(f.Key), root(f.To))
		}
	}
	for _, k := range newKeys {
		if _, ok := touched[root(k)]; !ok {
			return errors.Wrapf(ErrUnanchored, "key %d has no factor", k)
		}
	}
	for _, r := range sortedKeys(touched) {
		if !overlay.isAnchored(r) {
			return errors.Wrapf(ErrUnanchored, "key %d is not connected to a prior", r)
		}
	}
	return nil
}
