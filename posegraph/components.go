package posegraph

import (
	"slices"
)

// ConnectedComponents groups the keys linked by between factors. Each component lists its keys
// in increasing order; keys touched only by priors appear in no component.
func ConnectedComponents(graph FactorGraph) [][]int {
	adjacency := map[int][]int{}
	for _, f := range graph {
		if f.Kind != FactorBetween {
			continue
		}
		adjacency[f.Key] = append(adjacency[f.Key], f.To)
		adjacency[f.To] = append(adjacency[f.To], f.Key)
	}

	visited := make(map[int]bool, len(adjacency))
	var components [][]int
	for _, start := range sortedKeys(adjacency) {
		if visited[start] {
			continue
		}
		visited[start] = true
		stack := []int{start}
		var component []int
		for len(stack) > 0 {
			key := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, key)
			for _, next := range adjacency[key] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		slices.Sort(component)
		components = append(components, component)
	}
	return components
}
