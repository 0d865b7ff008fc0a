package plan

import "sort"

// topoOrder computes a topological order of the dependency graph using
// Kahn's algorithm. Ties are broken by ascending id so the order is
// deterministic. Nodes that sit on a cycle never reach indegree zero; they
// are returned in dropped (sorted ascending) instead of failing the sort.
// Dependency ids that are not keys of the graph are ignored.
func topoOrder(deps map[string][]string) (order, dropped []string) {
	indegree := make(map[string]int, len(deps))
	dependents := make(map[string][]string, len(deps))
	for id := range deps {
		indegree[id] = 0
	}
	for id, ds := range deps {
		for _, dep := range ds {
			if _, ok := indegree[dep]; !ok {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order = make([]string, 0, len(deps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		grew := false
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				grew = true
			}
		}
		if grew {
			sort.Strings(ready)
		}
	}

	if len(order) < len(deps) {
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for id := range deps {
			if !seen[id] {
				dropped = append(dropped, id)
			}
		}
		sort.Strings(dropped)
	}
	return order, dropped
}
