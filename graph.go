package conveyor

import "sort"

// Plan is the result of resolving a workflow graph: a valid topological
// order plus forward and reverse adjacency, computed before any node runs.
type Plan struct {
	// Order is a topological order over all node ids, tie-broken by
	// declaration order so execution is deterministic for a fixed graph.
	Order []string

	// Adjacency maps a node id to the edges leaving it.
	Adjacency map[string][]*Edge

	// Inbound maps a node id to the edges pointing at it.
	Inbound map[string][]*Edge
}

// planGraph validates a node/edge set and computes the execution plan.
// A dangling edge endpoint or a dependency cycle is rejected with a
// planning error and nothing runs.
func planGraph(nodes []*Node, edges []*Edge) (*Plan, error) {
	position := make(map[string]int, len(nodes))
	for i, node := range nodes {
		if _, exists := position[node.ID]; exists {
			return nil, NewValidationError("duplicate node id %q", node.ID)
		}
		position[node.ID] = i
	}

	plan := &Plan{
		Adjacency: make(map[string][]*Edge, len(nodes)),
		Inbound:   make(map[string][]*Edge, len(nodes)),
	}
	indegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		indegree[node.ID] = 0
	}
	for _, edge := range edges {
		if _, ok := position[edge.Source]; !ok {
			return nil, NewDependencyError("edge source %q not found", edge.Source)
		}
		if _, ok := position[edge.Target]; !ok {
			return nil, NewDependencyError("edge target %q not found", edge.Target)
		}
		plan.Adjacency[edge.Source] = append(plan.Adjacency[edge.Source], edge)
		plan.Inbound[edge.Target] = append(plan.Inbound[edge.Target], edge)
		indegree[edge.Target]++
	}

	// Kahn's algorithm: repeatedly remove zero-indegree nodes. The ready
	// list stays sorted by declaration order for a stable result.
	var ready []string
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sortByPosition(ready, position)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for _, edge := range plan.Adjacency[id] {
			indegree[edge.Target]--
			if indegree[edge.Target] == 0 {
				unlocked = append(unlocked, edge.Target)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sortByPosition(ready, position)
		}
	}

	// Nodes left with positive indegree sit on a cycle.
	if len(order) != len(nodes) {
		var cyclic []string
		for id, degree := range indegree {
			if degree > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, NewDependencyError("dependency cycle involving nodes %v", cyclic)
	}

	plan.Order = order
	return plan, nil
}

func sortByPosition(ids []string, position map[string]int) {
	sort.SliceStable(ids, func(i, j int) bool {
		return position[ids[i]] < position[ids[j]]
	})
}
