package task

// reachable reports whether `to` can be reached from `from` by following
// dependency edges. Iterative depth-first walk over the id-indexed
// adjacency map; visited guards against revisits on shared subgraphs.
func reachable(edges map[int64][]int64, from, to int64) bool {
	if from == to {
		return true
	}
	visited := make(map[int64]bool)
	stack := []int64{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		for _, next := range edges[n] {
			if next == to {
				return true
			}
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}
