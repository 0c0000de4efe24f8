// SPDX-License-Identifier: MPL-2.0

// Package dag provides topological ordering and cycle detection over string
// keyed directed graphs. The module graph uses it to find require cycles and
// the install pipeline uses it to order packages dependencies-first.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycle is the sentinel error wrapped by CycleError.
var ErrCycle = errors.New("cycle detected")

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError struct {
		// Cycle lists the nodes of one cycle in edge order, first node repeated
		// at the end.
		Cycle []string
	}

	// Graph is a directed graph. An edge from A to B means A comes before B.
	// Nodes keep insertion order so every result is deterministic.
	Graph struct {
		adjacency map[string][]string
		nodes     []string
		nodeSet   map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
	}
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to. Both nodes are added if missing.
// Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if slices.Contains(g.adjacency[from], to) {
		return
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// TopologicalSort returns an order in which every edge points forward, using
// Kahn's algorithm. Nodes at the same level keep insertion order. A cyclic
// graph yields a *CycleError naming one cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		cycles := g.Cycles()
		if len(cycles) > 0 {
			return nil, &CycleError{Cycle: cycles[0]}
		}
		return nil, &CycleError{}
	}
	return result, nil
}

// Cycles returns one cycle per strongly connected component that has one,
// including self-loops. Each cycle starts at the component's earliest
// inserted node and ends with that node repeated. Components are reported in
// insertion order of their first node.
func (g *Graph) Cycles() [][]string {
	index := make(map[string]int, len(g.nodes))
	order := make(map[string]int, len(g.nodes))
	for i, n := range g.nodes {
		order[n] = i
	}

	var (
		lowlink = make(map[string]int, len(g.nodes))
		onStack = make(map[string]bool, len(g.nodes))
		stack   []string
		next    int
		comps   [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.adjacency[v] {
			if _, seen := index[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], index[w])
			}
		}

		if lowlink[v] != index[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || slices.Contains(g.adjacency[v], v) {
			comps = append(comps, comp)
		}
	}

	for _, n := range g.nodes {
		if _, seen := index[n]; !seen {
			strongConnect(n)
		}
	}

	cycles := make([][]string, 0, len(comps))
	for _, comp := range comps {
		slices.SortFunc(comp, func(a, b string) int { return order[a] - order[b] })
		cycles = append(cycles, g.cycleWithin(comp))
	}
	slices.SortFunc(cycles, func(a, b []string) int { return order[a[0]] - order[b[0]] })
	return cycles
}

// cycleWithin walks edges inside one strongly connected component from its
// first node until it returns there, by breadth-first search for the
// shortest path back.
func (g *Graph) cycleWithin(comp []string) []string {
	start := comp[0]
	member := make(map[string]bool, len(comp))
	for _, n := range comp {
		member[n] = true
	}
	if slices.Contains(g.adjacency[start], start) {
		return []string{start, start}
	}

	parent := map[string]string{}
	queue := []string{start}
	visited := map[string]bool{start: true}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range g.adjacency[v] {
			if !member[w] {
				continue
			}
			if w == start {
				path := []string{start}
				for n := v; n != start; n = parent[n] {
					path = append(path, n)
				}
				slices.Reverse(path[1:])
				return append(path, start)
			}
			if !visited[w] {
				visited[w] = true
				parent[w] = v
				queue = append(queue, w)
			}
		}
	}
	return append(slices.Clone(comp), start)
}
