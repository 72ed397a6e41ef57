// Package graph derives the reverse dependency graph used to schedule field
// re-evaluation. It is built once per definition; cycles are rejected before
// any runtime exists so propagation can assume a DAG.
package graph

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Graph maps each node to the set of dependents that must re-evaluate when
// that node's value changes.
type Graph struct {
	dependents map[string]mapset.Set[string]
	order      map[string]int
}

// New builds a graph from dependency edges (node -> the nodes it depends on).
// order lists every node in declaration order and fixes tie-breaking during
// scheduling. Cyclic edge sets return an error naming a node on the cycle.
func New(order []string, edges map[string][]string) (*Graph, error) {
	g := &Graph{
		dependents: make(map[string]mapset.Set[string], len(order)),
		order:      make(map[string]int, len(order)),
	}
	for i, name := range order {
		g.order[name] = i
		g.dependents[name] = mapset.NewSet[string]()
	}
	for node, deps := range edges {
		for _, dep := range deps {
			set, ok := g.dependents[dep]
			if !ok {
				return nil, fmt.Errorf("graph: unknown node %q", dep)
			}
			set.Add(node)
		}
	}
	if node, ok := g.findCycle(edges); ok {
		return nil, fmt.Errorf("graph: dependency cycle through %q", node)
	}
	return g, nil
}

// Dependents returns every node reachable from name through dependent edges,
// in level order: all direct dependents before any second-order dependent. A
// node already scheduled in the pass is not scheduled twice. A self-edge
// schedules the node itself.
func (g *Graph) Dependents(name string) []string {
	root, ok := g.dependents[name]
	if !ok {
		return nil
	}
	scheduled := mapset.NewSet[string]()
	var result []string
	frontier := g.sorted(root)
	for len(frontier) > 0 {
		var next []string
		for _, node := range frontier {
			if !scheduled.Add(node) {
				continue
			}
			result = append(result, node)
			next = append(next, g.sorted(g.dependents[node])...)
		}
		frontier = next
	}
	return result
}

// sorted renders a set in declaration order so scheduling is deterministic.
func (g *Graph) sorted(set mapset.Set[string]) []string {
	if set == nil {
		return nil
	}
	nodes := set.ToSlice()
	sort.Slice(nodes, func(i, j int) bool {
		return g.order[nodes[i]] < g.order[nodes[j]]
	})
	return nodes
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

func (g *Graph) findCycle(edges map[string][]string) (string, bool) {
	colors := make(map[string]int, len(g.order))
	var visit func(node string) (string, bool)
	visit = func(node string) (string, bool) {
		colors[node] = colorGray
		for _, dep := range edges[node] {
			// A self-edge only re-evaluates the field on its own change; it
			// cannot loop because condition recomputation never writes values.
			if dep == node {
				continue
			}
			switch colors[dep] {
			case colorGray:
				return dep, true
			case colorWhite:
				if hit, ok := visit(dep); ok {
					return hit, true
				}
			}
		}
		colors[node] = colorBlack
		return "", false
	}
	names := make([]string, 0, len(g.order))
	for name := range g.order {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return g.order[names[i]] < g.order[names[j]] })
	for _, name := range names {
		if colors[name] != colorWhite {
			continue
		}
		if hit, ok := visit(name); ok {
			return hit, true
		}
	}
	return "", false
}
