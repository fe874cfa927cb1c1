// Package resolver computes dependency-ordered install plans (spec.md
// §4.6). The graph is the arena the design notes call for: a slice of
// nodes plus a name→index map, edges stored as index pairs, and
// Kahn's algorithm walking them in O(V+E).
//
// Grounded in the teacher's pkg/dispatchable.DispatchFinder: both
// types resolve a named package's dependencies by name. Here each
// package is fetched through a Lookup as the graph is walked, and a
// dependency that can't be found is returned as a
// *tperrors.NotFoundError rather than logged.
package resolver

import (
	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
)

// Lookup resolves a package name to its definition. The Resolver
// doesn't own package storage; it asks the Catalog/Loader layer for
// each node as it walks the graph.
type Lookup func(name string) (*types.PackageDefinition, error)

type node struct {
	name string
	deps []int
}

// Graph is the arena: nodes in insertion order, edges as index pairs
// into nodes, and a name→index map for O(1) lookups while building
// edges.
type Graph struct {
	l     hclog.Logger
	nodes []node
	index map[string]int
}

// New returns an empty Graph.
func New(l hclog.Logger) *Graph {
	return &Graph{
		l:     l.Named("resolver"),
		index: make(map[string]int),
	}
}

func (g *Graph) addNode(name string) int {
	if idx, ok := g.index[name]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{name: name})
	g.index[name] = idx
	return idx
}

// Resolve builds the dependency graph rooted at name by calling lookup
// for every transitively required package, then returns an install
// order: every dependency appears before its dependents, there are no
// duplicates, and the requested package is always the last element.
// A dependency cycle is reported as a *tperrors.CycleError rather than
// silently truncating the graph.
func Resolve(name string, lookup Lookup) ([]string, error) {
	g := New(hclog.NewNullLogger())
	if err := g.build(name, lookup, nil); err != nil {
		return nil, err
	}
	return g.topoSort()
}

// build walks dependencies depth-first, adding each package to the
// arena the first time it's reached. stack records the path from the
// root so a cycle can be reported with the full loop, not just the
// repeated name.
func (g *Graph) build(name string, lookup Lookup, stack []string) error {
	for _, s := range stack {
		if s == name {
			return &tperrors.CycleError{Path: append(append([]string{}, stack...), name)}
		}
	}
	if _, ok := g.index[name]; ok {
		return nil // already fully expanded
	}
	stack = append(stack, name)

	pkg, err := lookup(name)
	if err != nil {
		if pe, ok := err.(*tperrors.ParseError); ok {
			return pe
		}
		return &tperrors.NotFoundError{Name: name}
	}

	idx := g.addNode(name)
	for _, dep := range pkg.Dependencies {
		if err := g.build(dep, lookup, stack); err != nil {
			return err
		}
		depIdx := g.index[dep]
		g.nodes[idx].deps = append(g.nodes[idx].deps, depIdx)
	}
	return nil
}

// topoSort runs Kahn's algorithm over the arena, returning node names
// in dependency-first order. It reports any remaining cycle once the
// queue of zero-indegree nodes runs dry before every node is visited.
func (g *Graph) topoSort() ([]string, error) {
	// deps[idx] lists what idx depends on; reverse those edges into
	// "dependents" so indegree counts unresolved dependencies per node,
	// the direction Kahn's algorithm actually wants to drain.
	indegree := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))
	for idx, n := range g.nodes {
		for _, dep := range n.deps {
			dependents[dep] = append(dependents[dep], idx)
			indegree[idx]++
		}
	}

	queue := make([]int, 0, len(g.nodes))
	for idx, deg := range indegree {
		if deg == 0 {
			queue = append(queue, idx)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		order = append(order, g.nodes[idx].name)

		for _, dependent := range dependents[idx] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &tperrors.CycleError{Path: g.unresolvedNames(indegree)}
	}
	return order, nil
}

// unresolvedNames lists every node Kahn's algorithm never drained —
// exactly the nodes participating in a cycle (or depending on one).
func (g *Graph) unresolvedNames(indegree []int) []string {
	var names []string
	for idx, deg := range indegree {
		if deg > 0 {
			names = append(names, g.nodes[idx].name)
		}
	}
	return names
}

// FindDependents returns the names of every known package that lists
// name as a dependency. The orchestrator's Remove (and so Update, which
// removes before reinstalling) uses it to refuse removal with a
// *tperrors.DependencyError while installed packages still need name.
func FindDependents(name string, all []*types.PackageDefinition) []string {
	var out []string
	for _, pkg := range all {
		for _, dep := range pkg.Dependencies {
			if dep == name {
				out = append(out, pkg.Name)
				break
			}
		}
	}
	return out
}
