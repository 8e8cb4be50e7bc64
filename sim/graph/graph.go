package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

var (
	ErrCycleDetected = errors.New("graph: cycle detected, graph is not acyclic")
	ErrNodeNotFound  = errors.New("graph: node not found")
	ErrDuplicateNode = errors.New("graph: duplicate node id")
)

// StructuralError reports a defect in the graph shape. It always wraps one of
// the sentinel errors above and names the nodes involved.
type StructuralError struct {
	Err     error
	NodeIDs []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.NodeIDs, " -> "))
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// Graph owns every node by ID. Links between nodes are ID lookups into the
// graph, so nodes never hold references to each other.
//
// Thread-safety: NOT thread-safe.
type Graph struct {
	nodes map[string]*Node
	order []string
	index map[string]int
	// waiting maps a not-yet-added ID to the nodes that declared it
	waiting map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		index:   make(map[string]int),
		waiting: make(map[string][]string),
	}
}

// AddNode inserts n. Declared dependencies in n.DependsOn may reference nodes
// added later; Validate reports any that never appear. A node that would
// close a cycle with nodes already present is rejected.
func (g *Graph) AddNode(n *Node) error {
	if err := n.validateVariant(); err != nil {
		return err
	}
	if _, exists := g.nodes[n.ID]; exists {
		return &StructuralError{Err: ErrDuplicateNode, NodeIDs: []string{n.ID}}
	}
	if slices.Contains(n.DependsOn, n.ID) {
		return &StructuralError{Err: ErrCycleDetected, NodeIDs: []string{n.ID, n.ID}}
	}
	g.index[n.ID] = len(g.order)
	g.order = append(g.order, n.ID)
	g.nodes[n.ID] = n
	if cycle := g.cycleThrough(n.ID); cycle != nil {
		g.order = g.order[:len(g.order)-1]
		delete(g.index, n.ID)
		delete(g.nodes, n.ID)
		return &StructuralError{Err: ErrCycleDetected, NodeIDs: cycle}
	}

	for _, dep := range n.DependsOn {
		if d, ok := g.nodes[dep]; ok {
			d.dependents = appendUnique(d.dependents, n.ID)
		} else {
			g.waiting[dep] = appendUnique(g.waiting[dep], n.ID)
		}
	}
	for _, w := range g.waiting[n.ID] {
		n.dependents = appendUnique(n.dependents, w)
	}
	delete(g.waiting, n.ID)
	return nil
}

// cycleThrough returns a cycle passing through the freshly inserted id, or nil.
// Only a node that both depends on something present and is depended upon
// can close one.
func (g *Graph) cycleThrough(id string) []string {
	deps := g.EffectiveDependencies(id)
	if len(deps) == 0 || !g.isDependedUpon(id) {
		return nil
	}
	dg := g.dependencyGraph()
	for _, dep := range deps {
		if p := g.pathIn(dg, dep, id); p != nil {
			return append([]string{id}, p...)
		}
	}
	return nil
}

func (g *Graph) isDependedUpon(id string) bool {
	if len(g.waiting[id]) > 0 {
		return true
	}
	for _, other := range g.order {
		if other != id && slices.Contains(g.EffectiveDependencies(other), id) {
			return true
		}
	}
	return false
}

// Node looks up a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Index returns the insertion index of id, or -1 when absent. It is the
// tie-breaker every deterministic ordering in the simulator falls back to.
func (g *Graph) Index(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// AddDependency makes dependent wait for dependency. Adding an edge that
// already exists is a no-op. The edge is rejected when it would close a cycle.
func (g *Graph) AddDependency(dependent, dependency string) error {
	from, ok := g.nodes[dependent]
	if !ok {
		return &StructuralError{Err: ErrNodeNotFound, NodeIDs: []string{dependent}}
	}
	to, ok := g.nodes[dependency]
	if !ok {
		return &StructuralError{Err: ErrNodeNotFound, NodeIDs: []string{dependency}}
	}
	if slices.Contains(from.DependsOn, dependency) {
		return nil
	}
	if p := g.pathBetween(dependency, dependent); p != nil {
		return &StructuralError{Err: ErrCycleDetected, NodeIDs: append([]string{dependent}, p...)}
	}
	from.DependsOn = append(from.DependsOn, dependency)
	to.dependents = appendUnique(to.dependents, dependent)
	return nil
}

// RemoveDependency deletes the edge if present.
func (g *Graph) RemoveDependency(dependent, dependency string) {
	if from, ok := g.nodes[dependent]; ok {
		from.DependsOn = slices.DeleteFunc(from.DependsOn, func(id string) bool { return id == dependency })
	}
	if to, ok := g.nodes[dependency]; ok {
		to.dependents = slices.DeleteFunc(to.dependents, func(id string) bool { return id == dependent })
		return
	}
	if w := slices.DeleteFunc(g.waiting[dependency], func(id string) bool { return id == dependent }); len(w) > 0 {
		g.waiting[dependency] = w
	} else {
		delete(g.waiting, dependency)
	}
}

// EffectiveDependencies returns the declared dependencies of id plus the
// members of its redirect chain that are nodes of this graph. The redirect
// dependency is derived on every call and never stored as an edge.
func (g *Graph) EffectiveDependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	deps := append([]string(nil), n.DependsOn...)
	if n.Kind != KindNetwork || n.Request == nil {
		return deps
	}
	chain := n.Request.Redirects
	if n.Request.RedirectSource != "" {
		chain = append(append([]string(nil), chain...), n.Request.RedirectSource)
	}
	for _, hop := range chain {
		if hop == id {
			continue
		}
		if _, present := g.nodes[hop]; present {
			deps = appendUnique(deps, hop)
		}
	}
	return deps
}

// Validate checks that every declared dependency exists and that the graph,
// including derived redirect dependencies, is acyclic.
func (g *Graph) Validate() error {
	_, err := g.sorted()
	return err
}

// TopologicalOrder returns the nodes so that every node follows all of its
// effective dependencies. The order is stabilized by insertion index, so the
// same graph always yields the same order.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	return g.sorted()
}

func (g *Graph) sorted() ([]*Node, error) {
	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if dep == id {
				return nil, &StructuralError{Err: ErrCycleDetected, NodeIDs: []string{id, id}}
			}
			if _, ok := g.nodes[dep]; !ok {
				return nil, &StructuralError{Err: ErrNodeNotFound, NodeIDs: []string{id, dep}}
			}
		}
	}

	dg := g.dependencyGraph()
	// nil order sorts by node ID, which is the insertion index
	sorted, err := topo.SortStabilized(dg, nil)
	if err != nil {
		var components topo.Unorderable
		if !errors.As(err, &components) {
			return nil, err
		}
		return nil, &StructuralError{Err: ErrCycleDetected, NodeIDs: g.cycleIn(dg, components)}
	}
	out := make([]*Node, len(sorted))
	for i, n := range sorted {
		out[i] = g.nodes[g.order[n.ID()]]
	}
	return out, nil
}

// cycleIn names one cycle from the strongly connected components topo
// reported: the one through the earliest inserted cyclic node.
func (g *Graph) cycleIn(dg *simple.DirectedGraph, components topo.Unorderable) []string {
	first := int64(-1)
	for _, c := range components {
		if len(c) < 2 {
			continue
		}
		for _, n := range c {
			if first < 0 || n.ID() < first {
				first = n.ID()
			}
		}
	}
	if first < 0 {
		return nil
	}
	id := g.order[first]
	for _, dep := range g.EffectiveDependencies(id) {
		if p := g.pathIn(dg, dep, id); p != nil {
			return append([]string{id}, p...)
		}
	}
	return []string{id}
}

// Traverse calls fn for each node in dependency order and stops at the first error.
func (g *Graph) Traverse(fn func(*Node) error) error {
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}
	for _, n := range order {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// Subgraph extracts the nodes accepted by keep. Kept nodes are cloned without
// relationships, then the edges among kept nodes are re-added.
func (g *Graph) Subgraph(keep func(*Node) bool) (*Graph, error) {
	sub := New()
	for _, id := range g.order {
		n := g.nodes[id]
		if !keep(n) {
			continue
		}
		if err := sub.AddNode(n.CloneWithoutRelationships()); err != nil {
			return nil, err
		}
	}
	for _, id := range sub.order {
		for _, dep := range g.nodes[id].DependsOn {
			if _, kept := sub.nodes[dep]; !kept {
				continue
			}
			if err := sub.AddDependency(id, dep); err != nil {
				return nil, err
			}
		}
	}
	return sub, nil
}

// pathBetween returns the dependency path from start to target following
// effective dependencies, or nil when target is unreachable.
func (g *Graph) pathBetween(start, target string) []string {
	return g.pathIn(g.dependencyGraph(), start, target)
}

func (g *Graph) pathIn(dg *simple.DirectedGraph, start, target string) []string {
	if start == target {
		return []string{start}
	}
	si, ok := g.index[start]
	if !ok {
		return nil
	}
	ti, ok := g.index[target]
	if !ok {
		return nil
	}
	// Edges run from dependency to dependent, so walk from target to start.
	p, _ := path.DijkstraFrom(simple.Node(ti), dg).To(int64(si))
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	for i, n := range p {
		out[len(p)-1-i] = g.order[n.ID()]
	}
	return out
}

// dependencyGraph materializes the effective dependencies as a gonum graph
// whose node IDs are insertion indices and whose edges point from each
// dependency to its dependent. Absent and self dependencies are skipped.
func (g *Graph) dependencyGraph() *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for i := range g.order {
		dg.AddNode(simple.Node(i))
	}
	for i, id := range g.order {
		for _, dep := range g.EffectiveDependencies(id) {
			j, ok := g.index[dep]
			if !ok || j == i {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(j), simple.Node(i)))
		}
	}
	return dg
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
