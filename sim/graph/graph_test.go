package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/topo"
	"pgregory.net/rapid"
)

func cpu(id string, ms float64, deps ...string) *Node {
	n := NewCPUNode(id, &CPUTask{Name: id, Duration: ms})
	n.DependsOn = deps
	return n
}

func fetch(id, url string, deps ...string) *Node {
	n := NewNetworkNode(&NetworkRequest{RequestID: id, URL: url, ResourceType: ResourceImage, Priority: PriorityLow})
	n.DependsOn = deps
	return n
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestAddDependency_RejectsTwoNodeCycle(t *testing.T) {
	// GIVEN A depends on B
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	require.NoError(t, g.AddNode(cpu("B", 1)))
	require.NoError(t, g.AddDependency("A", "B"))

	// WHEN B is made to depend on A
	err := g.AddDependency("B", "A")

	// THEN the edge is rejected as a cycle and the graph is unchanged
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"B", "A", "B"}, se.NodeIDs)
	n, _ := g.Node("B")
	assert.Empty(t, n.Dependencies())
}

func TestAddDependency_RejectsSelfLoop(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	assert.ErrorIs(t, g.AddDependency("A", "A"), ErrCycleDetected)
}

func TestAddDependency_UnknownNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	assert.ErrorIs(t, g.AddDependency("A", "missing"), ErrNodeNotFound)
	assert.ErrorIs(t, g.AddDependency("missing", "A"), ErrNodeNotFound)
}

func TestAddDependency_MaintainsDependents(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	require.NoError(t, g.AddNode(cpu("B", 1)))
	require.NoError(t, g.AddDependency("B", "A"))
	require.NoError(t, g.AddDependency("B", "A")) // idempotent

	a, _ := g.Node("A")
	b, _ := g.Node("B")
	assert.Equal(t, []string{"B"}, a.Dependents())
	assert.Equal(t, []string{"A"}, b.Dependencies())

	g.RemoveDependency("B", "A")
	assert.Empty(t, a.Dependents())
	assert.Empty(t, b.Dependencies())
}

func TestAddNode_DuplicateID(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	assert.ErrorIs(t, g.AddNode(cpu("A", 2)), ErrDuplicateNode)
}

func TestAddNode_ForwardDeclaredDependencyLinksDependents(t *testing.T) {
	// GIVEN B declares A before A exists
	g := New()
	require.NoError(t, g.AddNode(cpu("B", 1, "A")))
	require.NoError(t, g.AddNode(cpu("A", 1)))

	// THEN A learns about its dependent and the graph validates
	a, _ := g.Node("A")
	assert.Equal(t, []string{"B"}, a.Dependents())
	assert.NoError(t, g.Validate())
}

func TestValidate_MissingDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("B", 1, "ghost")))

	err := g.Validate()

	assert.ErrorIs(t, err, ErrNodeNotFound)
	var se *StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"B", "ghost"}, se.NodeIDs)
}

func TestAddNode_RejectsNodeClosingDeclaredCycle(t *testing.T) {
	// GIVEN A declares B before B exists
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1, "B")))

	// WHEN B arrives declaring A
	err := g.AddNode(cpu("B", 1, "A"))

	// THEN B is rejected with the cycle it would close and the graph is unchanged
	assert.ErrorIs(t, err, ErrCycleDetected)
	var se *StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"B", "A", "B"}, se.NodeIDs)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, -1, g.Index("B"))
	_, ok := g.Node("B")
	assert.False(t, ok)

	// AND a non-cyclic B can still be added afterwards
	require.NoError(t, g.AddNode(cpu("B", 1)))
	b, _ := g.Node("B")
	assert.Equal(t, []string{"A"}, b.Dependents())
	assert.NoError(t, g.Validate())
}

func TestAddNode_RejectsSelfDependency(t *testing.T) {
	g := New()
	err := g.AddNode(cpu("A", 1, "A"))
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Zero(t, g.Len())
}

func TestAddNode_RejectsRedirectCycle(t *testing.T) {
	// GIVEN r2 was redirected from r1, which is not in the graph yet
	g := New()
	r2 := fetch("r2", "https://a.test/")
	r2.Request.Redirects = []string{"r1"}
	require.NoError(t, g.AddNode(r2))

	// WHEN r1 arrives declaring r2
	err := g.AddNode(fetch("r1", "http://a.test/", "r2"))

	// THEN the derived redirect dependency closes the cycle
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Equal(t, 1, g.Len())
}

func TestValidate_CycleIntroducedAfterInsertion(t *testing.T) {
	// GIVEN B depends on A, then A is edited to depend on B directly
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	require.NoError(t, g.AddNode(cpu("B", 1, "A")))
	a, _ := g.Node("A")
	a.DependsOn = []string{"B"}

	// THEN Validate still catches it
	err := g.Validate()
	assert.ErrorIs(t, err, ErrCycleDetected)
	var se *StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"A", "B", "A"}, se.NodeIDs)
	_, err = g.TopologicalOrder()
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestRemoveDependency_ForwardDeclaredEdgeLeavesNoStaleDependent(t *testing.T) {
	// GIVEN B declares A before A exists
	g := New()
	require.NoError(t, g.AddNode(cpu("B", 1, "A")))

	// WHEN the edge is removed and A is then added
	g.RemoveDependency("B", "A")
	require.NoError(t, g.AddNode(cpu("A", 1)))

	// THEN A has no dependents and B no dependencies
	a, _ := g.Node("A")
	b, _ := g.Node("B")
	assert.Empty(t, a.Dependents())
	assert.Empty(t, b.Dependencies())
	assert.NoError(t, g.Validate())
}

func TestEffectiveDependencies_IncludesRedirectChain(t *testing.T) {
	// GIVEN r2 was redirected from r1, with no declared edge between them
	g := New()
	require.NoError(t, g.AddNode(fetch("r1", "http://a.test/")))
	r2 := fetch("r2", "https://a.test/")
	r2.Request.RedirectSource = "r1"
	r2.Request.Redirects = []string{"r1", "not-in-graph"}
	require.NoError(t, g.AddNode(r2))

	// THEN the redirect hop is a derived dependency, not a stored edge
	assert.Equal(t, []string{"r1"}, g.EffectiveDependencies("r2"))
	assert.Empty(t, r2.Dependencies())

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids(order))
}

func TestAddDependency_RedirectCycleRejected(t *testing.T) {
	// GIVEN r2 implicitly depends on r1 through its redirect chain
	g := New()
	require.NoError(t, g.AddNode(fetch("r1", "http://a.test/")))
	r2 := fetch("r2", "https://a.test/")
	r2.Request.RedirectSource = "r1"
	require.NoError(t, g.AddNode(r2))

	// WHEN r1 is made to depend on r2
	// THEN the derived dependency closes the cycle
	assert.ErrorIs(t, g.AddDependency("r1", "r2"), ErrCycleDetected)
}

func TestTopologicalOrder_TiesBrokenByInsertion(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("root", 1)))
	require.NoError(t, g.AddNode(cpu("c", 1, "root")))
	require.NoError(t, g.AddNode(cpu("a", 1, "root")))
	require.NoError(t, g.AddNode(cpu("b", 1, "a", "c")))

	order, err := g.TopologicalOrder()

	require.NoError(t, err)
	assert.Equal(t, []string{"root", "c", "a", "b"}, ids(order))
}

func TestTraverse_StopsOnError(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	require.NoError(t, g.AddNode(cpu("B", 1, "A")))
	stop := errors.New("stop")

	var seen []string
	err := g.Traverse(func(n *Node) error {
		seen = append(seen, n.ID)
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"A"}, seen)
}

func TestSubgraph_KeepsEdgesAmongKeptNodes(t *testing.T) {
	// GIVEN doc -> script -> eval, doc -> img
	g := New()
	doc := fetch("doc", "https://a.test/")
	doc.IsMainDocument = true
	require.NoError(t, g.AddNode(doc))
	require.NoError(t, g.AddNode(fetch("script", "https://a.test/app.js", "doc")))
	require.NoError(t, g.AddNode(cpu("eval", 10, "script")))
	require.NoError(t, g.AddNode(fetch("img", "https://cdn.test/x.png", "doc")))

	// WHEN only network nodes are kept
	sub, err := g.Subgraph(func(n *Node) bool { return n.Kind == KindNetwork })

	// THEN the cpu node and its edges are gone, the rest survive as clones
	require.NoError(t, err)
	assert.Equal(t, []string{"doc", "script", "img"}, ids(sub.Nodes()))
	subDoc, _ := sub.Node("doc")
	assert.NotSame(t, doc, subDoc)
	assert.True(t, subDoc.IsMainDocument)
	assert.ElementsMatch(t, []string{"script", "img"}, subDoc.Dependents())
	subScript, _ := sub.Node("script")
	assert.Empty(t, subScript.Dependents())
}

func TestIndex(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(cpu("A", 1)))
	require.NoError(t, g.AddNode(cpu("B", 1)))
	assert.Equal(t, 1, g.Index("B"))
	assert.Equal(t, -1, g.Index("Z"))
	assert.Equal(t, 2, g.Len())
}

// Every graph whose edges only point from later to earlier nodes is acyclic,
// and closing any back edge is rejected.
func TestGraph_AcyclicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 12).Draw(t, "nodes")
		g := New()
		names := make([]string, n)
		for i := range n {
			names[i] = string(rune('a' + i))
			if err := g.AddNode(cpu(names[i], 1)); err != nil {
				t.Fatalf("add node: %v", err)
			}
		}
		for i := 1; i < n; i++ {
			j := rapid.IntRange(0, i-1).Draw(t, "dep")
			if err := g.AddDependency(names[i], names[j]); err != nil {
				t.Fatalf("forward edge rejected: %v", err)
			}
		}
		if err := g.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		order, err := g.TopologicalOrder()
		if err != nil || len(order) != n {
			t.Fatalf("topological order: %v (%d nodes)", err, len(order))
		}
		pos := make(map[string]int, n)
		for i, node := range order {
			pos[node.ID] = i
		}
		for _, node := range order {
			for _, dep := range node.Dependencies() {
				if pos[dep] >= pos[node.ID] {
					t.Fatalf("%s ordered before its dependency %s", node.ID, dep)
				}
			}
		}
		closesCycle := g.pathBetween(names[n-1], names[0]) != nil
		err = g.AddDependency(names[0], names[n-1])
		if closesCycle != errors.Is(err, ErrCycleDetected) {
			t.Fatalf("back edge: closesCycle=%v, err=%v", closesCycle, err)
		}
	})
}

// Whatever order nodes with forward-declared dependencies arrive in, the
// nodes AddNode accepts never form a cycle.
func TestAddNode_AcceptedNodesStayAcyclicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "nodes")
		names := make([]string, n)
		for i := range n {
			names[i] = string(rune('a' + i))
		}
		g := New()
		for _, i := range rapid.Permutation(indices(n)).Draw(t, "order") {
			var deps []string
			for j := range n {
				if j != i && rapid.Bool().Draw(t, "edge") {
					deps = append(deps, names[j])
				}
			}
			err := g.AddNode(cpu(names[i], 1, deps...))
			if err != nil && !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("add %s: %v", names[i], err)
			}
		}
		// rejected nodes leave dangling declarations, so sort the present edges only
		if _, err := topo.Sort(g.dependencyGraph()); err != nil {
			t.Fatalf("accepted nodes form a cycle: %v", err)
		}
	})
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
