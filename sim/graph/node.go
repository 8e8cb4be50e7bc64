// Package graph holds the page-load dependency graph: network fetches and
// main-thread CPU tasks connected by dependency edges.
//
// The package is pure data. It knows nothing about timing; the simulator in
// package sim reads node attributes and dispatches on Kind to cost each node.
package graph

import (
	"fmt"
	"math"
)

// Kind discriminates the two node variants.
type Kind string

const (
	KindNetwork Kind = "network"
	KindCPU     Kind = "cpu"
)

// TaskCategory classifies main-thread work. Layout tasks scale with their own
// multiplier under CPU throttling.
type TaskCategory string

const (
	TaskOrdinary TaskCategory = "ordinary"
	TaskLayout   TaskCategory = "layout"
)

// CPUTask is a bounded span of main-thread work. Times are in milliseconds.
type CPUTask struct {
	Name      string
	StartTime float64
	Duration  float64
	Category  TaskCategory
}

// Node is a unit of load-time work. Exactly one of Request and Task is set,
// selected by Kind.
//
// Edges are stored as node IDs and resolved through the owning Graph.
type Node struct {
	ID             string
	Kind           Kind
	Request        *NetworkRequest
	Task           *CPUTask
	IsMainDocument bool

	// DependsOn lists dependency IDs declared before the graph is assembled.
	// Graph.AddNode keeps them as-is; Graph.Validate resolves them.
	DependsOn []string

	dependents []string
}

// NewNetworkNode wraps a fetch record. The node ID is the request ID.
func NewNetworkNode(req *NetworkRequest) *Node {
	return &Node{ID: req.RequestID, Kind: KindNetwork, Request: req}
}

// NewCPUNode wraps a copy of a main-thread task. An empty category becomes
// TaskOrdinary on the copy.
func NewCPUNode(id string, task *CPUTask) *Node {
	t := *task
	if t.Category == "" {
		t.Category = TaskOrdinary
	}
	return &Node{ID: id, Kind: KindCPU, Task: &t}
}

// Dependencies returns the IDs this node must wait for.
func (n *Node) Dependencies() []string {
	return append([]string(nil), n.DependsOn...)
}

// Dependents returns the IDs waiting on this node.
func (n *Node) Dependents() []string {
	return append([]string(nil), n.dependents...)
}

// Origin returns the request origin for network nodes and "" otherwise.
func (n *Node) Origin() string {
	if n.Kind != KindNetwork || n.Request == nil {
		return ""
	}
	return n.Request.Origin()
}

// IsConnectionless reports whether a network node can be served without a
// connection: disk cached, or a non-network scheme. CPU nodes return false.
func (n *Node) IsConnectionless() bool {
	if n.Kind != KindNetwork || n.Request == nil {
		return false
	}
	return n.Request.FromDiskCache || n.Request.IsNonNetworkRequest()
}

// IsRenderBlocking reports whether the node gets scheduling preference.
func (n *Node) IsRenderBlocking() bool {
	if n.Kind != KindNetwork || n.Request == nil {
		return false
	}
	r := n.Request
	if r.Priority == PriorityVeryHigh {
		return true
	}
	isScript := r.ResourceType == ResourceScript
	isDocument := r.ResourceType == ResourceDocument
	return r.Priority == PriorityHigh && (isScript || isDocument)
}

// CloneWithoutRelationships copies the node's intrinsic attributes and drops
// every edge.
func (n *Node) CloneWithoutRelationships() *Node {
	c := &Node{
		ID:             n.ID,
		Kind:           n.Kind,
		IsMainDocument: n.IsMainDocument,
	}
	if n.Request != nil {
		c.Request = n.Request.clone()
	}
	if n.Task != nil {
		t := *n.Task
		c.Task = &t
	}
	return c
}

func (n *Node) String() string {
	return fmt.Sprintf("Node: (ID: %s, Kind: %s, Dependencies: %v)", n.ID, n.Kind, n.DependsOn)
}

func (n *Node) validateVariant() error {
	switch n.Kind {
	case KindNetwork:
		if n.Request == nil {
			return fmt.Errorf("network node %q has no request", n.ID)
		}
	case KindCPU:
		if n.Task == nil {
			return fmt.Errorf("cpu node %q has no task", n.ID)
		}
		if math.IsNaN(n.Task.Duration) || math.IsInf(n.Task.Duration, 0) {
			return fmt.Errorf("cpu node %q has non-finite duration %f", n.ID, n.Task.Duration)
		}
	default:
		return fmt.Errorf("node %q has unknown kind %q", n.ID, n.Kind)
	}
	return nil
}
