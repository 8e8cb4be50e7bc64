package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/pageload-sim/sim/graph"
)

// GraphFile is the on-disk form of a page-load graph.
//
//	nodes:
//	  - id: "1000.1"
//	    kind: network
//	    main_document: true
//	    request: {url: "https://example.com/", resource_type: Document, priority: VeryHigh, transfer_size: 14000}
//	  - id: parse
//	    kind: cpu
//	    depends_on: ["1000.1"]
//	    task: {name: ParseHTML, duration: 40}
type GraphFile struct {
	Nodes []NodeSpec `yaml:"nodes"`
}

// NodeSpec describes one node. Exactly one of Request or Task is set,
// matching Kind.
type NodeSpec struct {
	ID           string       `yaml:"id"`
	Kind         graph.Kind   `yaml:"kind"`
	MainDocument bool         `yaml:"main_document"`
	DependsOn    []string     `yaml:"depends_on"`
	Request      *RequestSpec `yaml:"request"`
	Task         *TaskSpec    `yaml:"task"`
}

// RequestSpec mirrors graph.NetworkRequest. The request ID is the node ID.
type RequestSpec struct {
	URL                 string             `yaml:"url"`
	InitiatorType       string             `yaml:"initiator_type"`
	StartTime           float64            `yaml:"start_time"`
	EndTime             float64            `yaml:"end_time"`
	ResourceType        graph.ResourceType `yaml:"resource_type"`
	Priority            graph.Priority     `yaml:"priority"`
	TransferSize        int64              `yaml:"transfer_size"`
	FromDiskCache       bool               `yaml:"from_disk_cache"`
	FromMemoryCache     bool               `yaml:"from_memory_cache"`
	FromPrefetchCache   bool               `yaml:"from_prefetch_cache"`
	RedirectSource      string             `yaml:"redirect_source"`
	RedirectDestination string             `yaml:"redirect_destination"`
	Redirects           []string           `yaml:"redirects"`
}

// TaskSpec mirrors graph.CPUTask.
type TaskSpec struct {
	Name      string             `yaml:"name"`
	StartTime float64            `yaml:"start_time"`
	Duration  float64            `yaml:"duration"`
	Category  graph.TaskCategory `yaml:"category"`
}

// LoadGraph reads a graph file and assembles the graph. A node that closes a
// cycle is rejected here; unknown dependencies are left for the simulator to
// report.
func LoadGraph(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph: %w", err)
	}
	var gf GraphFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&gf); err != nil {
		return nil, fmt.Errorf("parsing graph %s: %w", path, err)
	}
	return gf.Build()
}

// Build converts the file form into a graph in file order.
func (gf *GraphFile) Build() (*graph.Graph, error) {
	g := graph.New()
	for i, spec := range gf.Nodes {
		n, err := spec.node()
		if err != nil {
			return nil, fmt.Errorf("node %d (%q): %w", i, spec.ID, err)
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s NodeSpec) node() (*graph.Node, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	var n *graph.Node
	switch s.Kind {
	case graph.KindNetwork:
		if s.Request == nil {
			return nil, fmt.Errorf("network node without request")
		}
		r := s.Request
		n = graph.NewNetworkNode(&graph.NetworkRequest{
			RequestID:           s.ID,
			URL:                 r.URL,
			InitiatorType:       r.InitiatorType,
			StartTime:           r.StartTime,
			EndTime:             r.EndTime,
			ResourceType:        r.ResourceType,
			Priority:            r.Priority,
			TransferSize:        r.TransferSize,
			FromDiskCache:       r.FromDiskCache,
			FromMemoryCache:     r.FromMemoryCache,
			FromPrefetchCache:   r.FromPrefetchCache,
			RedirectSource:      r.RedirectSource,
			RedirectDestination: r.RedirectDestination,
			Redirects:           r.Redirects,
		})
	case graph.KindCPU:
		if s.Task == nil {
			return nil, fmt.Errorf("cpu node without task")
		}
		n = graph.NewCPUNode(s.ID, &graph.CPUTask{
			Name:      s.Task.Name,
			StartTime: s.Task.StartTime,
			Duration:  s.Task.Duration,
			Category:  s.Task.Category,
		})
	default:
		return nil, fmt.Errorf("unknown node kind %q", s.Kind)
	}
	n.IsMainDocument = s.MainDocument
	n.DependsOn = s.DependsOn
	return n, nil
}
