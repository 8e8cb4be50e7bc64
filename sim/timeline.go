package sim

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/inference-sim/pageload-sim/sim/graph"
)

// NodeTiming is the simulated schedule of one node, in milliseconds from the
// start of the simulation.
type NodeTiming struct {
	ID        string     `json:"id" yaml:"id"`
	Kind      graph.Kind `json:"kind" yaml:"kind"`
	ReadyTime float64    `json:"ready_time" yaml:"ready_time"` // all dependencies done
	StartTime float64    `json:"start_time" yaml:"start_time"` // resource allocated
	EndTime   float64    `json:"end_time" yaml:"end_time"`

	// Network nodes only. ConnectionID is 0 for connectionless fetches.
	ConnectionID int     `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	Handshake    float64 `json:"handshake,omitempty" yaml:"handshake,omitempty"`
}

// Duration is EndTime - StartTime.
func (t NodeTiming) Duration() float64 {
	return t.EndTime - t.StartTime
}

// QueuedTime is how long the node waited for a resource after becoming ready.
func (t NodeTiming) QueuedTime() float64 {
	return t.StartTime - t.ReadyTime
}

// Timeline is the result of one simulation. It is never mutated after
// Simulate returns.
type Timeline struct {
	NodeTimings []NodeTiming `json:"nodes" yaml:"nodes"` // graph insertion order
	TotalTime   float64      `json:"total_time" yaml:"total_time"`
	index       map[string]int
}

func newTimeline(timings []NodeTiming) *Timeline {
	tl := &Timeline{
		NodeTimings: timings,
		index:       make(map[string]int, len(timings)),
	}
	for i, t := range timings {
		tl.index[t.ID] = i
		tl.TotalTime = max(tl.TotalTime, t.EndTime)
	}
	return tl
}

// Timing looks up the schedule of one node.
func (tl *Timeline) Timing(id string) (NodeTiming, bool) {
	i, ok := tl.index[id]
	if !ok {
		return NodeTiming{}, false
	}
	return tl.NodeTimings[i], true
}

// Equal reports whether two timelines are identical, bit for bit.
func (tl *Timeline) Equal(other *Timeline) bool {
	if tl.TotalTime != other.TotalTime || len(tl.NodeTimings) != len(other.NodeTimings) {
		return false
	}
	for i := range tl.NodeTimings {
		if tl.NodeTimings[i] != other.NodeTimings[i] {
			return false
		}
	}
	return true
}

// Print writes a human-readable table of the timeline.
func (tl *Timeline) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tREADY\tSTART\tEND\tDURATION\tCONN")
	for _, t := range tl.NodeTimings {
		conn := "-"
		if t.ConnectionID > 0 {
			conn = fmt.Sprintf("%d", t.ConnectionID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			t.ID, t.Kind, t.ReadyTime, t.StartTime, t.EndTime, t.Duration(), conn)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%.2f\t\t\n", tl.TotalTime)
	return tw.Flush()
}
