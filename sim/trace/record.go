// Package trace provides scheduling-decision recording for page-load simulations.
// It has no dependencies on sim/ or sim/graph/ and stores pure data types.
package trace

// Resource names the simulated resource a node was allocated.
type Resource string

const (
	ResourceConnection Resource = "connection"
	ResourceCPU        Resource = "cpu"
	ResourceNone       Resource = "none" // connectionless fetches
)

// AllocationRecord captures a node leaving the ready queue.
type AllocationRecord struct {
	NodeID         string
	Clock          float64
	Resource       Resource
	Origin         string
	ConnectionID   int
	Reused         bool    // warm connection, no handshake charged
	Handshake      float64 // DNS + TCP + TLS charged on this allocation
	RenderBlocking bool
}

// DeferralRecord captures the first time a ready node could not be allocated.
type DeferralRecord struct {
	NodeID string
	Clock  float64
	Reason string
}

// CompletionRecord captures a node finishing.
type CompletionRecord struct {
	NodeID string
	Clock  float64
}
