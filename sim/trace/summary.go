package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalAllocations   int
	ConnectionsOpened  int
	ConnectionsReused  int
	CPUAllocations     int
	Connectionless     int
	DeferredNodes      int
	TotalHandshake     float64
	DeferralReasons    map[string]int // reason → count
	OriginDistribution map[string]int // origin → connection-bound allocations
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		DeferralReasons:    make(map[string]int),
		OriginDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalAllocations = len(st.Allocations)
	for _, a := range st.Allocations {
		switch a.Resource {
		case ResourceConnection:
			if a.Reused {
				summary.ConnectionsReused++
			} else {
				summary.ConnectionsOpened++
			}
			summary.TotalHandshake += a.Handshake
			summary.OriginDistribution[a.Origin]++
		case ResourceCPU:
			summary.CPUAllocations++
		case ResourceNone:
			summary.Connectionless++
		}
	}

	summary.DeferredNodes = len(st.Deferrals)
	for _, d := range st.Deferrals {
		summary.DeferralReasons[d.Reason]++
	}

	return summary
}
