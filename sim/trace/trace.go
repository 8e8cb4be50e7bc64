package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures allocations, deferrals and completions.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// Enabled reports whether records should be collected.
func (c TraceConfig) Enabled() bool {
	return c.Level == TraceLevelDecisions
}

// SimulationTrace collects decision records during one simulation run.
type SimulationTrace struct {
	Config      TraceConfig
	Allocations []AllocationRecord
	Deferrals   []DeferralRecord
	Completions []CompletionRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Allocations: make([]AllocationRecord, 0),
		Deferrals:   make([]DeferralRecord, 0),
		Completions: make([]CompletionRecord, 0),
	}
}

// RecordAllocation appends an allocation record.
func (st *SimulationTrace) RecordAllocation(record AllocationRecord) {
	st.Allocations = append(st.Allocations, record)
}

// RecordDeferral appends a deferral record.
func (st *SimulationTrace) RecordDeferral(record DeferralRecord) {
	st.Deferrals = append(st.Deferrals, record)
}

// RecordCompletion appends a completion record.
func (st *SimulationTrace) RecordCompletion(record CompletionRecord) {
	st.Completions = append(st.Completions, record)
}
