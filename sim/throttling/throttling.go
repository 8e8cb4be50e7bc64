// Package throttling builds simulator Options from a throttling method, its
// parameters, and the observed network analysis.
//
// Each method is a total override of RTT, throughput and the CPU multipliers;
// values are never merged across methods. A precomputed snapshot, when given,
// replaces the observed per-origin maps under every method.
package throttling

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pageload-sim/sim"
	"github.com/inference-sim/pageload-sim/sim/network"
)

// Method selects how network and CPU throttling are modelled.
type Method string

const (
	// MethodProvided simulates the observed conditions with no CPU slowdown.
	MethodProvided Method = "provided"
	// MethodDevtools reverses the latency and bandwidth the browser applied.
	MethodDevtools Method = "devtools"
	// MethodSimulate applies the configured RTT, throughput and CPU slowdown.
	MethodSimulate Method = "simulate"
)

// Browser-applied throttling adds latency per request and loses some
// bandwidth to overhead; these factors convert its settings back to link
// characteristics.
const (
	DevtoolsRTTAdjustmentFactor        = 3.75
	DevtoolsThroughputAdjustmentFactor = 0.9
)

// validMethods is the set of recognized method names.
var validMethods = map[Method]bool{
	MethodProvided: true,
	MethodDevtools: true,
	MethodSimulate: true,
}

// ValidMethodNames returns the recognized method names, sorted.
func ValidMethodNames() []string {
	names := make([]string, 0, len(validMethods))
	for m := range validMethods {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return names
}

// Params holds the numeric throttling settings. Nil fields mean "not set";
// the builder falls back to the engine default for each one.
type Params struct {
	RTTMs                  *float64 `yaml:"rtt_ms"`
	ThroughputKbps         *float64 `yaml:"throughput_kbps"`
	RequestLatencyMs       *float64 `yaml:"request_latency_ms"`
	DownloadThroughputKbps *float64 `yaml:"download_throughput_kbps"`
	UploadThroughputKbps   *float64 `yaml:"upload_throughput_kbps"` // accepted, not simulated
	CPUSlowdownMultiplier  *float64 `yaml:"cpu_slowdown_multiplier"`
}

// Validate checks parameter ranges of the fields that are set.
func (p *Params) Validate() error {
	if p == nil {
		return nil
	}
	nonNegative := []struct {
		name  string
		value *float64
	}{
		{"rtt_ms", p.RTTMs},
		{"throughput_kbps", p.ThroughputKbps},
		{"request_latency_ms", p.RequestLatencyMs},
		{"download_throughput_kbps", p.DownloadThroughputKbps},
		{"upload_throughput_kbps", p.UploadThroughputKbps},
	}
	for _, f := range nonNegative {
		if f.value != nil && (!(*f.value >= 0) || math.IsInf(*f.value, 1)) {
			return fmt.Errorf("%s must be non-negative and finite, got %f", f.name, *f.value)
		}
	}
	if v := p.CPUSlowdownMultiplier; v != nil && (!(*v > 0) || math.IsInf(*v, 1)) {
		return fmt.Errorf("cpu_slowdown_multiplier must be positive and finite, got %f", *v)
	}
	return nil
}

// Settings selects a method and carries its inputs.
type Settings struct {
	Method   Method            `yaml:"method"`
	Params   *Params           `yaml:"throttling"`
	Snapshot *network.Snapshot `yaml:"-"`
}

// Validate checks parameter ranges. The method name is not checked here: an
// empty or unrecognized method resolves to the engine defaults in BuildOptions.
func (s *Settings) Validate() error {
	return s.Params.Validate()
}

// BuildOptions resolves Options for one simulation. It never fails: missing
// parameters and unrecognized methods fall back to defaults with a warning.
func BuildOptions(method Method, params *Params, analysis *network.Analysis, snapshot *network.Snapshot, defaults sim.Options) sim.Options {
	model := network.NewModel(analysis, snapshot)

	opts := defaults.Clone()
	opts.AdditionalRTTByOrigin = model.AdditionalRTTByOrigin()
	opts.ServerResponseTimeByOrigin = model.ServerResponseTimeByOrigin()
	opts.ObservedThroughput = model.Throughput()
	if model.FromSnapshot() {
		logrus.Debugf("Using precomputed snapshot: %d origins with RTT, %d with response time",
			len(opts.AdditionalRTTByOrigin), len(opts.ServerResponseTimeByOrigin))
	}

	if params == nil {
		params = &Params{}
	}
	switch method {
	case MethodProvided:
		opts.RTT = model.RTT()
		opts.Throughput = model.Throughput()
		opts.CPUSlowdownMultiplier = 1
		opts.LayoutTaskMultiplier = 1
	case MethodDevtools:
		if v, ok := param(method, "request_latency_ms", params.RequestLatencyMs); ok {
			opts.RTT = v / DevtoolsRTTAdjustmentFactor
		}
		if v, ok := param(method, "download_throughput_kbps", params.DownloadThroughputKbps); ok {
			opts.Throughput = v * 1024 / DevtoolsThroughputAdjustmentFactor
		}
		opts.CPUSlowdownMultiplier = 1
		opts.LayoutTaskMultiplier = 1
	case MethodSimulate:
		if v, ok := param(method, "rtt_ms", params.RTTMs); ok {
			opts.RTT = v
		}
		if v, ok := param(method, "throughput_kbps", params.ThroughputKbps); ok {
			opts.Throughput = v * 1024
		}
		if v, ok := param(method, "cpu_slowdown_multiplier", params.CPUSlowdownMultiplier); ok {
			opts.CPUSlowdownMultiplier = v
		}
	default:
		logrus.Warnf("Unrecognized throttling method %q, using engine defaults. Valid methods: %v", method, ValidMethodNames())
	}

	logrus.Debugf("Options for %q: rtt=%.2fms throughput=%.0fbps cpu=%.2fx layout=%.2fx",
		method, opts.RTT, opts.Throughput, opts.CPUSlowdownMultiplier, opts.LayoutTaskMultiplier)
	return opts
}

func param(method Method, name string, v *float64) (float64, bool) {
	if v == nil {
		logrus.Warnf("Throttling method %q without %s, using engine default", method, name)
		return 0, false
	}
	return *v, true
}

// Build awaits the network analysis and then resolves Options. Only the
// analysis error is returned.
func Build(ctx context.Context, s Settings, source network.Source, defaults sim.Options) (sim.Options, error) {
	analysis, err := source.Analyze(ctx)
	if err != nil {
		return sim.Options{}, fmt.Errorf("analyzing network: %w", err)
	}
	return BuildOptions(s.Method, s.Params, analysis, s.Snapshot, defaults), nil
}
