package sim

import (
	"fmt"
	"maps"
	"math"
)

// Options is the flat parameter set the engine consumes. Latencies are in
// milliseconds and throughputs in bits per second.
//
// An Options value is built once per run (see package throttling) and treated
// as immutable; NewSimulator keeps its own copy.
type Options struct {
	RTT                        float64            `yaml:"rtt"`
	Throughput                 float64            `yaml:"throughput"` // <= 0 disables bandwidth throttling
	ObservedThroughput         float64            `yaml:"observed_throughput"`
	AdditionalRTTByOrigin      map[string]float64 `yaml:"additional_rtt_by_origin"`
	ServerResponseTimeByOrigin map[string]float64 `yaml:"server_response_time_by_origin"`
	CPUSlowdownMultiplier      float64            `yaml:"cpu_slowdown_multiplier"`
	LayoutTaskMultiplier       float64            `yaml:"layout_task_multiplier"` // applied on top of CPUSlowdownMultiplier
	MaxConcurrentRequests      int                `yaml:"max_concurrent_requests"`
	MaxConnectionsPerOrigin    int                `yaml:"max_connections_per_origin"`
	DefaultServerResponseTime  float64            `yaml:"default_server_response_time"`
	DNSResolutionRTTMultiplier float64            `yaml:"dns_resolution_rtt_multiplier"`
	MaxCPUTaskDuration         float64            `yaml:"max_cpu_task_duration"`
}

// DefaultOptionsConfig holds the engine defaults: a slow 4G mobile link with
// a 4x CPU slowdown. The run command can override any field from YAML.
var DefaultOptionsConfig = Options{
	RTT:                        150,
	Throughput:                 1.6 * 1024 * 1024,
	CPUSlowdownMultiplier:      4,
	LayoutTaskMultiplier:       0.5,
	MaxConcurrentRequests:      10,
	MaxConnectionsPerOrigin:    6,
	DefaultServerResponseTime:  30,
	DNSResolutionRTTMultiplier: 2,
	MaxCPUTaskDuration:         10000,
}

// DefaultOptions returns a copy of DefaultOptionsConfig with empty per-origin maps.
func DefaultOptions() Options {
	o := DefaultOptionsConfig.Clone()
	if o.AdditionalRTTByOrigin == nil {
		o.AdditionalRTTByOrigin = make(map[string]float64)
	}
	if o.ServerResponseTimeByOrigin == nil {
		o.ServerResponseTimeByOrigin = make(map[string]float64)
	}
	return o
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	o.AdditionalRTTByOrigin = maps.Clone(o.AdditionalRTTByOrigin)
	o.ServerResponseTimeByOrigin = maps.Clone(o.ServerResponseTimeByOrigin)
	return o
}

// Validate checks parameter ranges. NaN fails every comparison, so the
// checks are written to reject it rather than let it through.
func (o Options) Validate() error {
	if !nonNegative(o.RTT) {
		return fmt.Errorf("rtt must be non-negative and finite, got %f", o.RTT)
	}
	if !finite(o.Throughput) {
		return fmt.Errorf("throughput must be finite, got %f", o.Throughput)
	}
	if !finite(o.ObservedThroughput) {
		return fmt.Errorf("observed_throughput must be finite, got %f", o.ObservedThroughput)
	}
	if !positive(o.CPUSlowdownMultiplier) {
		return fmt.Errorf("cpu_slowdown_multiplier must be positive and finite, got %f", o.CPUSlowdownMultiplier)
	}
	if !positive(o.LayoutTaskMultiplier) {
		return fmt.Errorf("layout_task_multiplier must be positive and finite, got %f", o.LayoutTaskMultiplier)
	}
	if o.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be positive, got %d", o.MaxConcurrentRequests)
	}
	if o.MaxConnectionsPerOrigin <= 0 {
		return fmt.Errorf("max_connections_per_origin must be positive, got %d", o.MaxConnectionsPerOrigin)
	}
	if !nonNegative(o.DefaultServerResponseTime) {
		return fmt.Errorf("default_server_response_time must be non-negative and finite, got %f", o.DefaultServerResponseTime)
	}
	if !nonNegative(o.DNSResolutionRTTMultiplier) {
		return fmt.Errorf("dns_resolution_rtt_multiplier must be non-negative and finite, got %f", o.DNSResolutionRTTMultiplier)
	}
	if !positive(o.MaxCPUTaskDuration) {
		return fmt.Errorf("max_cpu_task_duration must be positive and finite, got %f", o.MaxCPUTaskDuration)
	}
	for origin, v := range o.AdditionalRTTByOrigin {
		if !nonNegative(v) {
			return fmt.Errorf("additional rtt for %s must be non-negative and finite, got %f", origin, v)
		}
	}
	for origin, v := range o.ServerResponseTimeByOrigin {
		if !nonNegative(v) {
			return fmt.Errorf("server response time for %s must be non-negative and finite, got %f", origin, v)
		}
	}
	return nil
}

func finite(v float64) bool      { return !math.IsNaN(v) && !math.IsInf(v, 0) }
func nonNegative(v float64) bool { return v >= 0 && finite(v) }
func positive(v float64) bool    { return v > 0 && finite(v) }

// connectionRTT is the round trip to origin: baseline plus the origin's addend.
func (o *Options) connectionRTT(origin string) float64 {
	return o.RTT + o.AdditionalRTTByOrigin[origin]
}

func (o *Options) serverResponseTime(origin string) float64 {
	if v, ok := o.ServerResponseTimeByOrigin[origin]; ok {
		return v
	}
	return o.DefaultServerResponseTime
}
