package network

import "maps"

// Model resolves the per-origin timing the simulator should assume.
// Snapshot RTT and response-time maps, when present, replace the observed
// maps wholesale; throughput always comes from the observed analysis.
type Model struct {
	rtt                float64
	throughput         float64
	additionalRTT      map[string]float64
	serverResponseTime map[string]float64
	fromSnapshot       bool
}

// NewModel combines observed statistics with an optional snapshot.
func NewModel(a *Analysis, snapshot *Snapshot) *Model {
	m := &Model{
		rtt:                a.RTT,
		throughput:         a.Throughput,
		additionalRTT:      maps.Clone(a.AdditionalRTTByOrigin),
		serverResponseTime: maps.Clone(a.ServerResponseTimeByOrigin),
	}
	if snapshot != nil {
		m.additionalRTT = maps.Clone(snapshot.AdditionalRTTByOrigin)
		m.serverResponseTime = maps.Clone(snapshot.ServerResponseTimeByOrigin)
		m.fromSnapshot = true
	}
	if m.additionalRTT == nil {
		m.additionalRTT = make(map[string]float64)
	}
	if m.serverResponseTime == nil {
		m.serverResponseTime = make(map[string]float64)
	}
	return m
}

// RTT is the observed baseline round-trip time.
func (m *Model) RTT() float64 { return m.rtt }

// Throughput is the observed throughput in bits per second.
func (m *Model) Throughput() float64 { return m.throughput }

// FromSnapshot reports whether per-origin values came from a snapshot.
func (m *Model) FromSnapshot() bool { return m.fromSnapshot }

// AdditionalRTTByOrigin returns a copy of the resolved RTT map.
func (m *Model) AdditionalRTTByOrigin() map[string]float64 {
	return maps.Clone(m.additionalRTT)
}

// ServerResponseTimeByOrigin returns a copy of the resolved response-time map.
func (m *Model) ServerResponseTimeByOrigin() map[string]float64 {
	return maps.Clone(m.serverResponseTime)
}
