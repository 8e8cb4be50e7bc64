// Package network holds per-origin latency and throughput characteristics,
// either observed from a recorded trace or restored from a precomputed snapshot.
package network

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Analysis is the network statistics extracted from a recorded trace.
// Latencies are milliseconds; Throughput is bits per second.
type Analysis struct {
	RTT                        float64            `yaml:"rtt" json:"rtt"`
	Throughput                 float64            `yaml:"throughput" json:"throughput"`
	AdditionalRTTByOrigin      map[string]float64 `yaml:"additionalRttByOrigin" json:"additionalRttByOrigin"`
	ServerResponseTimeByOrigin map[string]float64 `yaml:"serverResponseTimeByOrigin" json:"serverResponseTimeByOrigin"`
}

// Clone returns a deep copy.
func (a *Analysis) Clone() *Analysis {
	c := *a
	c.AdditionalRTTByOrigin = maps.Clone(a.AdditionalRTTByOrigin)
	c.ServerResponseTimeByOrigin = maps.Clone(a.ServerResponseTimeByOrigin)
	return &c
}

// Source produces an Analysis. Extraction from a trace is done by an
// external collaborator and may block, so callers pass a context.
type Source interface {
	Analyze(ctx context.Context) (*Analysis, error)
}

// StaticSource serves a fixed, already-computed analysis.
type StaticSource struct {
	Analysis *Analysis
}

func (s StaticSource) Analyze(ctx context.Context) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Analysis == nil {
		return nil, fmt.Errorf("static source has no analysis")
	}
	return s.Analysis.Clone(), nil
}

// FileSource reads an analysis from a YAML or JSON file on each call.
type FileSource struct {
	Path string
}

func (s FileSource) Analyze(ctx context.Context) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadAnalysis(s.Path)
}

// LoadAnalysis reads and parses a network analysis file. JSON is accepted
// because it is a subset of YAML. Unknown fields are rejected.
func LoadAnalysis(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network analysis: %w", err)
	}
	var a Analysis
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&a); err != nil {
		return nil, fmt.Errorf("parsing network analysis: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network analysis %s: %w", path, err)
	}
	return &a, nil
}

// Validate rejects negative or non-finite latencies and throughput.
func (a *Analysis) Validate() error {
	if !isFiniteNonNegative(a.RTT) {
		return fmt.Errorf("rtt must be non-negative and finite, got %f", a.RTT)
	}
	if !isFiniteNonNegative(a.Throughput) {
		return fmt.Errorf("throughput must be non-negative and finite, got %f", a.Throughput)
	}
	return validateOrigins(a.AdditionalRTTByOrigin, a.ServerResponseTimeByOrigin)
}

func validateOrigins(additionalRTT, serverResponseTime map[string]float64) error {
	for origin, v := range additionalRTT {
		if !isFiniteNonNegative(v) {
			return fmt.Errorf("additional rtt for %s must be non-negative and finite, got %f", origin, v)
		}
	}
	for origin, v := range serverResponseTime {
		if !isFiniteNonNegative(v) {
			return fmt.Errorf("server response time for %s must be non-negative and finite, got %f", origin, v)
		}
	}
	return nil
}

// isFiniteNonNegative is false for NaN, which fails every comparison.
func isFiniteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
