package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is the persisted per-origin timing data reused across runs for
// stability. It never carries throughput.
type Snapshot struct {
	AdditionalRTTByOrigin      map[string]float64 `yaml:"additionalRttByOrigin" json:"additionalRttByOrigin"`
	ServerResponseTimeByOrigin map[string]float64 `yaml:"serverResponseTimeByOrigin" json:"serverResponseTimeByOrigin"`
}

// ExportSnapshot keeps only origins with a network scheme; pseudo-origins
// such as "data:" are dropped.
func ExportSnapshot(a *Analysis) *Snapshot {
	s := &Snapshot{
		AdditionalRTTByOrigin:      make(map[string]float64),
		ServerResponseTimeByOrigin: make(map[string]float64),
	}
	for origin, v := range a.AdditionalRTTByOrigin {
		if strings.HasPrefix(origin, "http") {
			s.AdditionalRTTByOrigin[origin] = v
		}
	}
	for origin, v := range a.ServerResponseTimeByOrigin {
		if strings.HasPrefix(origin, "http") {
			s.ServerResponseTimeByOrigin[origin] = v
		}
	}
	return s
}

// WriteSnapshot encodes s as indented JSON. encoding/json sorts map keys, so
// the output is stable.
func WriteSnapshot(w io.Writer, s *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot file written by WriteSnapshot (or the YAML
// equivalent).
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var s Snapshot
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	return &s, nil
}

// Validate rejects negative or non-finite per-origin values.
func (s *Snapshot) Validate() error {
	return validateOrigins(s.AdditionalRTTByOrigin, s.ServerResponseTimeByOrigin)
}
