package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/pageload-sim/sim"
	"github.com/inference-sim/pageload-sim/sim/network"
	"github.com/inference-sim/pageload-sim/sim/throttling"
	"github.com/inference-sim/pageload-sim/sim/trace"
)

// RunConfig is the settings file of the run command.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
//
//	method: simulate
//	throttling:
//	  rtt_ms: 150
//	  throughput_kbps: 1638.4
//	  cpu_slowdown_multiplier: 4
//	snapshot: lantern-snapshot.json
//	engine:
//	  max_connections_per_origin: 6
type RunConfig struct {
	throttling.Settings `yaml:",inline"`

	AnalysisPath string      `yaml:"analysis"` // overridden by --analysis
	SnapshotPath string      `yaml:"snapshot"` // relative to the settings file
	Trace        string      `yaml:"trace"`
	Engine       sim.Options `yaml:"engine"` // starts from sim.DefaultOptions; listed fields override
}

// LoadRunConfig reads a settings file. An empty path yields the engine
// defaults with no throttling method. The snapshot, if named, is loaded too.
func LoadRunConfig(path string) (*RunConfig, error) {
	cfg := &RunConfig{Engine: sim.DefaultOptions()}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	// Strict parsing: a typo in a field name must fail, not silently use a default
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	if cfg.SnapshotPath != "" {
		snap, err := network.LoadSnapshot(relativeTo(path, cfg.SnapshotPath))
		if err != nil {
			return nil, err
		}
		cfg.Snapshot = snap
	}
	if cfg.AnalysisPath != "" {
		cfg.AnalysisPath = relativeTo(path, cfg.AnalysisPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the throttling settings, trace level and engine defaults.
func (c *RunConfig) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if !trace.IsValidTraceLevel(c.Trace) {
		return fmt.Errorf("unknown trace level %q", c.Trace)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// relativeTo resolves p against the directory of the file that names it.
func relativeTo(file, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(file), p)
}
