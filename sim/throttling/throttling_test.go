package throttling

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pageload-sim/sim"
	"github.com/inference-sim/pageload-sim/sim/network"
)

// captureLogOutput runs fn and returns the log output as a string.
func captureLogOutput(fn func()) string {
	var buf bytes.Buffer
	origOutput := logrus.StandardLogger().Out
	origLevel := logrus.GetLevel()
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.WarnLevel)
	defer func() {
		if origOutput != nil {
			logrus.SetOutput(origOutput)
		} else {
			logrus.SetOutput(os.Stderr)
		}
		logrus.SetLevel(origLevel)
	}()
	fn()
	return buf.String()
}

func ptr(v float64) *float64 { return &v }

func observed() *network.Analysis {
	return &network.Analysis{
		RTT:                        12,
		Throughput:                 8_000_000,
		AdditionalRTTByOrigin:      map[string]float64{"https://example.com": 5},
		ServerResponseTimeByOrigin: map[string]float64{"https://example.com": 80},
	}
}

func TestBuildOptions_Provided_UsesObservedWithoutSlowdown(t *testing.T) {
	opts := BuildOptions(MethodProvided, nil, observed(), nil, sim.DefaultOptions())

	assert.Equal(t, 12.0, opts.RTT)
	assert.Equal(t, 8_000_000.0, opts.Throughput)
	assert.Equal(t, 1.0, opts.CPUSlowdownMultiplier)
	assert.Equal(t, 1.0, opts.LayoutTaskMultiplier)
	assert.Equal(t, 5.0, opts.AdditionalRTTByOrigin["https://example.com"])
	assert.Equal(t, 80.0, opts.ServerResponseTimeByOrigin["https://example.com"])
}

func TestBuildOptions_Devtools_ReversesBrowserThrottling(t *testing.T) {
	// GIVEN browser throttling of 150ms latency and 1600kbps download
	params := &Params{RequestLatencyMs: ptr(150), DownloadThroughputKbps: ptr(1600)}

	// WHEN options are built
	opts := BuildOptions(MethodDevtools, params, observed(), nil, sim.DefaultOptions())

	// THEN latency and throughput are divided by the adjustment factors
	assert.InDelta(t, 40, opts.RTT, 1e-9)
	assert.InDelta(t, 1600*1024/0.9, opts.Throughput, 1e-6)
	assert.Equal(t, 1.0, opts.CPUSlowdownMultiplier)
	assert.Equal(t, 1.0, opts.LayoutTaskMultiplier)
}

func TestBuildOptions_Simulate_AppliesConfiguredValues(t *testing.T) {
	params := &Params{RTTMs: ptr(150), ThroughputKbps: ptr(1638.4), CPUSlowdownMultiplier: ptr(4)}
	defaults := sim.DefaultOptions()

	opts := BuildOptions(MethodSimulate, params, observed(), nil, defaults)

	assert.Equal(t, 150.0, opts.RTT)
	assert.InDelta(t, 1638.4*1024, opts.Throughput, 1e-6)
	assert.Equal(t, 4.0, opts.CPUSlowdownMultiplier)
	assert.Equal(t, defaults.LayoutTaskMultiplier, opts.LayoutTaskMultiplier)
	assert.Equal(t, 8_000_000.0, opts.ObservedThroughput)
}

func TestBuildOptions_SnapshotWinsUnderEveryMethod(t *testing.T) {
	snap := &network.Snapshot{
		AdditionalRTTByOrigin:      map[string]float64{"https://example.com": 40},
		ServerResponseTimeByOrigin: map[string]float64{"https://example.com": 10},
	}
	params := &Params{
		RTTMs: ptr(150), ThroughputKbps: ptr(1600), CPUSlowdownMultiplier: ptr(4),
		RequestLatencyMs: ptr(150), DownloadThroughputKbps: ptr(1600),
	}
	for _, m := range []Method{MethodProvided, MethodDevtools, MethodSimulate, "bogus"} {
		t.Run(string(m), func(t *testing.T) {
			// GIVEN observed extra RTT 5ms and a snapshot saying 40ms
			var opts sim.Options
			captureLogOutput(func() {
				opts = BuildOptions(m, params, observed(), snap, sim.DefaultOptions())
			})

			// THEN the snapshot value is used and throughput stays observed
			assert.Equal(t, 40.0, opts.AdditionalRTTByOrigin["https://example.com"])
			assert.Equal(t, 10.0, opts.ServerResponseTimeByOrigin["https://example.com"])
			assert.Equal(t, 8_000_000.0, opts.ObservedThroughput)
		})
	}
}

func TestBuildOptions_UnrecognizedMethodFallsBackToDefaults(t *testing.T) {
	defaults := sim.DefaultOptions()
	var opts sim.Options

	output := captureLogOutput(func() {
		opts = BuildOptions("lighthouse", &Params{RTTMs: ptr(1)}, observed(), nil, defaults)
	})

	assert.Contains(t, output, "Unrecognized throttling method")
	assert.Equal(t, defaults.RTT, opts.RTT)
	assert.Equal(t, defaults.Throughput, opts.Throughput)
	assert.Equal(t, defaults.CPUSlowdownMultiplier, opts.CPUSlowdownMultiplier)
	assert.Equal(t, defaults.LayoutTaskMultiplier, opts.LayoutTaskMultiplier)
	// per-origin maps still come from the analysis
	assert.Equal(t, 5.0, opts.AdditionalRTTByOrigin["https://example.com"])
}

func TestBuildOptions_MissingParamsFallBackPerField(t *testing.T) {
	defaults := sim.DefaultOptions()
	var opts sim.Options

	output := captureLogOutput(func() {
		opts = BuildOptions(MethodSimulate, &Params{RTTMs: ptr(70)}, observed(), nil, defaults)
	})

	assert.Equal(t, 70.0, opts.RTT)
	assert.Equal(t, defaults.Throughput, opts.Throughput)
	assert.Equal(t, defaults.CPUSlowdownMultiplier, opts.CPUSlowdownMultiplier)
	assert.Contains(t, output, "throughput_kbps")
	assert.Contains(t, output, "cpu_slowdown_multiplier")

	// devtools without params still disables CPU slowdown
	captureLogOutput(func() {
		opts = BuildOptions(MethodDevtools, nil, observed(), nil, defaults)
	})
	assert.Equal(t, defaults.RTT, opts.RTT)
	assert.Equal(t, 1.0, opts.CPUSlowdownMultiplier)
}

func TestBuildOptions_DoesNotAliasInputs(t *testing.T) {
	a := observed()
	defaults := sim.DefaultOptions()
	opts := BuildOptions(MethodProvided, nil, a, nil, defaults)

	opts.AdditionalRTTByOrigin["https://example.com"] = 999
	assert.Equal(t, 5.0, a.AdditionalRTTByOrigin["https://example.com"])
	assert.Empty(t, defaults.AdditionalRTTByOrigin)
}

func TestBuildOptions_ResultIsValidForTheEngine(t *testing.T) {
	for _, m := range []Method{MethodProvided, MethodDevtools, MethodSimulate} {
		params := &Params{RTTMs: ptr(150), ThroughputKbps: ptr(1600), CPUSlowdownMultiplier: ptr(4),
			RequestLatencyMs: ptr(562.5), DownloadThroughputKbps: ptr(1474.56)}
		opts := BuildOptions(m, params, observed(), nil, sim.DefaultOptions())
		_, err := sim.NewSimulator(opts)
		assert.NoError(t, err, m)
	}
}

type failingSource struct{ err error }

func (s failingSource) Analyze(context.Context) (*network.Analysis, error) { return nil, s.err }

func TestBuild_AwaitsAnalysis(t *testing.T) {
	s := Settings{Method: MethodSimulate, Params: &Params{RTTMs: ptr(150), ThroughputKbps: ptr(1600), CPUSlowdownMultiplier: ptr(4)}}

	opts, err := Build(context.Background(), s, network.StaticSource{Analysis: observed()}, sim.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 150.0, opts.RTT)

	boom := errors.New("trace unreadable")
	_, err = Build(context.Background(), s, failingSource{err: boom}, sim.DefaultOptions())
	assert.ErrorIs(t, err, boom)
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, (&Settings{}).Validate())
	assert.NoError(t, (&Settings{Method: MethodDevtools}).Validate())
	// unrecognized methods are resolved to defaults by BuildOptions, not rejected
	assert.NoError(t, (&Settings{Method: "lighthouse"}).Validate())
	assert.ErrorContains(t, (&Settings{Method: MethodSimulate, Params: &Params{RTTMs: ptr(-1)}}).Validate(), "rtt_ms")
	assert.ErrorContains(t, (&Settings{Method: MethodSimulate, Params: &Params{CPUSlowdownMultiplier: ptr(0)}}).Validate(), "cpu_slowdown_multiplier")
}

func TestParams_ValidateRejectsNonFinite(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"nan rtt", Params{RTTMs: ptr(math.NaN())}, "rtt_ms"},
		{"infinite throughput", Params{ThroughputKbps: ptr(math.Inf(1))}, "throughput_kbps"},
		{"nan request latency", Params{RequestLatencyMs: ptr(math.NaN())}, "request_latency_ms"},
		{"nan download throughput", Params{DownloadThroughputKbps: ptr(math.NaN())}, "download_throughput_kbps"},
		{"nan cpu multiplier", Params{CPUSlowdownMultiplier: ptr(math.NaN())}, "cpu_slowdown_multiplier"},
		{"infinite cpu multiplier", Params{CPUSlowdownMultiplier: ptr(math.Inf(1))}, "cpu_slowdown_multiplier"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, tc.params.Validate(), tc.want)
		})
	}
}

func TestValidMethodNames(t *testing.T) {
	assert.Equal(t, []string{"devtools", "provided", "simulate"}, ValidMethodNames())
}
