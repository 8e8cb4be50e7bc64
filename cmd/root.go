package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pageload-sim/sim"
	"github.com/inference-sim/pageload-sim/sim/network"
	"github.com/inference-sim/pageload-sim/sim/throttling"
	"github.com/inference-sim/pageload-sim/sim/trace"
)

var (
	logLevel         string // Log verbosity level
	settingsPath     string // YAML settings file (method, throttling params, snapshot, engine defaults)
	analysisPath     string // Observed network analysis (YAML or JSON)
	graphPath        string // Page-load graph (YAML)
	throttlingMethod string // Overrides the settings file method
	traceLevel       string // Decision trace verbosity
	outputFormat     string // table or json
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pageload-sim",
	Short: "Discrete-event simulator for page loads",
}

// runInputs are the resolved inputs of one run invocation.
type runInputs struct {
	Config       *RunConfig
	AnalysisPath string
	GraphPath    string
	Format       string
}

// runCmd simulates a graph file under the configured throttling
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a page-load graph",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		cfg, err := LoadRunConfig(settingsPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cmd.Flags().Changed("throttling-method") {
			cfg.Method = throttling.Method(throttlingMethod)
		}
		if cmd.Flags().Changed("trace-level") {
			if !trace.IsValidTraceLevel(traceLevel) {
				logrus.Fatalf("Unknown trace level %q", traceLevel)
			}
			cfg.Trace = traceLevel
		}
		in := runInputs{Config: cfg, AnalysisPath: cfg.AnalysisPath, GraphPath: graphPath, Format: outputFormat}
		if analysisPath != "" {
			in.AnalysisPath = analysisPath
		}
		if in.AnalysisPath == "" {
			logrus.Fatalf("No network analysis provided. Use --analysis or set analysis in the settings file.")
		}

		startTime := time.Now()
		if err := runSimulation(cmd.Context(), os.Stdout, in); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Infof("Simulation complete in %s.", time.Since(startTime))
	},
}

// runSimulation builds options, simulates the graph and writes the timeline to w.
func runSimulation(ctx context.Context, w io.Writer, in runInputs) error {
	g, err := LoadGraph(in.GraphPath)
	if err != nil {
		return err
	}
	cfg := in.Config
	opts, err := throttling.Build(ctx, cfg.Settings, network.FileSource{Path: in.AnalysisPath}, cfg.Engine)
	if err != nil {
		return err
	}
	logrus.Infof("Starting simulation of %d nodes, method=%q, rtt=%.2fms, throughput=%.0fbps, cpu=%.2fx",
		g.Len(), cfg.Method, opts.RTT, opts.Throughput, opts.CPUSlowdownMultiplier)

	s, err := sim.NewSimulator(opts)
	if err != nil {
		return err
	}
	tl, st, err := s.SimulateWithTrace(g, trace.TraceConfig{Level: trace.TraceLevel(cfg.Trace)})
	if err != nil {
		return err
	}

	switch in.Format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tl); err != nil {
			return err
		}
	default:
		if err := tl.Print(w); err != nil {
			return err
		}
	}
	if st != nil {
		printTraceSummary(w, trace.Summarize(st))
	}
	return nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Allocations: %d (opened %d, reused %d, cpu %d, connectionless %d)\n",
		s.TotalAllocations, s.ConnectionsOpened, s.ConnectionsReused, s.CPUAllocations, s.Connectionless)
	fmt.Fprintf(w, "Handshake total: %.2fms\n", s.TotalHandshake)
	fmt.Fprintf(w, "Deferred nodes: %d\n", s.DeferredNodes)
	reasons := make([]string, 0, len(s.DeferralReasons))
	for r := range s.DeferralReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  %s: %d\n", r, s.DeferralReasons[r])
	}
	origins := make([]string, 0, len(s.OriginDistribution))
	for o := range s.OriginDistribution {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	for _, o := range origins {
		fmt.Fprintf(w, "  %s: %d\n", o, s.OriginDistribution[o])
	}
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&analysisPath, "analysis", "", "Network analysis file (YAML or JSON)")

	runCmd.Flags().StringVar(&settingsPath, "settings", "", "Settings file (method, throttling, snapshot, engine defaults)")
	runCmd.Flags().StringVar(&graphPath, "graph", "", "Page-load graph file")
	runCmd.Flags().StringVar(&throttlingMethod, "throttling-method", "", "Throttling method (provided, devtools, simulate)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")
	runCmd.Flags().StringVar(&outputFormat, "output", "table", "Output format (table, json)")
	_ = runCmd.MarkFlagRequired("graph")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotCmd)
}
