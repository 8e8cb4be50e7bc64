package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pageload-sim/sim/network"
)

var snapshotOutPath string

// snapshotCmd exports the per-origin timings of an analysis so later runs
// can reuse them through the settings file's snapshot field.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export a reusable per-origin snapshot from a network analysis",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if analysisPath == "" {
			logrus.Fatalf("No network analysis provided. Use --analysis.")
		}

		var w io.Writer = os.Stdout
		if snapshotOutPath != "" {
			f, err := os.Create(snapshotOutPath)
			if err != nil {
				logrus.Fatalf("Failed to create %s: %v", snapshotOutPath, err)
			}
			defer f.Close()
			w = f
		}
		if err := exportSnapshot(analysisPath, w); err != nil {
			logrus.Fatalf("Snapshot export failed: %v", err)
		}
		if snapshotOutPath != "" {
			logrus.Infof("Snapshot written to %s", snapshotOutPath)
		}
	},
}

func exportSnapshot(path string, w io.Writer) error {
	a, err := network.LoadAnalysis(path)
	if err != nil {
		return err
	}
	return network.WriteSnapshot(w, network.ExportSnapshot(a))
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOutPath, "output", "o", "", "Write the snapshot to this file instead of stdout")
}
