// Package cli wires the moldock commands. Every command takes the project
// directory as its first argument and prints a JSON result object to stdout;
// human-facing progress and logs go to stderr.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "moldock",
	Short: "moldock — run orchestration and resume engine for the docking pipeline",
	Long: `moldock drives the four-stage ligand pipeline (ADMET screening, 3D build,
PDBQT conversion, docking) over a project directory. Runs are resumable:
per-ligand outcomes live in state/manifest.csv and completed work is skipped.

All state is stored under <project>/state/ (SQLite for events, JSON for the
run status, CSV for the manifest).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportReportCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(watchCmd)
}
