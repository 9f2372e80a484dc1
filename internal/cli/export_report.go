package cli

import (
	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/engine"
)

var exportReportCmd = &cobra.Command{
	Use:   "export-report PROJECT_DIR",
	Short: "Export the per-ligand manifest to results/engine_report.csv",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := engine.New(args[0], newLogger())
		res, err := eng.ExportReport()
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}
