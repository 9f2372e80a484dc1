package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status PROJECT_DIR",
	Short: "Print the current run status without side effects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := engine.New(args[0], newLogger())
		res, err := eng.Status()
		if err != nil {
			return err
		}
		rs := res.RunStatus
		human := fmt.Sprintf("phase: %s completed: %s manifest_rows: %d",
			rs.Phase, strings.Join(rs.CompletedModules, ","), res.ManifestRows)
		if rs.CurrentModule != "" {
			human += " current: " + rs.CurrentModule
		}
		return emit(cmd, res, human)
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "emit the JSON result object")
}
