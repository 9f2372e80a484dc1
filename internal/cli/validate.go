package cli

import (
	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate PROJECT_DIR",
	Short: "Resolve config and run preflight checks without executing any stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dockingMode, _ := cmd.Flags().GetString("docking-mode")
		eng := engine.New(args[0], newLogger())
		res, err := eng.Validate(cmd.Context(), map[string]interface{}{"docking_mode": dockingMode})
		if err != nil {
			return err
		}
		human := "validation passed"
		if res.Error != nil {
			human = "validation failed: " + res.Error.Message
		}
		if perr := emit(cmd, res, human); perr != nil {
			return perr
		}
		if res.ExitCode != 0 {
			return &ExitError{Code: res.ExitCode, Msg: "validation failed"}
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("docking-mode", "cpu", "docking backend: cpu or gpu")
	validateCmd.Flags().Bool("json", false, "emit the JSON result object")
}
