package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/watcher"
)

const defaultWatchIntervalMS = 500

var watchCmd = &cobra.Command{
	Use:   "watch PROJECT_DIR",
	Short: "Publish progress snapshots for a project until its run finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		intervalMS, _ := cmd.Flags().GetInt("interval-ms")
		w := watcher.New(args[0], runID, time.Duration(intervalMS)*time.Millisecond, newLogger())
		return w.Run(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().String("run-id", "", "run id to stamp into snapshots")
	watchCmd.Flags().Int("interval-ms", defaultWatchIntervalMS, "polling interval in milliseconds (floor 200)")
}
