package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/moldock/moldock/internal/engine"
	"github.com/moldock/moldock/internal/project"
	"github.com/moldock/moldock/internal/state"
	"github.com/moldock/moldock/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run PROJECT_DIR",
	Short: "Execute the pipeline from the beginning, skipping completed stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dockingMode, _ := cmd.Flags().GetString("docking-mode")
		noUI, _ := cmd.Flags().GetBool("no-ui")
		overrides := map[string]interface{}{"docking_mode": dockingMode}
		return executeRun(cmd, args[0], overrides, false, noUI)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume PROJECT_DIR",
	Short: "Re-enter an interrupted run at the first incomplete stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noUI, _ := cmd.Flags().GetBool("no-ui")
		return executeRun(cmd, args[0], nil, true, noUI)
	},
}

func init() {
	runCmd.Flags().String("docking-mode", "cpu", "docking backend: cpu or gpu")
	runCmd.Flags().Bool("no-ui", false, "disable the live progress display")
	runCmd.Flags().Bool("json", false, "emit the JSON result object")
	resumeCmd.Flags().Bool("no-ui", false, "disable the live progress display")
	resumeCmd.Flags().Bool("json", false, "emit the JSON result object")
}

func executeRun(cmd *cobra.Command, dir string, overrides map[string]interface{}, resume bool, noUI bool) error {
	log := newLogger()
	runID := uuid.NewString()
	eng := engine.New(dir, log, engine.WithRunID(runID))
	layout := eng.Layout()

	if resume {
		if st, err := eng.Status(); err == nil && st.RunStatus.RunID != "" {
			runID = st.RunStatus.RunID
		}
	}

	// Clear leftovers from the previous run so the watcher starts from a
	// clean slate.
	_ = os.Remove(layout.WatcherStopFile())
	_ = os.Remove(layout.ProgressJSON())

	if err := spawnWatcher(dir, runID); err != nil {
		log.Warn().Err(err).Msg("progress watcher not started")
	}

	uiCtx, stopUI := context.WithCancel(cmd.Context())
	uiDone := make(chan struct{})
	if !noUI {
		go func() {
			defer close(uiDone)
			showProgressUI(uiCtx, layout)
		}()
	} else {
		close(uiDone)
	}

	var res *engine.RunResult
	var err error
	if resume {
		res, err = eng.Resume(cmd.Context())
	} else {
		res, err = eng.Run(cmd.Context(), overrides)
	}

	stopUI()
	<-uiDone

	if err != nil {
		writeStopMarker(layout, "failed", err.Error())
		return err
	}

	marker, msg := "completed", ""
	if !res.OK {
		marker = "failed"
		if res.Error != nil {
			msg = res.Error.Message
		}
	}
	writeStopMarker(layout, marker, msg)

	human := fmt.Sprintf("phase: %s", res.Status.Phase)
	if res.FailedModule != "" {
		human = fmt.Sprintf("phase: %s failed_module: %s", res.Status.Phase, res.FailedModule)
	}
	if res.Error != nil {
		human += "\nerror: " + res.Error.Message
		if res.Error.Hint != "" {
			human += "\nhint: " + res.Error.Hint
		}
	}
	if perr := emit(cmd, res, human); perr != nil {
		return perr
	}
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode, Msg: fmt.Sprintf("run failed (phase %s)", res.Status.Phase)}
	}
	return nil
}

// spawnWatcher starts `moldock watch` as a detached child so progress
// snapshots keep flowing even if this process is doing blocking work.
func spawnWatcher(dir, runID string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	child := exec.Command(exe, "watch", dir,
		"--run-id", runID,
		"--interval-ms", strconv.Itoa(defaultWatchIntervalMS))
	if err := child.Start(); err != nil {
		return err
	}
	return child.Process.Release()
}

// writeStopMarker leaves the terminal marker the watcher polls for, so it
// publishes one final snapshot and exits.
func writeStopMarker(layout project.Layout, phase, message string) {
	_ = os.MkdirAll(layout.StateDir(), 0o755)
	_ = state.WriteAtomic(layout.WatcherStopFile(), []byte(phase+"|"+message+"\n"))
}

// showProgressUI renders a live bar on stderr from the watcher's snapshots
// until ctx is canceled.
func showProgressUI(ctx context.Context, layout project.Layout) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return
		case <-ticker.C:
		}

		data, err := os.ReadFile(layout.ProgressJSON())
		if err != nil {
			continue
		}
		var snap watcher.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}

		desc := snap.CurrentModule
		if snap.Phase != "" {
			desc = fmt.Sprintf("%s [%s]", snap.CurrentModule, snap.Phase)
		}
		bar.Describe(desc)
		if ratio := snap.Progress[snap.CurrentModule]; ratio != nil {
			_ = bar.Set(int(*ratio * 100))
		}
	}
}
