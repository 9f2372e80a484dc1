package engine

import (
	"errors"
	"fmt"

	"github.com/moldock/moldock/internal/config"
	"github.com/moldock/moldock/internal/preflight"
	"github.com/moldock/moldock/internal/state"
)

// Error kinds surfaced to callers as structured objects rather than stack
// traces.
const (
	KindConfigError    = "config_error"
	KindPreflightError = "preflight_error"
	KindToolNotFound   = "tool_not_found"
	KindStageFailure   = "stage_failure"
	KindIOError        = "io_error"
)

// StageFailure records a module subprocess that exited non-zero (or was
// canceled). Fatal to the run, but the run stays resumable from this stage.
type StageFailure struct {
	Module    string
	ExitCode  int
	StderrLog string
	Canceled  bool
}

func (e *StageFailure) Error() string {
	if e.Canceled {
		return fmt.Sprintf("stage %s canceled", e.Module)
	}
	return fmt.Sprintf("stage %s failed with exit code %d (stderr: %s)", e.Module, e.ExitCode, e.StderrLog)
}

// Classify maps an engine error onto the taxonomy, producing the structured
// error object recorded in RunState and emitted to callers.
func Classify(err error) *state.ErrorInfo {
	if err == nil {
		return nil
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return &state.ErrorInfo{
			Kind:    KindConfigError,
			Message: cfgErr.Error(),
			Hint:    "fix config/run.yml (or the caller overrides) and re-run validate",
		}
	}

	var toolErr *preflight.ToolNotFoundError
	if errors.As(err, &toolErr) {
		return &state.ErrorInfo{
			Kind:    KindToolNotFound,
			Message: toolErr.Error(),
			Hint:    "install the docking binary or set tools.vina_cpu_path / tools.vina_gpu_path in config/run.yml",
		}
	}

	var pfErr *preflight.Error
	if errors.As(err, &pfErr) {
		return &state.ErrorInfo{
			Kind:    KindPreflightError,
			Message: pfErr.Error(),
			Hint:    "see logs/preflight.log for the full audit of failed checks",
		}
	}

	var stageErr *StageFailure
	if errors.As(err, &stageErr) {
		return &state.ErrorInfo{
			Kind:    KindStageFailure,
			Message: stageErr.Error(),
			Hint:    fmt.Sprintf("inspect %s, then run resume to retry from this stage", stageErr.StderrLog),
		}
	}

	return &state.ErrorInfo{
		Kind:    KindIOError,
		Message: err.Error(),
	}
}
