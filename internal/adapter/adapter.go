// Package adapter wraps each pipeline stage's external program behind a
// uniform subprocess contract: deterministic working directory (the project
// root), normalized UTF-8 environment, dedicated per-stage log capture, and a
// structured result parsed from the program's trailing JSON summary.
package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/moldock/moldock/internal/jsontail"
	"github.com/moldock/moldock/internal/project"
)

// UnitCounts is the stage-reported per-unit outcome, parsed from the final
// JSON object the stage program prints on stdout. Nil when the program did
// not report one.
type UnitCounts struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Result is the outcome of one stage invocation.
type Result struct {
	Module    string        `json:"module"`
	ExitCode  int           `json:"returncode"`
	Duration  time.Duration `json:"-"`
	StdoutLog string        `json:"stdout_log"`
	StderrLog string        `json:"stderr_log"`
	Units     *UnitCounts   `json:"units,omitempty"`
	Canceled  bool          `json:"canceled,omitempty"`
}

// OK reports stage success: exit status zero and not canceled.
func (r *Result) OK() bool {
	return r.ExitCode == 0 && !r.Canceled
}

// CommandRunner abstracts subprocess execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, bin string, args []string, stdout, stderr io.Writer) (exitCode int, err error)
}

// ExecRunner is the real CommandRunner.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, env []string, bin string, args []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("exec %s: %w", bin, err)
}

// Adapter invokes stage programs for one project.
type Adapter struct {
	layout project.Layout
	runner CommandRunner
	log    zerolog.Logger
}

// New creates an Adapter. A nil runner means real subprocess execution.
func New(layout project.Layout, runner CommandRunner, log zerolog.Logger) *Adapter {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Adapter{layout: layout, runner: runner, log: log}
}

// Invoke runs one stage to completion or context expiry. Stdout and stderr
// are appended to the stage's dedicated log files so re-invocations never
// interleave with other stages. A non-zero exit is reported in the Result,
// not as an error; errors mean the process could not be run or observed.
func (a *Adapter) Invoke(ctx context.Context, spec Spec) (*Result, error) {
	if err := os.MkdirAll(a.layout.EngineLogsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir engine logs: %w", err)
	}

	stdoutPath := a.layout.ModuleStdoutLog(spec.Module)
	stderrPath := a.layout.ModuleStderrLog(spec.Module)

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stdout log: %w", err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stderr log: %w", err)
	}
	defer stderrFile.Close()

	// The tail buffer feeds the trailing-JSON result parse without holding
	// the full stage output in memory.
	tail := newTailBuffer(64 * 1024)
	stdout := io.MultiWriter(stdoutFile, tail)

	a.log.Info().Str("module", spec.Module).Str("bin", spec.Bin).Strs("args", spec.Args).Msg("invoking stage")

	start := time.Now()
	exitCode, err := a.runner.Run(ctx, a.layout.Root, spec.environ(), spec.Bin, spec.Args, stdout, stderrFile)
	duration := time.Since(start)

	res := &Result{
		Module:    spec.Module,
		ExitCode:  exitCode,
		Duration:  duration,
		StdoutLog: stdoutPath,
		StderrLog: stderrPath,
	}

	if ctx.Err() != nil {
		res.Canceled = true
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
		a.log.Warn().Str("module", spec.Module).Dur("duration", duration).Msg("stage canceled")
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	var units UnitCounts
	if jsontail.Unmarshal(tail.String(), &units) {
		res.Units = &units
	}

	ev := a.log.Info()
	if !res.OK() {
		ev = a.log.Error()
	}
	ev = ev.Str("module", spec.Module).Int("exit_code", exitCode).Dur("duration", duration)
	if summary, ok := jsontail.Compact(tail.String()); ok {
		ev = ev.RawJSON("summary", []byte(summary))
	}
	ev.Msg("stage finished")
	return res, nil
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = append([]byte(nil), b.data[len(b.data)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(bytes.TrimLeft(b.data, "\x00"))
}
