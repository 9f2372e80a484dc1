// Package engine drives the four-stage pipeline: preflight, sequential
// module execution through subprocess adapters, persistent run/manifest
// state, and resume/skip logic. The engine is the single writer of
// run_status.json and manifest.csv.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moldock/moldock/internal/adapter"
	"github.com/moldock/moldock/internal/config"
	"github.com/moldock/moldock/internal/events"
	"github.com/moldock/moldock/internal/preflight"
	"github.com/moldock/moldock/internal/project"
	"github.com/moldock/moldock/internal/state"
)

// Engine orchestrates runs for one project. No concurrent runs against the
// same project are supported; the engine assumes it is the only writer.
type Engine struct {
	layout project.Layout
	store  *state.Store
	runner adapter.CommandRunner
	prober preflight.Prober
	runID  string
	log    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommandRunner substitutes subprocess execution (tests).
func WithCommandRunner(r adapter.CommandRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithProber substitutes preflight probing (tests).
func WithProber(p preflight.Prober) Option {
	return func(e *Engine) { e.prober = p }
}

// WithRunID presets the run id of a fresh run so callers can share it with
// the progress watcher. Resume keeps the stored id regardless.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// New creates an Engine for the project at dir.
func New(dir string, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		layout: project.NewLayout(dir),
		log:    log,
	}
	e.store = state.NewStore(e.layout)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Layout exposes the project layout (used by the CLI for watcher wiring).
func (e *Engine) Layout() project.Layout {
	return e.layout
}

// RunResult is the JSON result object emitted for run/resume.
type RunResult struct {
	OK           bool                 `json:"ok"`
	ExitCode     int                  `json:"exit_code"`
	FailedModule string               `json:"failed_module,omitempty"`
	Results      []state.HistoryEntry `json:"results"`
	Status       *state.RunState      `json:"status"`
	ManifestRows int                  `json:"manifest_rows"`
	Error        *state.ErrorInfo     `json:"error,omitempty"`
}

// Run executes the pipeline from the beginning, applying the per-stage skip
// rule against the manifest.
func (e *Engine) Run(ctx context.Context, overrides map[string]interface{}) (*RunResult, error) {
	return e.execute(ctx, overrides, false)
}

// Resume re-enters the state machine at the first stage that is not already
// at terminal success, reusing the caller configuration recorded by the
// original run.
func (e *Engine) Resume(ctx context.Context) (*RunResult, error) {
	rs, err := e.store.Read()
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, rs.Config, true)
}

func (e *Engine) execute(ctx context.Context, overrides map[string]interface{}, resumeMode bool) (*RunResult, error) {
	resolved, err := config.Resolve(e.layout.ConfigFile(), overrides)
	if err != nil {
		return e.abortValidation(err)
	}

	ev := e.openEvents()
	if ev != nil {
		defer ev.Close()
	}

	rs, err := e.store.Read()
	if err != nil {
		return nil, err
	}

	runID := rs.RunID
	if !resumeMode || runID == "" {
		runID = e.runID
		if runID == "" {
			runID = uuid.NewString()
		}
	}
	priorFingerprint := rs.ConfigFingerprint

	rs, err = e.store.Update(func(rs *state.RunState) {
		rs.SchemaVersion = state.SchemaVersion
		rs.RunID = runID
		rs.Phase = state.PhaseStarting
		rs.PhaseDetail = ""
		rs.CurrentModule = ""
		rs.FailedModule = ""
		rs.Error = nil
		rs.FinishedAt = ""
		rs.Config = overrides
		if resumeMode && priorFingerprint != "" && priorFingerprint != resolved.Fingerprint {
			rs.ResumedFingerprint = resolved.Fingerprint
			rs.FingerprintMismatch = true
		} else {
			rs.ConfigFingerprint = resolved.Fingerprint
			rs.ResumedFingerprint = ""
			rs.FingerprintMismatch = false
		}
		if !resumeMode {
			rs.CompletedModules = []string{}
			rs.History = []state.HistoryEntry{}
			rs.Modules = map[string]*state.ModuleRecord{}
		}
		for _, m := range adapter.Modules {
			if rs.Modules[m] == nil {
				rs.Modules[m] = &state.ModuleRecord{Status: state.ModulePending}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if rs.FingerprintMismatch {
		e.log.Warn().
			Str("original", priorFingerprint).
			Str("resumed", resolved.Fingerprint).
			Msg("resume fingerprint differs from original run; reproducibility is not guaranteed")
	}

	event := "run_started"
	if resumeMode {
		event = "run_resumed"
	}
	if ev != nil {
		_ = ev.Log(runID, event, "", "fingerprint="+resolved.Fingerprint)
	}

	report, err := e.runPreflight(ctx, resolved)
	if err != nil {
		rs, _ = e.store.Update(func(rs *state.RunState) {
			rs.Phase = state.PhaseValidationFailed
			rs.PhaseDetail = err.Error()
			rs.Error = Classify(err)
		})
		if ev != nil {
			_ = ev.Log(runID, "validation_failed", "", err.Error())
		}
		return &RunResult{ExitCode: 1, Status: rs, Error: Classify(err)}, nil
	}

	exe, _ := os.Executable()
	rs, err = e.store.Update(func(rs *state.RunState) {
		rs.Phase = state.PhaseRunning
		rs.Runtime = state.RuntimeInfo{
			Executable:  exe,
			Interpreter: report.Interpreter,
			VinaPath:    report.VinaPath,
			Versions:    report.Versions,
		}
	})
	if err != nil {
		return nil, err
	}

	inputs, err := ReadInputRows(e.layout.InputCSV())
	if err != nil {
		return e.abortIO(err)
	}
	if err := e.seedManifest(inputs); err != nil {
		return e.abortIO(err)
	}

	receptorSHA1 := ""
	if report.ReceptorPath != "" {
		receptorSHA1, _ = config.SHA1File(report.ReceptorPath)
	}

	builder := &adapter.SpecBuilder{
		Layout:       e.layout,
		Interpreter:  report.Interpreter,
		VinaPath:     report.VinaPath,
		ReceptorPath: report.ReceptorPath,
		Fingerprint:  resolved.Fingerprint,
		Config:       &resolved.Config,
	}
	adp := adapter.New(e.layout, e.runner, e.log)

	for _, module := range adapter.Modules {
		manifest, err := state.ReadManifest(e.layout.ManifestCSV())
		if err != nil {
			return e.abortIO(err)
		}
		plan := ComputePlan(e.layout, inputs, manifest, resolved.Fingerprint, receptorSHA1)

		if plan.Skippable(module) {
			rs, _ = e.store.Update(func(rs *state.RunState) {
				rs.CurrentModule = adapter.Code(module)
				rec := rs.Modules[module]
				if rec == nil || rec.Status != state.ModuleSucceeded {
					rs.Modules[module] = &state.ModuleRecord{Status: state.ModuleSkipped}
					if rec != nil {
						rs.Modules[module].DurationSeconds = rec.DurationSeconds
					}
				} else {
					rec.Status = state.ModuleSkipped
				}
				rs.CompletedModules = appendUnique(rs.CompletedModules, module)
			})
			if ev != nil {
				_ = ev.Log(runID, "module_skipped", module, "")
			}
			e.log.Info().Str("module", module).Msg("stage already complete, skipping")
			continue
		}

		todo := plan.Todo(module)
		idsFile := e.layout.OnlyIDsFile(module)
		if err := state.WriteAtomic(idsFile, []byte(strings.Join(todo, "\n")+"\n")); err != nil {
			return e.abortIO(err)
		}

		rs, err = e.store.Update(func(rs *state.RunState) {
			rs.CurrentModule = adapter.Code(module)
			rs.Modules[module] = &state.ModuleRecord{Status: state.ModuleRunning}
		})
		if err != nil {
			return nil, err
		}
		if ev != nil {
			_ = ev.Log(runID, "module_started", module, fmt.Sprintf("todo=%d", len(todo)))
		}

		spec, err := builder.Build(module, idsFile)
		if err != nil {
			return e.abortIO(err)
		}

		stageCtx, cancel := context.WithTimeout(ctx, resolved.Config.StageTimeoutDuration())
		res, err := adp.Invoke(stageCtx, spec)
		cancel()
		if err != nil {
			return e.abortIO(err)
		}

		entry := state.HistoryEntry{
			Module:     module,
			ReturnCode: res.ExitCode,
			StdoutLog:  res.StdoutLog,
			StderrLog:  res.StderrLog,
			OK:         res.OK(),
			DurationS:  res.Duration.Seconds(),
			FinishedAt: state.UTCNow(),
		}

		if !res.OK() {
			failure := &StageFailure{
				Module:    module,
				ExitCode:  res.ExitCode,
				StderrLog: res.StderrLog,
				Canceled:  res.Canceled,
			}
			exitCode := res.ExitCode
			rs, _ = e.store.Update(func(rs *state.RunState) {
				rs.Phase = state.PhaseFailed
				rs.PhaseDetail = failure.Error()
				rs.FailedModule = module
				rs.History = append(rs.History, entry)
				rec := &state.ModuleRecord{
					Status:          state.ModuleFailed,
					DurationSeconds: res.Duration.Seconds(),
					ExitCode:        &exitCode,
					StdoutLog:       res.StdoutLog,
					StderrLog:       res.StderrLog,
				}
				if res.Canceled {
					rec.Detail = "canceled"
				}
				rs.Modules[module] = rec
				rs.Error = Classify(failure)
			})
			if ev != nil {
				_ = ev.Log(runID, "module_failed", module, failure.Error())
			}
			return &RunResult{
				ExitCode:     1,
				FailedModule: module,
				Results:      rs.History,
				Status:       rs,
				ManifestRows: e.manifestRows(),
				Error:        Classify(failure),
			}, nil
		}

		if err := e.stampManifest(module, todo, inputs, report, resolved.Fingerprint, receptorSHA1); err != nil {
			e.log.Error().Err(err).Str("module", module).Msg("manifest update failed")
		}

		exitCode := res.ExitCode
		rs, err = e.store.Update(func(rs *state.RunState) {
			rs.History = append(rs.History, entry)
			rs.Modules[module] = &state.ModuleRecord{
				Status:          state.ModuleSucceeded,
				DurationSeconds: res.Duration.Seconds(),
				ExitCode:        &exitCode,
				StdoutLog:       res.StdoutLog,
				StderrLog:       res.StderrLog,
			}
			rs.CompletedModules = appendUnique(rs.CompletedModules, module)
		})
		if err != nil {
			return nil, err
		}
		if ev != nil {
			detail := ""
			if res.Units != nil {
				detail = fmt.Sprintf("processed=%d succeeded=%d failed=%d",
					res.Units.Processed, res.Units.Succeeded, res.Units.Failed)
			}
			_ = ev.Log(runID, "module_succeeded", module, detail)
		}
	}

	rs, err = e.store.Update(func(rs *state.RunState) {
		rs.Phase = state.PhaseCompleted
		rs.PhaseDetail = ""
		rs.CurrentModule = ""
	})
	if err != nil {
		return nil, err
	}
	if ev != nil {
		_ = ev.Log(runID, "run_completed", "", "")
	}

	return &RunResult{
		OK:           true,
		ExitCode:     0,
		Results:      rs.History,
		Status:       rs,
		ManifestRows: e.manifestRows(),
	}, nil
}

// abortValidation records a pre-subprocess fatal error (config or preflight)
// and leaves the run in validation_failed.
func (e *Engine) abortValidation(cause error) (*RunResult, error) {
	info := Classify(cause)
	rs, err := e.store.Update(func(rs *state.RunState) {
		rs.Phase = state.PhaseValidationFailed
		rs.PhaseDetail = cause.Error()
		rs.Error = info
	})
	if err != nil {
		// Best effort: still report the original failure.
		rs = state.NewRunState()
		rs.Phase = state.PhaseValidationFailed
		rs.Error = info
	}
	return &RunResult{ExitCode: 1, Status: rs, Error: info}, nil
}

// abortIO records a state/log write failure while still trying to leave a
// coherent terminal phase behind.
func (e *Engine) abortIO(cause error) (*RunResult, error) {
	info := Classify(cause)
	rs, err := e.store.Update(func(rs *state.RunState) {
		rs.Phase = state.PhaseFailed
		rs.PhaseDetail = cause.Error()
		rs.Error = info
	})
	if err != nil {
		rs = state.NewRunState()
		rs.Phase = state.PhaseFailed
		rs.Error = info
	}
	return &RunResult{ExitCode: 1, Status: rs, Error: info}, nil
}

func (e *Engine) runPreflight(ctx context.Context, resolved *config.Resolved) (*preflight.Report, error) {
	if err := os.MkdirAll(e.layout.LogsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir logs: %w", err)
	}
	auditFile, err := os.OpenFile(e.layout.PreflightLog(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open preflight log: %w", err)
	}
	defer auditFile.Close()

	audit := zerolog.New(auditFile).With().Timestamp().Logger()
	pf := preflight.NewRunner(e.layout, e.prober, audit)
	return pf.Run(ctx, resolved)
}

func (e *Engine) openEvents() *events.DB {
	if err := os.MkdirAll(e.layout.StateDir(), 0o755); err != nil {
		return nil
	}
	db, err := events.Open(e.layout.EventsDB())
	if err != nil {
		e.log.Warn().Err(err).Msg("event history unavailable")
		return nil
	}
	return db
}

// seedManifest ensures every input ligand has a manifest row, without
// touching columns of rows that already exist.
func (e *Engine) seedManifest(inputs []InputRow) error {
	rows, err := state.ReadManifest(e.layout.ManifestCSV())
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(rows))
	for _, row := range rows {
		known[strings.TrimSpace(row["id"])] = true
	}
	updates := map[string]state.ManifestRow{}
	for _, in := range inputs {
		if !known[in.ID] {
			updates[in.ID] = state.ManifestRow{"smiles": in.SMILES}
		}
	}
	if len(updates) == 0 && len(rows) > 0 {
		return nil
	}
	return state.UpsertManifestRows(e.layout.ManifestCSV(), updates)
}

func (e *Engine) manifestRows() int {
	rows, err := state.ReadManifest(e.layout.ManifestCSV())
	if err != nil {
		return 0
	}
	return len(rows)
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
