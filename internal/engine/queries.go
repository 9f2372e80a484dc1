package engine

import (
	"context"
	"os"

	"github.com/moldock/moldock/internal/config"
	"github.com/moldock/moldock/internal/events"
	"github.com/moldock/moldock/internal/preflight"
	"github.com/moldock/moldock/internal/state"
)

// ValidateResult is the JSON result object emitted by validate.
type ValidateResult struct {
	OK          bool                   `json:"ok"`
	ExitCode    int                    `json:"exit_code"`
	Fingerprint string                 `json:"config_fingerprint,omitempty"`
	Preflight   *preflight.Report      `json:"preflight,omitempty"`
	Plan        map[string]interface{} `json:"plan,omitempty"`
	Error       *state.ErrorInfo       `json:"error,omitempty"`
}

// Validate resolves configuration and runs the preflight pass without
// executing any stage. The only side effect is the preflight audit log.
func (e *Engine) Validate(ctx context.Context, overrides map[string]interface{}) (*ValidateResult, error) {
	resolved, err := config.Resolve(e.layout.ConfigFile(), overrides)
	if err != nil {
		return &ValidateResult{ExitCode: 1, Error: Classify(err)}, nil
	}

	report, err := e.runPreflight(ctx, resolved)
	if err != nil {
		return &ValidateResult{
			ExitCode:    1,
			Fingerprint: resolved.Fingerprint,
			Preflight:   report,
			Error:       Classify(err),
		}, nil
	}

	inputs, err := ReadInputRows(e.layout.InputCSV())
	if err != nil {
		return &ValidateResult{ExitCode: 1, Fingerprint: resolved.Fingerprint, Preflight: report, Error: Classify(err)}, nil
	}
	manifest, err := state.ReadManifest(e.layout.ManifestCSV())
	if err != nil {
		return &ValidateResult{ExitCode: 1, Fingerprint: resolved.Fingerprint, Preflight: report, Error: Classify(err)}, nil
	}

	receptorSHA1 := ""
	if report.ReceptorPath != "" {
		receptorSHA1, _ = config.SHA1File(report.ReceptorPath)
	}
	plan := ComputePlan(e.layout, inputs, manifest, resolved.Fingerprint, receptorSHA1)

	return &ValidateResult{
		OK:          true,
		ExitCode:    0,
		Fingerprint: resolved.Fingerprint,
		Preflight:   report,
		Plan:        plan.Stats(),
	}, nil
}

// StatusResult is the JSON result object emitted by status.
type StatusResult struct {
	RunStatus    *state.RunState `json:"run_status"`
	ManifestRows int             `json:"manifest_rows"`
	RecentEvents []events.Event  `json:"recent_events,omitempty"`
	ProjectDir   string          `json:"project_dir"`
}

const statusEventLimit = 10

// Status is a pure read of current RunState with no side effects. The event
// history is attached only when a previous run already created the database,
// so status never creates state files on its own.
func (e *Engine) Status() (*StatusResult, error) {
	rs, err := e.store.Read()
	if err != nil {
		return nil, err
	}
	res := &StatusResult{
		RunStatus:    rs,
		ManifestRows: e.manifestRows(),
		ProjectDir:   e.layout.Root,
	}
	if _, err := os.Stat(e.layout.EventsDB()); err == nil {
		if db, err := events.Open(e.layout.EventsDB()); err == nil {
			res.RecentEvents, _ = db.Recent(statusEventLimit)
			db.Close()
		}
	}
	return res, nil
}

// ReportResult is the JSON result object emitted by export-report.
type ReportResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Rows     int    `json:"rows"`
	Report   string `json:"report"`
}

// ExportReport copies the manifest into results/engine_report.csv.
func (e *Engine) ExportReport() (*ReportResult, error) {
	rows, err := state.ReadManifest(e.layout.ManifestCSV())
	if err != nil {
		return nil, err
	}
	out := e.layout.EngineReportCSV()
	if err := state.WriteManifest(out, rows); err != nil {
		return nil, err
	}
	return &ReportResult{OK: true, ExitCode: 0, Rows: len(rows), Report: out}, nil
}
