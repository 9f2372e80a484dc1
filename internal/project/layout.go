// Package project defines the fixed on-disk layout of a moldock project.
// Every path the engine, adapters, watcher, or purge touch is derived here,
// so the layout is stated in exactly one place.
package project

import "path/filepath"

// Layout resolves paths inside a single project directory. All pipeline
// artifacts live under Root; nothing is shared across projects.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{Root: dir}
}

// InputCSV is the ligand input table (one row per ligand: id, smiles, ...).
func (l Layout) InputCSV() string {
	return filepath.Join(l.Root, "input", "input.csv")
}

// ConfigFile is the optional per-project configuration overlay.
func (l Layout) ConfigFile() string {
	return filepath.Join(l.Root, "config", "run.yml")
}

// StateDir holds the authoritative run state and the derived progress snapshot.
func (l Layout) StateDir() string {
	return filepath.Join(l.Root, "state")
}

// StatusJSON is the authoritative RunState document.
func (l Layout) StatusJSON() string {
	return filepath.Join(l.StateDir(), "run_status.json")
}

// ManifestCSV is the per-ligand manifest used for resume/skip decisions.
func (l Layout) ManifestCSV() string {
	return filepath.Join(l.StateDir(), "manifest.csv")
}

// ProgressJSON is the watcher's ephemeral progress snapshot.
func (l Layout) ProgressJSON() string {
	return filepath.Join(l.StateDir(), "progress.json")
}

// WatcherStopFile signals the progress watcher to publish a final snapshot and exit.
func (l Layout) WatcherStopFile() string {
	return filepath.Join(l.StateDir(), "stop_progress_watcher")
}

// EventsDB is the local run-event history database.
func (l Layout) EventsDB() string {
	return filepath.Join(l.StateDir(), "events.db")
}

// OnlyIDsFile is the per-module work scoping file handed to adapters.
func (l Layout) OnlyIDsFile(module string) string {
	return filepath.Join(l.StateDir(), "only_ids_"+module+".txt")
}

// LogsDir is the root of all log output.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, "logs")
}

// EngineLogsDir holds per-module stdout/stderr captures.
func (l Layout) EngineLogsDir() string {
	return filepath.Join(l.LogsDir(), "engine")
}

// ModuleStdoutLog is the append-only stdout capture for a module.
func (l Layout) ModuleStdoutLog(module string) string {
	return filepath.Join(l.EngineLogsDir(), module+".stdout.log")
}

// ModuleStderrLog is the append-only stderr capture for a module.
func (l Layout) ModuleStderrLog(module string) string {
	return filepath.Join(l.EngineLogsDir(), module+".stderr.log")
}

// PreflightLog is the preflight audit trail.
func (l Layout) PreflightLog() string {
	return filepath.Join(l.LogsDir(), "preflight.log")
}

// OutputDir holds stage-1 output (the ADMET decision table).
func (l Layout) OutputDir() string {
	return filepath.Join(l.Root, "output")
}

// AdmetCSV is the stage-1 decision table.
func (l Layout) AdmetCSV() string {
	return filepath.Join(l.OutputDir(), "admet.csv")
}

// SDFDir holds stage-2 3D structure output.
func (l Layout) SDFDir() string {
	return filepath.Join(l.Root, "3D_Structures")
}

// SDFPath is the embedded 3D structure for one ligand.
func (l Layout) SDFPath(ligandID string) string {
	return filepath.Join(l.SDFDir(), ligandID+".sdf")
}

// PDBQTDir holds stage-3 converted ligand output.
func (l Layout) PDBQTDir() string {
	return filepath.Join(l.Root, "prepared_ligands")
}

// PDBQTPath is the prepared ligand file for one ligand.
func (l Layout) PDBQTPath(ligandID string) string {
	return filepath.Join(l.PDBQTDir(), ligandID+".pdbqt")
}

// ResultsDir holds stage-4 docking output and the final report CSVs.
func (l Layout) ResultsDir() string {
	return filepath.Join(l.Root, "results")
}

// VinaOutPath is the docked pose output for one ligand.
func (l Layout) VinaOutPath(ligandID string) string {
	return filepath.Join(l.ResultsDir(), ligandID+"_out.pdbqt")
}

// VinaLogPath is the docking log for one ligand.
func (l Layout) VinaLogPath(ligandID string) string {
	return filepath.Join(l.ResultsDir(), ligandID+"_vina.log")
}

// SummaryCSV is the flat per-ligand result table.
func (l Layout) SummaryCSV() string {
	return filepath.Join(l.ResultsDir(), "summary.csv")
}

// LeaderboardCSV is the ranked final output.
func (l Layout) LeaderboardCSV() string {
	return filepath.Join(l.ResultsDir(), "leaderboard.csv")
}

// EngineReportCSV is the manifest copy produced by export-report.
func (l Layout) EngineReportCSV() string {
	return filepath.Join(l.ResultsDir(), "engine_report.csv")
}
