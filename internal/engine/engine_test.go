package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/moldock/moldock/internal/adapter"
	"github.com/moldock/moldock/internal/state"
)

type fakeProber struct{}

func (fakeProber) LookPath(file string) (string, error) {
	switch file {
	case "python3":
		return "/opt/python/bin/python3", nil
	case "vina":
		return "/opt/vina/vina", nil
	}
	return "", fmt.Errorf("%s not found", file)
}

func (fakeProber) Output(ctx context.Context, bin string, args ...string) (string, error) {
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "import rdkit"):
		return "2024.03.5", nil
	case strings.Contains(joined, "import meeko"):
		return "0.5.1", nil
	case strings.Contains(joined, "--version"), bin == "/opt/vina/vina":
		return "AutoDock Vina 1.2.5", nil
	}
	return "", fmt.Errorf("no output for %s %s", bin, joined)
}

// stageRunner simulates the stage programs: it creates the artifacts a real
// stage would leave on disk, then prints the trailing JSON summary.
type stageRunner struct {
	calls    []string
	failWith map[string]int // module -> exit code
}

func moduleFromArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	switch {
	case strings.HasSuffix(args[0], "Module 1.py"):
		return adapter.ModuleAdmet
	case strings.HasSuffix(args[0], "Module 2.py"):
		return adapter.ModuleBuild3D
	case strings.HasSuffix(args[0], "Module 3.py"):
		return adapter.ModuleMeeko
	}
	return adapter.ModuleDocking
}

func (r *stageRunner) Run(ctx context.Context, dir string, env []string, bin string, args []string, stdout, stderr io.Writer) (int, error) {
	module := moduleFromArgs(args)
	r.calls = append(r.calls, module)
	if code, ok := r.failWith[module]; ok {
		fmt.Fprintln(stderr, "stage blew up")
		return code, nil
	}

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		os.MkdirAll(filepath.Dir(path), 0o755)
		os.WriteFile(path, []byte(content), 0o644)
	}
	switch module {
	case adapter.ModuleAdmet:
		write(filepath.Join("output", "admet.csv"),
			"id,admet_decision,reason\nL1,PASS,\nL2,FAIL,logP out of range\n")
	case adapter.ModuleBuild3D:
		write(filepath.Join("3D_Structures", "L1.sdf"), "sdf")
	case adapter.ModuleMeeko:
		write(filepath.Join("prepared_ligands", "L1.pdbqt"), "pdbqt")
	case adapter.ModuleDocking:
		write(filepath.Join("results", "L1_out.pdbqt"), "pose")
		write(filepath.Join("results", "summary.csv"), "id,vina_score\nL1,-7.3\n")
	}
	fmt.Fprintln(stdout, "stage done")
	fmt.Fprintln(stdout, `{"processed":1,"succeeded":1,"failed":0}`)
	return 0, nil
}

func newTestEngine(t *testing.T, runner *stageRunner) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "input", "input.csv"), "id,smiles\nL1,CCO\nL2,CCN\n")
	writeFile(t, filepath.Join(dir, "input", "receptor.pdbqt"), "ATOM\n")
	eng := New(dir, zerolog.Nop(),
		WithCommandRunner(runner),
		WithProber(fakeProber{}))
	return eng, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func manifestByID(t *testing.T, eng *Engine) map[string]state.ManifestRow {
	t.Helper()
	rows, err := state.ReadManifest(eng.Layout().ManifestCSV())
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]state.ManifestRow{}
	for _, row := range rows {
		byID[row["id"]] = row
	}
	return byID
}

func TestRunFullPipeline(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)

	res, err := eng.Run(context.Background(), map[string]interface{}{"docking_mode": "cpu"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK || res.ExitCode != 0 {
		t.Fatalf("result = ok=%v exit=%d error=%+v", res.OK, res.ExitCode, res.Error)
	}
	if len(runner.calls) != 4 {
		t.Fatalf("stage invocations = %v, want all four in order", runner.calls)
	}
	if res.Status.Phase != state.PhaseCompleted {
		t.Errorf("phase = %q, want completed", res.Status.Phase)
	}
	if len(res.Status.CompletedModules) != 4 {
		t.Errorf("completed_modules = %v", res.Status.CompletedModules)
	}
	if res.Status.RunID == "" || res.Status.ConfigFingerprint == "" {
		t.Error("run identity not recorded")
	}
	if res.Status.Runtime.Interpreter == "" || res.Status.Runtime.VinaPath == "" {
		t.Errorf("runtime = %+v", res.Status.Runtime)
	}

	rows := manifestByID(t, eng)
	l1 := rows["L1"]
	if l1["admet_status"] != "PASS" || l1["vina_status"] != "DONE" || l1["vina_score"] != "-7.3" {
		t.Errorf("L1 row = %v", l1)
	}
	if l1["config_hash"] != res.Status.ConfigFingerprint {
		t.Errorf("config_hash = %q, want fingerprint", l1["config_hash"])
	}
	l2 := rows["L2"]
	if l2["admet_status"] != "FAIL" || l2["admet_reason"] == "" {
		t.Errorf("L2 row = %v", l2)
	}
	if l2["vina_status"] == "DONE" {
		t.Error("failed ligand reached docking")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)

	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	first := len(runner.calls)

	res, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != first {
		t.Errorf("second run invoked %d stages, want 0", len(runner.calls)-first)
	}
	if !res.OK || res.Status.Phase != state.PhaseCompleted {
		t.Errorf("second run result = %+v", res.Status)
	}
	for _, m := range adapter.Modules {
		if res.Status.Modules[m].Status != state.ModuleSkipped {
			t.Errorf("module %s status = %q, want skipped", m, res.Status.Modules[m].Status)
		}
	}
}

func TestResumeAfterCompletionSkipsEverything(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)

	first, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	before := manifestByID(t, eng)

	res, err := eng.Resume(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 4 {
		t.Errorf("resume invoked %d extra stages", len(runner.calls)-4)
	}
	if res.Status.Phase != state.PhaseCompleted {
		t.Errorf("phase = %q", res.Status.Phase)
	}
	if res.Status.RunID != first.Status.RunID {
		t.Error("resume minted a new run id")
	}
	for _, m := range adapter.Modules {
		if res.Status.Modules[m].Status != state.ModuleSkipped {
			t.Errorf("module %s status = %q, want skipped", m, res.Status.Modules[m].Status)
		}
	}

	// Rows already at terminal success are untouched.
	after := manifestByID(t, eng)
	for id, row := range before {
		for _, col := range []string{"vina_status", "vina_score", "config_hash", "updated_at"} {
			if after[id][col] != row[col] {
				t.Errorf("row %s column %s changed on resume: %q -> %q", id, col, row[col], after[id][col])
			}
		}
	}
}

func TestRunFailFast(t *testing.T) {
	runner := &stageRunner{failWith: map[string]int{adapter.ModuleBuild3D: 3}}
	eng, _ := newTestEngine(t, runner)

	res, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.ExitCode != 1 {
		t.Fatalf("result = %+v, want failure", res)
	}
	if res.FailedModule != adapter.ModuleBuild3D {
		t.Errorf("failed_module = %q", res.FailedModule)
	}
	if res.Status.Phase != state.PhaseFailed {
		t.Errorf("phase = %q", res.Status.Phase)
	}
	if res.Status.CurrentModule != "M2" {
		t.Errorf("current_module = %q, want M2", res.Status.CurrentModule)
	}
	if len(runner.calls) != 2 {
		t.Errorf("invocations = %v, later stages must not run", runner.calls)
	}
	if got := res.Status.Modules[adapter.ModuleMeeko].Status; got != state.ModulePending {
		t.Errorf("M3 status = %q, want pending", got)
	}
	if res.Error == nil || res.Error.Kind != KindStageFailure {
		t.Errorf("error = %+v", res.Error)
	}
}

func TestResumeAfterFailure(t *testing.T) {
	runner := &stageRunner{failWith: map[string]int{adapter.ModuleBuild3D: 3}}
	eng, _ := newTestEngine(t, runner)

	first, err := eng.Run(context.Background(), map[string]interface{}{"docking_mode": "cpu"})
	if err != nil {
		t.Fatal(err)
	}
	failedRunID := first.Status.RunID

	runner.failWith = nil
	res, err := eng.Resume(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("resume failed: %+v", res.Error)
	}
	// M1's decisions survived, so only the three remaining stages run.
	resumed := runner.calls[2:]
	want := []string{adapter.ModuleBuild3D, adapter.ModuleMeeko, adapter.ModuleDocking}
	if len(resumed) != len(want) {
		t.Fatalf("resumed invocations = %v, want %v", resumed, want)
	}
	for i := range want {
		if resumed[i] != want[i] {
			t.Fatalf("resumed invocations = %v, want %v", resumed, want)
		}
	}
	if res.Status.RunID != failedRunID {
		t.Errorf("run_id changed on resume: %q -> %q", failedRunID, res.Status.RunID)
	}
	if res.Status.FingerprintMismatch {
		t.Error("fingerprint mismatch flagged without a config change")
	}
	if res.Status.Modules[adapter.ModuleAdmet].Status != state.ModuleSkipped {
		t.Errorf("M1 status = %q, want skipped", res.Status.Modules[adapter.ModuleAdmet].Status)
	}
}

func TestResumeWithChangedConfigFlagsMismatch(t *testing.T) {
	runner := &stageRunner{}
	eng, dir := newTestEngine(t, runner)

	first, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	originalFP := first.Status.ConfigFingerprint

	// The config file changes between the run and the resume.
	writeFile(t, filepath.Join(dir, "config", "run.yml"), "stage_timeout: 1h\n")

	res, err := eng.Resume(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Status.FingerprintMismatch {
		t.Error("fingerprint mismatch not flagged")
	}
	if res.Status.ConfigFingerprint != originalFP {
		t.Error("original fingerprint overwritten")
	}
	if res.Status.ResumedFingerprint == "" || res.Status.ResumedFingerprint == originalFP {
		t.Errorf("resumed_fingerprint = %q", res.Status.ResumedFingerprint)
	}
	// The changed fingerprint invalidates docking results.
	if last := runner.calls[len(runner.calls)-1]; last != adapter.ModuleDocking {
		t.Errorf("last invocation = %q, want docking re-run", last)
	}
}

func TestRunPreflightFailure(t *testing.T) {
	runner := &stageRunner{}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "input", "input.csv"), "id,smiles\nL1,CCO\n")
	// No receptor file.
	eng := New(dir, zerolog.Nop(), WithCommandRunner(runner), WithProber(fakeProber{}))

	res, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.ExitCode != 1 {
		t.Fatalf("result = %+v, want failure", res)
	}
	if res.Status.Phase != state.PhaseValidationFailed {
		t.Errorf("phase = %q, want validation_failed", res.Status.Phase)
	}
	if res.Error == nil || res.Error.Kind != KindPreflightError {
		t.Errorf("error = %+v", res.Error)
	}
	if len(runner.calls) != 0 {
		t.Errorf("stages ran despite preflight failure: %v", runner.calls)
	}
}

func TestRunConfigError(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)

	res, err := eng.Run(context.Background(), map[string]interface{}{"docking_mode": "quantum"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("invalid config accepted")
	}
	if res.Error == nil || res.Error.Kind != KindConfigError {
		t.Errorf("error = %+v", res.Error)
	}
	if res.Status.Phase != state.PhaseValidationFailed {
		t.Errorf("phase = %q", res.Status.Phase)
	}
}

func TestValidateReportsPlanWithoutRunning(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)

	res, err := eng.Validate(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("validate failed: %+v", res.Error)
	}
	if res.Plan["input_ids"] != 2 {
		t.Errorf("plan = %v", res.Plan)
	}
	if len(runner.calls) != 0 {
		t.Errorf("validate invoked stages: %v", runner.calls)
	}

	// Validate never mutates run state.
	st, err := eng.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.RunStatus.Phase != state.PhaseNotStarted {
		t.Errorf("phase = %q after validate, want not_started", st.RunStatus.Phase)
	}
}

func TestRunAfterInputEditConvergesToSkipped(t *testing.T) {
	runner := &stageRunner{}
	eng, dir := newTestEngine(t, runner)

	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 4 {
		t.Fatalf("first run invocations = %v, want all four", runner.calls)
	}

	// Editing a ligand's SMILES invalidates its downstream artifacts once.
	writeFile(t, filepath.Join(dir, "input", "input.csv"), "id,smiles\nL1,CCOC\nL2,CCN\n")

	runner.calls = nil
	res, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("run after edit failed: %+v", res.Error)
	}
	want := []string{adapter.ModuleBuild3D, adapter.ModuleMeeko, adapter.ModuleDocking}
	if strings.Join(runner.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("invocations after edit = %v, want %v", runner.calls, want)
	}
	if got := manifestByID(t, eng)["L1"]["smiles"]; got != "CCOC" {
		t.Fatalf("manifest smiles = %q, want refreshed to CCOC", got)
	}

	runner.calls = nil
	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("rerun with unchanged inputs invoked %v, want none", runner.calls)
	}
}

func TestStatusAttachesEventHistory(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)
	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	st, err := eng.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.RecentEvents) == 0 {
		t.Fatal("no events attached after a completed run")
	}
	if st.RecentEvents[0].RunID != st.RunStatus.RunID {
		t.Errorf("event run_id = %q, want %q", st.RecentEvents[0].RunID, st.RunStatus.RunID)
	}
}

func TestStatusOnFreshProjectCreatesNoState(t *testing.T) {
	eng := New(t.TempDir(), zerolog.Nop())

	st, err := eng.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.RecentEvents != nil {
		t.Errorf("recent_events = %v, want none", st.RecentEvents)
	}
	if _, err := os.Stat(eng.Layout().EventsDB()); !os.IsNotExist(err) {
		t.Error("status created the event database")
	}
}

func TestExportReport(t *testing.T) {
	runner := &stageRunner{}
	eng, _ := newTestEngine(t, runner)
	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	res, err := eng.ExportReport()
	if err != nil {
		t.Fatal(err)
	}
	if res.Rows != 2 {
		t.Errorf("rows = %d, want 2", res.Rows)
	}
	exported, err := state.ReadManifest(eng.Layout().EngineReportCSV())
	if err != nil {
		t.Fatal(err)
	}
	if len(exported) != 2 {
		t.Errorf("exported rows = %d", len(exported))
	}
}
