// Package preflight confirms a project is runnable before any stage
// subprocess starts: inputs present, directories creatable, runtime
// components importable, and the docking binary resolvable for the selected
// mode. Every check is independently reportable and the whole pass is
// recorded in an audit log.
package preflight

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moldock/moldock/internal/config"
	"github.com/moldock/moldock/internal/project"
)

// Check is one independently reportable preflight check.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the pass/fail outcome of a preflight pass, including resolved
// tool identities.
type Report struct {
	OK           bool              `json:"ok"`
	Checks       []Check           `json:"checks"`
	Interpreter  string            `json:"interpreter,omitempty"`
	VinaPath     string            `json:"vina_path,omitempty"`
	ReceptorPath string            `json:"receptor_path,omitempty"`
	InputRows    int               `json:"input_rows"`
	Versions     map[string]string `json:"versions,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Error is a fatal preflight failure. The run aborts into validation_failed
// before any subprocess starts.
type Error struct {
	Message string
	Report  *Report
}

func (e *Error) Error() string { return "preflight: " + e.Message }

// ToolNotFoundError reports an exhausted binary search, naming every
// location tried.
type ToolNotFoundError struct {
	Tool     string
	Searched []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found (searched: %s)", e.Tool, strings.Join(e.Searched, ", "))
}

// Prober abstracts binary lookup and version probing for testability.
type Prober interface {
	LookPath(file string) (string, error)
	Output(ctx context.Context, bin string, args ...string) (string, error)
}

// ExecProber is the real Prober backed by the OS.
type ExecProber struct{}

func (ExecProber) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (ExecProber) Output(ctx context.Context, bin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Runner executes preflight passes for one project.
type Runner struct {
	layout project.Layout
	prober Prober
	log    zerolog.Logger
}

// NewRunner creates a preflight Runner. The logger should already be bound
// to the audit log file.
func NewRunner(layout project.Layout, prober Prober, log zerolog.Logger) *Runner {
	if prober == nil {
		prober = ExecProber{}
	}
	return &Runner{layout: layout, prober: prober, log: log}
}

// Run executes all checks. A returned error is either *Error or
// *ToolNotFoundError; the Report is always populated.
func (r *Runner) Run(ctx context.Context, resolved *config.Resolved) (*Report, error) {
	rep := &Report{Versions: map[string]string{}}
	cfg := resolved.Config

	r.log.Info().Str("fingerprint", resolved.Fingerprint).Str("docking_mode", cfg.DockingMode).Msg("preflight started")

	r.checkProjectDir(rep)
	r.checkInputCSV(rep)
	r.checkReceptor(rep, &cfg)
	r.checkDirectories(rep)
	r.checkRuntime(ctx, rep, &cfg)
	r.checkVina(ctx, rep, &cfg)

	rep.OK = true
	for _, c := range rep.Checks {
		if !c.OK {
			rep.OK = false
		}
	}

	if cfg.StrictVersions && len(rep.Warnings) > 0 {
		rep.OK = false
		rep.Checks = append(rep.Checks, Check{
			Name:   "strict_versions",
			OK:     false,
			Detail: strings.Join(rep.Warnings, "; "),
		})
	}

	for _, c := range rep.Checks {
		ev := r.log.Info()
		if !c.OK {
			ev = r.log.Error()
		}
		ev.Str("check", c.Name).Bool("ok", c.OK).Str("detail", c.Detail).Msg("preflight check")
	}
	for _, w := range rep.Warnings {
		r.log.Warn().Msg(w)
	}
	r.log.Info().
		Bool("ok", rep.OK).
		Str("interpreter", rep.Interpreter).
		Str("vina", rep.VinaPath).
		Interface("versions", rep.Versions).
		Msg("preflight finished")

	if !rep.OK {
		return rep, &Error{Message: firstFailure(rep), Report: rep}
	}
	return rep, nil
}

func firstFailure(rep *Report) string {
	for _, c := range rep.Checks {
		if !c.OK {
			if c.Detail != "" {
				return c.Name + ": " + c.Detail
			}
			return c.Name
		}
	}
	return "failed"
}

func (r *Runner) addCheck(rep *Report, name string, ok bool, detail string) {
	rep.Checks = append(rep.Checks, Check{Name: name, OK: ok, Detail: detail})
}

func (r *Runner) checkProjectDir(rep *Report) {
	info, err := os.Stat(r.layout.Root)
	switch {
	case err != nil:
		r.addCheck(rep, "project_dir", false, fmt.Sprintf("project directory does not exist: %s", r.layout.Root))
	case !info.IsDir():
		r.addCheck(rep, "project_dir", false, fmt.Sprintf("not a directory: %s", r.layout.Root))
	default:
		r.addCheck(rep, "project_dir", true, r.layout.Root)
	}
}

func (r *Runner) checkInputCSV(rep *Report) {
	path := r.layout.InputCSV()
	f, err := os.Open(path)
	if err != nil {
		r.addCheck(rep, "input_csv", false, fmt.Sprintf("missing required input file: %s", path))
		return
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		r.addCheck(rep, "input_csv", false, fmt.Sprintf("unreadable input table: %v", err))
		return
	}
	rows := 0
	for i, rec := range records {
		if i == 0 {
			continue
		}
		for _, cell := range rec {
			if strings.TrimSpace(cell) != "" {
				rows++
				break
			}
		}
	}
	rep.InputRows = rows
	if rows == 0 {
		r.addCheck(rep, "input_csv", false, fmt.Sprintf("input table has no data rows: %s", path))
		return
	}
	r.addCheck(rep, "input_csv", true, fmt.Sprintf("%d rows", rows))
}

func (r *Runner) checkReceptor(rep *Report, cfg *config.Config) {
	path := cfg.ReceptorPath
	if path == "" {
		path = filepath.Join("input", "receptor.pdbqt")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.layout.Root, path)
	}
	rep.ReceptorPath = path
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		r.addCheck(rep, "receptor", false, fmt.Sprintf("receptor file not found: %s", path))
		return
	}
	r.addCheck(rep, "receptor", true, path)
}

func (r *Runner) checkDirectories(rep *Report) {
	dirs := []string{
		r.layout.StateDir(),
		r.layout.EngineLogsDir(),
		r.layout.OutputDir(),
		r.layout.SDFDir(),
		r.layout.PDBQTDir(),
		r.layout.ResultsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.addCheck(rep, "directories", false, fmt.Sprintf("cannot create %s: %v", dir, err))
			return
		}
	}
	r.addCheck(rep, "directories", true, "")
}

// checkRuntime resolves the stage interpreter and probes the components the
// stage programs import.
func (r *Runner) checkRuntime(ctx context.Context, rep *Report, cfg *config.Config) {
	interp, searched := r.resolveInterpreter(cfg)
	if interp == "" {
		r.addCheck(rep, "interpreter", false, fmt.Sprintf("no python interpreter found (searched: %s)", strings.Join(searched, ", ")))
		return
	}
	rep.Interpreter = interp
	r.addCheck(rep, "interpreter", true, interp)

	for _, component := range []string{"rdkit", "meeko"} {
		out, err := r.prober.Output(ctx, interp, "-c",
			fmt.Sprintf("import %s; print(getattr(%s, '__version__', 'unknown'))", component, component))
		if err != nil {
			r.addCheck(rep, component, false, fmt.Sprintf("component %q not importable via %s", component, interp))
			continue
		}
		version := firstLine(out)
		rep.Versions[component] = version
		if version == "" || version == "unknown" {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("could not determine %s version", component))
		}
		r.addCheck(rep, component, true, version)
	}
}

func (r *Runner) resolveInterpreter(cfg *config.Config) (string, []string) {
	var searched []string
	if p := cfg.Tools.PythonPath; p != "" {
		searched = append(searched, p)
		if _, err := os.Stat(p); err == nil {
			return p, searched
		}
		return "", searched
	}
	for _, name := range []string{"python3", "python"} {
		searched = append(searched, name)
		if p, err := r.prober.LookPath(name); err == nil {
			return p, searched
		}
	}
	return "", searched
}

// checkVina resolves the docking binary for the selected mode via the
// ordered search: explicit config path, shared tool root, PATH discovery.
func (r *Runner) checkVina(ctx context.Context, rep *Report, cfg *config.Config) {
	path, err := r.ResolveVina(cfg)
	if err != nil {
		r.addCheck(rep, "vina_binary", false, err.Error())
		return
	}
	rep.VinaPath = path
	r.addCheck(rep, "vina_binary", true, path)

	if out, err := r.prober.Output(ctx, path, "--version"); err == nil {
		rep.Versions["vina"] = firstLine(out)
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("could not determine vina version from %s", path))
	}
}

// ResolveVina returns the definitive absolute path of the docking binary for
// the configured mode, or a *ToolNotFoundError naming every location searched.
func (r *Runner) ResolveVina(cfg *config.Config) (string, error) {
	explicit := cfg.Tools.VinaCPUPath
	names := []string{"vina"}
	tool := "vina (cpu)"
	if cfg.DockingMode == "gpu" {
		explicit = cfg.Tools.VinaGPUPath
		names = []string{"Vina-GPU", "vina-gpu"}
		tool = "vina (gpu)"
	}

	var searched []string

	if explicit != "" {
		p := explicit
		if !filepath.IsAbs(p) {
			p = filepath.Join(r.layout.Root, p)
		}
		searched = append(searched, p)
		if isExecutableFile(p) {
			return p, nil
		}
		return "", &ToolNotFoundError{Tool: tool, Searched: searched}
	}

	if root := cfg.Tools.Root; root != "" {
		for _, dir := range []string{root, filepath.Join(root, "tools")} {
			for _, name := range names {
				p := filepath.Join(dir, name)
				searched = append(searched, p)
				if isExecutableFile(p) {
					return p, nil
				}
			}
		}
	}

	for _, name := range names {
		searched = append(searched, "$PATH/"+name)
		if p, err := r.prober.LookPath(name); err == nil {
			abs, err := filepath.Abs(p)
			if err == nil {
				return abs, nil
			}
			return p, nil
		}
	}

	return "", &ToolNotFoundError{Tool: tool, Searched: searched}
}

func isExecutableFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
