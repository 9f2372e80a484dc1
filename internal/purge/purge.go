// Package purge resets a project to a clean slate: generated molecular
// artifacts and logs are deleted, the CSV ledgers are truncated back to
// their headers, and the run state is reset. Input CSVs and the receptor
// survive. The operation is destructive, so it demands two confirmations.
package purge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/moldock/moldock/internal/project"
	"github.com/moldock/moldock/internal/state"
)

// ErrAborted is returned when a confirmation prompt is not answered "yes".
// Nothing has been deleted when Run returns it.
var ErrAborted = errors.New("purge aborted")

// foldersToClean are swept recursively. CSV files and VinaConfig.txt are
// kept everywhere; only known generated extensions are removed.
var foldersToClean = []string{
	"input",
	"output",
	"3D_Structures",
	"prepared_ligands",
	"results",
	"state",
	"logs",
}

var deleteExts = map[string]bool{
	".smi":   true,
	".sdf":   true,
	".pdbqt": true,
	".log":   true,
	".tmp":   true,
}

var keepFiles = map[string]bool{
	"VinaConfig.txt": true,
}

var summaryHeaders = []string{"id", "inchikey", "vina_score", "pose_path", "created_at"}
var leaderboardHeaders = []string{"rank", "id", "inchikey", "vina_score", "pose_path"}

// Result is the JSON result object emitted by purge.
type Result struct {
	OK         bool   `json:"ok"`
	ExitCode   int    `json:"exit_code"`
	Message    string `json:"message"`
	ProjectDir string `json:"project_dir"`
}

// PromptFunc asks the user one question and returns the raw answer.
type PromptFunc func(label string) (string, error)

// Purger drives one purge of one project.
type Purger struct {
	layout project.Layout
	out    io.Writer
	prompt PromptFunc
}

// New creates a Purger. Progress lines go to out; prompt supplies the two
// confirmation answers.
func New(dir string, out io.Writer, prompt PromptFunc) *Purger {
	return &Purger{layout: project.NewLayout(dir), out: out, prompt: prompt}
}

// Run validates the directory, asks for both confirmations, then cleans.
// Any confirmation failure aborts before the first deletion.
func (p *Purger) Run() (*Result, error) {
	if err := p.validateProjectDir(); err != nil {
		return nil, err
	}
	if err := p.confirm(); err != nil {
		return nil, err
	}

	for _, folder := range foldersToClean {
		p.cleanFolder(filepath.Join(p.layout.Root, folder))
	}

	p.truncateOrCreateCSV(p.layout.ManifestCSV(), state.ManifestFields)
	p.truncateOrCreateCSV(p.layout.SummaryCSV(), summaryHeaders)
	p.truncateOrCreateCSV(p.layout.LeaderboardCSV(), leaderboardHeaders)

	if err := p.resetRunStatus(); err != nil {
		return nil, err
	}
	_ = os.Remove(p.layout.ProgressJSON())
	_ = os.Remove(p.layout.WatcherStopFile())

	fmt.Fprintln(p.out, "\nPipeline cleaned. CSV headers preserved (or re-created), all other data cleared.")
	return &Result{OK: true, ExitCode: 0, Message: "purged", ProjectDir: p.layout.Root}, nil
}

// validateProjectDir refuses to touch a directory that does not look like a
// project. config/run.yml is the marker; a missing input table only warns.
func (p *Purger) validateProjectDir() error {
	if _, err := os.Stat(p.layout.ConfigFile()); err != nil {
		return fmt.Errorf("refusing to purge: directory does not look like a pipeline project, expected %s", p.layout.ConfigFile())
	}
	if _, err := os.Stat(p.layout.InputCSV()); err != nil {
		fmt.Fprintln(p.out, "[WARN] input/input.csv not found. Purge will continue, but a run will require this file.")
	}
	return nil
}

func (p *Purger) confirm() error {
	fmt.Fprintf(p.out, "\nBase Directory: %s\n", p.layout.Root)
	fmt.Fprintln(p.out, "This operation will:")
	fmt.Fprintf(p.out, " - Clean folders: %s\n", strings.Join(foldersToClean, ", "))
	fmt.Fprintln(p.out, " - Delete .smi, .sdf, .pdbqt, .log, .tmp files")
	fmt.Fprintln(p.out, " - Truncate or recreate manifest and result CSVs")
	fmt.Fprintln(p.out, " - Reset run_status.json and clear logs")
	fmt.Fprintln(p.out)

	for _, label := range []string{"Type 'yes' to continue", "Type 'yes' again to confirm"} {
		answer, err := p.prompt(label)
		if err != nil {
			return err
		}
		if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
			return ErrAborted
		}
	}
	return nil
}

// cleanFolder recursively deletes generated files under dir. CSVs and
// explicitly kept files are never touched; unknown extensions are left alone.
func (p *Purger) cleanFolder(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			p.cleanFolder(path)
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".csv" || keepFiles[entry.Name()] {
			continue
		}
		if !deleteExts[ext] {
			continue
		}
		fmt.Fprintf(p.out, "[DEL] %s\n", path)
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(p.out, "  [WARN] Could not delete %s: %v\n", path, err)
		}
	}
}

func (p *Purger) truncateOrCreateCSV(path string, headers []string) {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_, statErr := os.Stat(path)
	existed := statErr == nil
	if err := os.WriteFile(path, []byte(strings.Join(headers, ",")+"\n"), 0o644); err != nil {
		fmt.Fprintf(p.out, "  [WARN] Could not write %s: %v\n", path, err)
		return
	}
	action := "Truncated"
	if !existed {
		action = "Created new"
	}
	fmt.Fprintf(p.out, "[CSV] %s: %s\n", action, path)
}

func (p *Purger) resetRunStatus() error {
	if err := os.MkdirAll(p.layout.StateDir(), 0o755); err != nil {
		return err
	}
	if err := state.WriteJSON(p.layout.StatusJSON(), state.NewRunState()); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "[JSON] Reset: %s\n", p.layout.StatusJSON())
	return nil
}
