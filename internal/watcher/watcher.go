// Package watcher implements the progress watcher: an independent process
// that polls a project's artifact directories and publishes an ephemeral
// progress snapshot for low-latency external polling. It never reads or
// writes the manifest or the authoritative run state; coordination with the
// runner happens only through a terminal marker file, so a watcher crash can
// never affect runner correctness.
package watcher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moldock/moldock/internal/project"
	"github.com/moldock/moldock/internal/state"
)

// Counts is the raw artifact tally of one polling cycle. TotalInput is nil
// until the input table is readable.
type Counts struct {
	TotalInput  *int `json:"total_input"`
	AdmetPassed int  `json:"admet_passed"`
	SDF         int  `json:"sdf"`
	PDBQT       int  `json:"pdbqt"`
	VinaDone    int  `json:"vina_done"`
}

// Snapshot is the derived progress document published every cycle. Ratios
// are nil when their denominator cannot be determined yet.
type Snapshot struct {
	RunID         string              `json:"run_id"`
	Phase         string              `json:"phase"`
	CurrentModule string              `json:"current_module"`
	Timestamp     string              `json:"timestamp"`
	ElapsedSec    float64             `json:"elapsed_sec"`
	Counts        Counts              `json:"counts"`
	Progress      map[string]*float64 `json:"progress"`
	Message       string              `json:"message"`
}

// Watcher polls one project at a fixed interval.
type Watcher struct {
	layout   project.Layout
	runID    string
	interval time.Duration
	log      zerolog.Logger
}

// MinInterval is the polling floor; anything faster just burns the disk.
const MinInterval = 200 * time.Millisecond

// New creates a Watcher for the project at dir.
func New(dir, runID string, interval time.Duration, log zerolog.Logger) *Watcher {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Watcher{
		layout:   project.NewLayout(dir),
		runID:    runID,
		interval: interval,
		log:      log,
	}
}

// Run polls until the terminal marker appears or ctx is canceled, publishing
// a snapshot every cycle. The final snapshot is republished before exit so
// the terminal state is durable.
func (w *Watcher) Run(ctx context.Context) error {
	start := time.Now()

	if _, err := os.Stat(w.layout.Root); err != nil {
		snap := w.emptySnapshot("failed", fmt.Sprintf("project directory does not exist: %s", w.layout.Root))
		w.publish(snap)
		return fmt.Errorf("project directory does not exist: %s", w.layout.Root)
	}

	initial := w.emptySnapshot("starting", "")
	if err := state.WriteJSON(w.layout.ProgressJSON(), initial); err != nil {
		return fmt.Errorf("write initial snapshot: %w", err)
	}

	last := initial
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		phase, message := w.readStopMarker()
		if phase == "" {
			phase = "running"
		}

		snap := w.buildSnapshot(start, phase, message)
		w.publish(snap)
		last = snap

		if phase == "completed" || phase == "failed" {
			break
		}

		select {
		case <-ctx.Done():
			w.publish(last)
			return ctx.Err()
		case <-ticker.C:
		}
	}

	w.publish(last)
	return nil
}

// publish writes the snapshot atomically; when even that fails, fall back to
// a plain write so an observer at least sees the failure message.
func (w *Watcher) publish(snap *Snapshot) {
	if err := state.WriteJSON(w.layout.ProgressJSON(), snap); err != nil {
		w.log.Warn().Err(err).Msg("atomic snapshot write failed")
		snap.Message = strings.TrimSpace(snap.Message + " write_error=" + err.Error())
		if data, merr := json.MarshalIndent(snap, "", "  "); merr == nil {
			_ = os.WriteFile(w.layout.ProgressJSON(), append(data, '\n'), 0o644)
		}
	}
}

// readStopMarker reads the terminal marker the runner leaves behind:
// "<phase>|<message>", phase one of running/completed/failed. A bare or
// unreadable marker counts as completed.
func (w *Watcher) readStopMarker() (string, string) {
	data, err := os.ReadFile(w.layout.WatcherStopFile())
	if err != nil {
		return "", ""
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "completed", ""
	}
	parts := strings.SplitN(raw, "|", 2)
	phase := strings.ToLower(strings.TrimSpace(parts[0]))
	switch phase {
	case "running", "completed", "failed":
	default:
		phase = "completed"
	}
	message := ""
	if len(parts) > 1 {
		message = strings.TrimSpace(parts[1])
	}
	return phase, message
}

func (w *Watcher) emptySnapshot(phase, message string) *Snapshot {
	return &Snapshot{
		RunID:         w.runID,
		Phase:         phase,
		CurrentModule: "M1",
		Timestamp:     state.UTCNow(),
		ElapsedSec:    0,
		Progress:      map[string]*float64{"M1": nil, "M2": nil, "M3": nil, "M4": nil},
	}
}

// buildSnapshot samples the disk: input rows, stage-1 pass decisions, and
// per-stage output file counts, then derives completion ratios against the
// best-known denominator for each stage.
func (w *Watcher) buildSnapshot(start time.Time, phase, message string) *Snapshot {
	totalInput := countInputRows(w.layout.InputCSV())
	admetPassed, admetRows := countAdmetDecisions(w.layout.AdmetCSV())
	sdf := countFilesWithSuffix(w.layout.SDFDir(), ".sdf")
	pdbqt := countFilesWithSuffix(w.layout.PDBQTDir(), ".pdbqt")
	vinaDone := countFilesWithSuffix(w.layout.ResultsDir(), "_out.pdbqt")

	if totalInput == nil {
		fallback := 0
		if admetRows != nil {
			fallback = *admetRows
		}
		if fallback <= 0 {
			for _, n := range []int{sdf, pdbqt, vinaDone} {
				if n > 0 {
					fallback = n
					break
				}
			}
		}
		if fallback > 0 {
			totalInput = &fallback
		}
	}

	m2Denom := totalInput
	if admetPassed > 0 {
		m2Denom = &admetPassed
	}
	var m3Denom, m4Denom *int
	if sdf > 0 {
		m3Denom = &sdf
	}
	if pdbqt > 0 {
		m4Denom = &pdbqt
	}

	return &Snapshot{
		RunID:         w.runID,
		Phase:         phase,
		CurrentModule: detectCurrentModule(sdf, pdbqt, vinaDone),
		Timestamp:     state.UTCNow(),
		ElapsedSec:    math.Round(time.Since(start).Seconds()*100) / 100,
		Counts: Counts{
			TotalInput:  totalInput,
			AdmetPassed: admetPassed,
			SDF:         sdf,
			PDBQT:       pdbqt,
			VinaDone:    vinaDone,
		},
		Progress: map[string]*float64{
			"M1": nil,
			"M2": clipRatio(sdf, m2Denom),
			"M3": clipRatio(pdbqt, m3Denom),
			"M4": clipRatio(vinaDone, m4Denom),
		},
		Message: message,
	}
}

// detectCurrentModule infers which stage the pipeline is in from which
// artifacts exist so far.
func detectCurrentModule(sdf, pdbqt, vinaDone int) string {
	switch {
	case vinaDone > 0:
		return "M4"
	case pdbqt > 0:
		return "M3"
	case sdf > 0:
		return "M2"
	}
	return "M1"
}

// clipRatio computes numerator/denominator clipped to [0,1] at 4 decimal
// places, or nil when the denominator is unknown.
func clipRatio(numerator int, denominator *int) *float64 {
	if denominator == nil || *denominator <= 0 {
		return nil
	}
	v := float64(numerator) / float64(*denominator)
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	v = math.Round(v*1e4) / 1e4
	return &v
}

// countFilesWithSuffix counts regular files in dir whose lowercase name ends
// with suffix. Missing or unreadable directories count as zero.
func countFilesWithSuffix(dir, suffix string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	suffix = strings.ToLower(suffix)
	total := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(strings.ToLower(entry.Name()), suffix) {
			total++
		}
	}
	return total
}

// countInputRows counts non-blank data rows of the input table, nil when the
// table is missing or unreadable.
func countInputRows(path string) *int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil
	}
	count := 0
	for i, rec := range records {
		if i == 0 {
			continue
		}
		for _, cell := range rec {
			if strings.TrimSpace(cell) != "" {
				count++
				break
			}
		}
	}
	return &count
}

// countAdmetDecisions returns (passed, total) from the stage-1 decision
// table; total is nil when the table is missing or unreadable.
func countAdmetDecisions(path string) (int, *int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		return 0, nil
	}

	decisionCol := -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "admet_decision", "admet_status", "decision":
			if decisionCol < 0 {
				decisionCol = i
			}
		}
	}

	passed, total := 0, 0
	for _, rec := range records[1:] {
		total++
		if decisionCol >= 0 && decisionCol < len(rec) {
			if strings.ToUpper(strings.TrimSpace(rec[decisionCol])) == "PASS" {
				passed++
			}
		}
	}
	return passed, &total
}
