package engine

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/moldock/moldock/internal/adapter"
	"github.com/moldock/moldock/internal/preflight"
	"github.com/moldock/moldock/internal/state"
)

// stampManifest records per-unit outcomes for a stage that just succeeded.
// Only rows for ligands the stage was scheduled to process are touched; the
// on-disk artifact is the evidence of completion, independent of what the
// subprocess claimed before it exited.
func (e *Engine) stampManifest(module string, todo []string, inputs []InputRow, report *preflight.Report, fingerprint, receptorSHA1 string) error {
	scheduled := make(map[string]bool, len(todo))
	for _, id := range todo {
		scheduled[id] = true
	}

	updates := map[string]state.ManifestRow{}
	stampTools := func(row state.ManifestRow) state.ManifestRow {
		row["tools_rdkit"] = report.Versions["rdkit"]
		row["tools_meeko"] = report.Versions["meeko"]
		row["tools_vina"] = report.Versions["vina"]
		return row
	}

	switch module {
	case adapter.ModuleAdmet:
		decisions, reasons := readAdmetDecisions(e.layout.AdmetCSV())
		for id, decision := range decisions {
			if !scheduled[id] {
				continue
			}
			row := state.ManifestRow{"admet_status": decision}
			if r := reasons[id]; r != "" {
				row["admet_reason"] = r
			}
			updates[id] = stampTools(row)
		}

	case adapter.ModuleBuild3D:
		smilesByID := make(map[string]string, len(inputs))
		for _, in := range inputs {
			smilesByID[in.ID] = in.SMILES
		}
		for _, id := range todo {
			row := state.ManifestRow{}
			if existsNonEmpty(e.layout.SDFPath(id)) {
				row["sdf_status"] = "DONE"
				row["sdf_path"] = e.layout.SDFPath(id)
				row["sdf_reason"] = ""
				// Record the SMILES the structure was built from, so
				// the row is current against the input table again.
				if s := smilesByID[id]; s != "" {
					row["smiles"] = s
				}
			} else {
				row["sdf_status"] = "FAILED"
				row["sdf_reason"] = "missing_output"
			}
			updates[id] = stampTools(row)
		}

	case adapter.ModuleMeeko:
		for _, id := range todo {
			row := state.ManifestRow{}
			if existsNonEmpty(e.layout.PDBQTPath(id)) {
				row["pdbqt_status"] = "DONE"
				row["pdbqt_path"] = e.layout.PDBQTPath(id)
				row["pdbqt_reason"] = ""
			} else {
				row["pdbqt_status"] = "FAILED"
				row["pdbqt_reason"] = "missing_output"
			}
			updates[id] = stampTools(row)
		}

	case adapter.ModuleDocking:
		scores := readSummaryScores(e.layout.SummaryCSV())
		for _, id := range todo {
			row := state.ManifestRow{
				"config_hash":   fingerprint,
				"receptor_sha1": receptorSHA1,
			}
			if existsNonEmpty(e.layout.VinaOutPath(id)) {
				row["vina_status"] = "DONE"
				row["vina_pose"] = e.layout.VinaOutPath(id)
				row["vina_reason"] = ""
				if s := scores[id]; s != "" {
					row["vina_score"] = s
				}
			} else {
				row["vina_status"] = "FAILED"
				row["vina_reason"] = dockingFailureReason(e.layout.VinaLogPath(id))
			}
			updates[id] = stampTools(row)
		}
	}

	if len(updates) == 0 {
		return nil
	}
	return state.UpsertManifestRows(e.layout.ManifestCSV(), updates)
}

// dockingFailureReason reports why a pose is absent, pulling the last line
// of the ligand's vina log when the docking program left one.
func dockingFailureReason(logPath string) string {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return "missing_output"
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return "missing_output: " + line
		}
	}
	return "missing_output"
}

// readAdmetDecisions parses the stage-1 decision table, accepting the column
// aliases the upstream filter has used over time.
func readAdmetDecisions(path string) (map[string]string, map[string]string) {
	decisions := map[string]string{}
	reasons := map[string]string{}

	f, err := os.Open(path)
	if err != nil {
		return decisions, reasons
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		return decisions, reasons
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, ok := col["id"]
	if !ok {
		return decisions, reasons
	}
	decisionCol := -1
	for _, name := range []string{"admet_decision", "admet_status", "decision"} {
		if i, ok := col[name]; ok {
			decisionCol = i
			break
		}
	}
	if decisionCol < 0 {
		return decisions, reasons
	}
	reasonCol := -1
	for _, name := range []string{"admet_reason", "reason"} {
		if i, ok := col[name]; ok {
			reasonCol = i
			break
		}
	}

	for _, rec := range records[1:] {
		if idCol >= len(rec) || decisionCol >= len(rec) {
			continue
		}
		id := strings.TrimSpace(rec[idCol])
		if id == "" {
			continue
		}
		decision := strings.ToUpper(strings.TrimSpace(rec[decisionCol]))
		if decision == "" {
			continue
		}
		if decision != "FAIL" && isAdmetPass(decision) {
			decision = "PASS"
		}
		decisions[id] = decision
		if reasonCol >= 0 && reasonCol < len(rec) {
			reasons[id] = strings.TrimSpace(rec[reasonCol])
		}
	}
	return decisions, reasons
}

// readSummaryScores maps ligand id to docking score from results/summary.csv
// when the docking module produced one.
func readSummaryScores(path string) map[string]string {
	scores := map[string]string{}

	f, err := os.Open(path)
	if err != nil {
		return scores
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) == 0 {
		return scores
	}

	idCol, scoreCol := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "id":
			idCol = i
		case "vina_score", "score":
			scoreCol = i
		}
	}
	if idCol < 0 || scoreCol < 0 {
		return scores
	}
	for _, rec := range records[1:] {
		if idCol < len(rec) && scoreCol < len(rec) {
			if id := strings.TrimSpace(rec[idCol]); id != "" {
				scores[id] = strings.TrimSpace(rec[scoreCol])
			}
		}
	}
	return scores
}
