package engine

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/moldock/moldock/internal/adapter"
	"github.com/moldock/moldock/internal/project"
	"github.com/moldock/moldock/internal/state"
)

// InputRow is one ligand from input/input.csv.
type InputRow struct {
	ID     string
	SMILES string
}

// ReadInputRows reads the ligand input table, keeping rows with both an id
// and a SMILES string. Order follows the file.
func ReadInputRows(path string) ([]InputRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read input table %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	idCol, smilesCol := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "id":
			idCol = i
		case "smiles":
			smilesCol = i
		}
	}
	if idCol < 0 || smilesCol < 0 {
		return nil, fmt.Errorf("input table %s: missing id or smiles column", path)
	}

	var rows []InputRow
	for _, rec := range records[1:] {
		if idCol >= len(rec) || smilesCol >= len(rec) {
			continue
		}
		id := strings.TrimSpace(rec[idCol])
		smiles := strings.TrimSpace(rec[smilesCol])
		if id != "" && smiles != "" {
			rows = append(rows, InputRow{ID: id, SMILES: smiles})
		}
	}
	return rows, nil
}

// Reason categories for why a ligand is scheduled for a stage.
const (
	ReasonStatusNotDone = "status_not_done"
	ReasonMissing       = "missing"
	ReasonFailed        = "failed"
	ReasonStale         = "stale"
)

// WorkPlan is the per-stage set of ligands that still need work. A stage with
// an empty todo set is skippable: every unit already shows terminal success
// for it under the current configuration.
type WorkPlan struct {
	todo    map[string]map[string]struct{}
	Reasons map[string]map[string][]string `json:"reasons"`
	Inputs  int                            `json:"inputs"`
}

// Todo returns the sorted ligand ids scheduled for module.
func (p *WorkPlan) Todo(module string) []string {
	ids := make([]string, 0, len(p.todo[module]))
	for id := range p.todo[module] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Skippable reports whether module has no pending work.
func (p *WorkPlan) Skippable(module string) bool {
	return len(p.todo[module]) == 0
}

// Stats summarizes the plan for logging and validate output.
func (p *WorkPlan) Stats() map[string]interface{} {
	counts := map[string]interface{}{"input_ids": p.Inputs}
	for _, m := range adapter.Modules {
		counts[m+"_todo"] = len(p.todo[m])
	}
	return counts
}

func (p *WorkPlan) schedule(module, id, reason string) {
	p.todo[module][id] = struct{}{}
	if reason != "" {
		p.Reasons[module][reason] = append(p.Reasons[module][reason], id)
	}
}

// isAdmetPass interprets the stage-1 decision column.
func isAdmetPass(value string) bool {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PASS", "PASSED", "OK", "TRUE", "1", "Y", "YES":
		return true
	}
	return false
}

func existsNonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

// ComputePlan builds the WorkPlan by walking every input ligand and checking
// its manifest row, its on-disk artifacts, and the config fingerprint its
// results were produced under. Invalidating an upstream stage cascades to
// every stage downstream of it.
func ComputePlan(layout project.Layout, inputs []InputRow, manifest []state.ManifestRow, fingerprint, receptorSHA1 string) *WorkPlan {
	plan := &WorkPlan{
		todo:    map[string]map[string]struct{}{},
		Reasons: map[string]map[string][]string{},
		Inputs:  len(inputs),
	}
	for _, m := range adapter.Modules {
		plan.todo[m] = map[string]struct{}{}
		plan.Reasons[m] = map[string][]string{}
	}

	byID := make(map[string]state.ManifestRow, len(manifest))
	for _, row := range manifest {
		if id := strings.TrimSpace(row["id"]); id != "" {
			byID[id] = row
		}
	}

	sorted := append([]InputRow(nil), inputs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, in := range sorted {
		row := byID[in.ID]
		admet := strings.ToUpper(strings.TrimSpace(row["admet_status"]))
		sdfStatus := strings.ToUpper(strings.TrimSpace(row["sdf_status"]))
		pdbqtStatus := strings.ToUpper(strings.TrimSpace(row["pdbqt_status"]))
		vinaStatus := strings.ToUpper(strings.TrimSpace(row["vina_status"]))

		// The input SMILES changing invalidates everything downstream of
		// stage 1 for this ligand.
		smilesChanged := row["smiles"] != "" && row["smiles"] != in.SMILES

		if admet != "PASS" && admet != "FAIL" {
			plan.schedule(adapter.ModuleAdmet, in.ID, ReasonStatusNotDone)
		}

		if !isAdmetPass(admet) {
			continue
		}

		s2 := false
		switch {
		case sdfStatus == "FAILED":
			plan.schedule(adapter.ModuleBuild3D, in.ID, ReasonFailed)
			s2 = true
		case sdfStatus != "DONE":
			plan.schedule(adapter.ModuleBuild3D, in.ID, ReasonStatusNotDone)
			s2 = true
		case !existsNonEmpty(layout.SDFPath(in.ID)):
			plan.schedule(adapter.ModuleBuild3D, in.ID, ReasonMissing)
			s2 = true
		case smilesChanged:
			plan.schedule(adapter.ModuleBuild3D, in.ID, ReasonStale)
			s2 = true
		}

		s3 := s2
		if s3 {
			plan.schedule(adapter.ModuleMeeko, in.ID, ReasonStale)
		} else {
			switch {
			case pdbqtStatus == "FAILED":
				plan.schedule(adapter.ModuleMeeko, in.ID, ReasonFailed)
				s3 = true
			case pdbqtStatus != "DONE":
				plan.schedule(adapter.ModuleMeeko, in.ID, ReasonStatusNotDone)
				s3 = true
			case !existsNonEmpty(layout.PDBQTPath(in.ID)):
				plan.schedule(adapter.ModuleMeeko, in.ID, ReasonMissing)
				s3 = true
			}
		}

		s4 := s3
		if s4 {
			plan.schedule(adapter.ModuleDocking, in.ID, ReasonStale)
		} else {
			switch {
			case vinaStatus == "FAILED":
				plan.schedule(adapter.ModuleDocking, in.ID, ReasonFailed)
			case vinaStatus != "DONE":
				plan.schedule(adapter.ModuleDocking, in.ID, ReasonStatusNotDone)
			case !existsNonEmpty(layout.VinaOutPath(in.ID)):
				plan.schedule(adapter.ModuleDocking, in.ID, ReasonMissing)
			case row["config_hash"] != fingerprint:
				plan.schedule(adapter.ModuleDocking, in.ID, ReasonStale)
			case receptorSHA1 != "" && row["receptor_sha1"] != "" && row["receptor_sha1"] != receptorSHA1:
				plan.schedule(adapter.ModuleDocking, in.ID, ReasonStale)
			}
		}
	}

	for _, m := range adapter.Modules {
		for reason := range plan.Reasons[m] {
			sort.Strings(plan.Reasons[m][reason])
		}
	}
	return plan
}
