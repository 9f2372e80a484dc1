package state

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ManifestFields is the fixed column order of state/manifest.csv. One row per
// ligand, one status column per pipeline stage, plus the config fingerprint
// the row was produced under.
var ManifestFields = []string{
	"id",
	"smiles",
	"inchikey",
	"admet_status",
	"admet_reason",
	"sdf_status",
	"sdf_path",
	"sdf_reason",
	"pdbqt_status",
	"pdbqt_path",
	"pdbqt_reason",
	"vina_status",
	"vina_score",
	"vina_pose",
	"vina_reason",
	"config_hash",
	"receptor_sha1",
	"tools_rdkit",
	"tools_meeko",
	"tools_vina",
	"created_at",
	"updated_at",
}

// ManifestRow is one ligand's row, keyed by column name. Columns absent from
// the map are written as empty strings.
type ManifestRow map[string]string

// ReadManifest reads all rows from path. A missing file yields no rows.
func ReadManifest(path string) ([]ManifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]ManifestRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(ManifestRow, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteManifest writes rows to path atomically with the canonical header.
func WriteManifest(path string, rows []ManifestRow) error {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(ManifestFields); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	rec := make([]string, len(ManifestFields))
	for _, row := range rows {
		for i, col := range ManifestFields {
			rec[i] = row[col]
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write manifest row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	return WriteAtomic(path, []byte(sb.String()))
}

// UpsertManifestRows applies updates by ligand id, preserving columns the
// update does not mention on existing rows. New ids are appended; the final
// order is existing order first, then new ids sorted.
func UpsertManifestRows(path string, updates map[string]ManifestRow) error {
	rows, err := ReadManifest(path)
	if err != nil {
		return err
	}

	now := UTCNow()
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		index[strings.TrimSpace(row["id"])] = i
	}

	var newIDs []string
	for id := range updates {
		if _, ok := index[id]; !ok {
			newIDs = append(newIDs, id)
		}
	}
	sort.Strings(newIDs)

	for id, update := range updates {
		if i, ok := index[id]; ok {
			for col, val := range update {
				rows[i][col] = val
			}
			rows[i]["updated_at"] = now
		}
	}
	for _, id := range newIDs {
		row := ManifestRow{"id": id, "created_at": now, "updated_at": now}
		for col, val := range updates[id] {
			row[col] = val
		}
		rows = append(rows, row)
	}

	return WriteManifest(path, rows)
}
