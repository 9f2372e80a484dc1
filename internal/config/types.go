// Package config resolves the three-layer run configuration (built-in
// defaults, project config file, caller overrides) into one immutable
// structure with a deterministic fingerprint.
package config

import "time"

// DockingParams is the search box geometry and scoring knobs passed through
// to the docking module.
type DockingParams struct {
	CenterX        float64 `yaml:"center_x" json:"center_x"`
	CenterY        float64 `yaml:"center_y" json:"center_y"`
	CenterZ        float64 `yaml:"center_z" json:"center_z"`
	SizeX          float64 `yaml:"size_x" json:"size_x"`
	SizeY          float64 `yaml:"size_y" json:"size_y"`
	SizeZ          float64 `yaml:"size_z" json:"size_z"`
	Exhaustiveness int     `yaml:"exhaustiveness" json:"exhaustiveness"`
	NumModes       int     `yaml:"num_modes" json:"num_modes"`
	EnergyRange    float64 `yaml:"energy_range" json:"energy_range"`
}

// Tools holds explicit binary locations and the shared tool root searched
// when no explicit path is set.
type Tools struct {
	Root        string `yaml:"root" json:"root"`
	PythonPath  string `yaml:"python_path" json:"python_path"`
	VinaCPUPath string `yaml:"vina_cpu_path" json:"vina_cpu_path"`
	VinaGPUPath string `yaml:"vina_gpu_path" json:"vina_gpu_path"`
}

// Config is the typed view of a resolved configuration.
type Config struct {
	DockingMode    string        `yaml:"docking_mode" json:"docking_mode"`
	ReceptorPath   string        `yaml:"receptor_path" json:"receptor_path"`
	ScriptsRoot    string        `yaml:"scripts_root" json:"scripts_root"`
	StrictVersions bool          `yaml:"strict_versions" json:"strict_versions"`
	StageTimeout   string        `yaml:"stage_timeout" json:"stage_timeout"`
	Tools          Tools         `yaml:"tools" json:"tools"`
	Docking        DockingParams `yaml:"docking" json:"docking"`
}

// StageTimeoutDuration parses the per-stage timeout, defaulting to 2h when
// the value is empty or unparsable.
func (c *Config) StageTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.StageTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

// Resolved is an immutable resolved configuration: the merged raw values
// (the hashing input), the typed view, and the fingerprint. Created once per
// run invocation and never mutated.
type Resolved struct {
	Values      map[string]interface{}
	Config      Config
	Fingerprint string
}

// defaults returns the built-in base layer.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"docking_mode":    "cpu",
		"receptor_path":   "",
		"scripts_root":    "",
		"strict_versions": false,
		"stage_timeout":   "2h",
		"tools": map[string]interface{}{
			"root":          "",
			"python_path":   "",
			"vina_cpu_path": "",
			"vina_gpu_path": "",
		},
		"docking": map[string]interface{}{
			"center_x":       0.0,
			"center_y":       0.0,
			"center_z":       0.0,
			"size_x":         20.0,
			"size_y":         20.0,
			"size_z":         20.0,
			"exhaustiveness": 8,
			"num_modes":      9,
			"energy_range":   3.0,
		},
	}
}
