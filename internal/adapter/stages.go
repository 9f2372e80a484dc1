package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/moldock/moldock/internal/config"
	"github.com/moldock/moldock/internal/project"
)

// The four pipeline modules, in execution order.
const (
	ModuleAdmet   = "module1_admet"
	ModuleBuild3D = "module2_build3d"
	ModuleMeeko   = "module3_meeko"
	ModuleDocking = "module4_docking"
)

// Modules lists the pipeline modules in execution order.
var Modules = []string{ModuleAdmet, ModuleBuild3D, ModuleMeeko, ModuleDocking}

// Code maps a module name to its short code (M1..M4) used in status fields.
func Code(module string) string {
	switch module {
	case ModuleAdmet:
		return "M1"
	case ModuleBuild3D:
		return "M2"
	case ModuleMeeko:
		return "M3"
	case ModuleDocking:
		return "M4"
	}
	return module
}

// Canonical stage program filenames, invoked through the resolved
// interpreter with the project root as working directory.
var stageScripts = map[string]string{
	ModuleAdmet:   "Module 1.py",
	ModuleBuild3D: "Module 2.py",
	ModuleMeeko:   "Module 3.py",
}

const (
	dockingCPUScript = "Module 4a (CPU).py"
	dockingGPUScript = "Module 4b (GPU)v3.py"
)

// Spec describes one stage invocation.
type Spec struct {
	Module string
	Bin    string
	Args   []string
	Env    map[string]string
}

// environ is the full child environment: the parent environment with a
// forced UTF-8 text encoding, so non-ASCII stage output on constrained
// consoles cannot corrupt the capture, plus the Spec's own variables.
func (s Spec) environ() []string {
	env := append([]string(nil), os.Environ()...)
	env = append(env,
		"PYTHONIOENCODING=utf-8",
		"PYTHONUTF8=1",
		"PYTHONUNBUFFERED=1",
	)
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// SpecBuilder assembles stage Specs from the resolved configuration and the
// preflight-resolved tool identities.
type SpecBuilder struct {
	Layout       project.Layout
	Interpreter  string
	VinaPath     string
	ReceptorPath string
	Fingerprint  string
	Config       *config.Config
}

// scriptPath locates a canonical stage program under the configured scripts
// root, falling back to the directory of the running executable.
func (b *SpecBuilder) scriptPath(name string) string {
	root := b.Config.ScriptsRoot
	if root == "" {
		if exe, err := os.Executable(); err == nil {
			root = filepath.Dir(exe)
		}
	}
	if !filepath.IsAbs(root) && root != "" {
		root = filepath.Join(b.Layout.Root, root)
	}
	return filepath.Join(root, name)
}

// Build returns the Spec for module. onlyIDsFile scopes the invocation to a
// subset of ligands; empty means the whole input.
func (b *SpecBuilder) Build(module, onlyIDsFile string) (Spec, error) {
	env := map[string]string{}
	if onlyIDsFile != "" {
		env["MOLDOCK_ONLY_IDS_FILE"] = onlyIDsFile
	}

	if script, ok := stageScripts[module]; ok {
		return Spec{
			Module: module,
			Bin:    b.Interpreter,
			Args:   []string{b.scriptPath(script)},
			Env:    env,
		}, nil
	}

	if module != ModuleDocking {
		return Spec{}, fmt.Errorf("unknown module %q", module)
	}

	script := dockingCPUScript
	if b.Config.DockingMode == "gpu" {
		script = dockingGPUScript
		env["MOLDOCK_VINA_GPU_PATH"] = b.VinaPath
	} else {
		env["MOLDOCK_VINA_CPU_PATH"] = b.VinaPath
	}

	d := b.Config.Docking
	args := []string{
		b.scriptPath(script),
		"--vina", b.VinaPath,
		"--receptor", b.ReceptorPath,
		"--center_x", formatParam(d.CenterX),
		"--center_y", formatParam(d.CenterY),
		"--center_z", formatParam(d.CenterZ),
		"--size_x", formatParam(d.SizeX),
		"--size_y", formatParam(d.SizeY),
		"--size_z", formatParam(d.SizeZ),
		"--exhaustiveness", strconv.Itoa(d.Exhaustiveness),
		"--num_modes", strconv.Itoa(d.NumModes),
		"--energy_range", formatParam(d.EnergyRange),
		"--config-hash", b.Fingerprint,
	}

	return Spec{
		Module: module,
		Bin:    b.Interpreter,
		Args:   args,
		Env:    env,
	}, nil
}

func formatParam(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
