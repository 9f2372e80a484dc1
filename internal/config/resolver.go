package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a malformed or unresolvable configuration value. Key is
// the offending key path when known. Resolution never partially succeeds: any
// ConfigError aborts before a stage runs.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Resolve merges the built-in defaults, the project config file (if present),
// and the caller override map, in that order. Later layers win key-by-key; an
// override replaces the whole subtree at its key, nested structures are not
// deep-merged. The returned Resolved carries the fingerprint of the merged
// structure.
func Resolve(configFile string, overrides map[string]interface{}) (*Resolved, error) {
	merged := defaults()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var fileLayer map[string]interface{}
			if err := yaml.Unmarshal(data, &fileLayer); err != nil {
				return nil, &ConfigError{Key: configFile, Err: fmt.Errorf("parse yaml: %w", err)}
			}
			merged = overlay(merged, fileLayer)
		} else if !os.IsNotExist(err) {
			return nil, &ConfigError{Key: configFile, Err: err}
		}
	}

	merged = overlay(merged, overrides)

	fp, err := Fingerprint(merged)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("fingerprint: %w", err)}
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Resolved{Values: merged, Config: *cfg, Fingerprint: fp}, nil
}

// overlay applies layer on top of base, replacing values wholesale per key.
func overlay(base, layer map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(layer))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range layer {
		out[k] = v
	}
	return out
}

// decode converts the merged raw map into the typed Config by round-tripping
// through yaml, so file values and override values follow identical coercion
// rules.
func decode(merged map[string]interface{}) (*Config, error) {
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("marshal merged config: %w", err)}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode merged config: %w", err)}
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.DockingMode {
	case "cpu", "gpu":
	default:
		return &ConfigError{Key: "docking_mode", Err: fmt.Errorf("must be %q or %q, got %q", "cpu", "gpu", cfg.DockingMode)}
	}
	if cfg.StageTimeout != "" {
		if _, err := time.ParseDuration(cfg.StageTimeout); err != nil {
			return &ConfigError{Key: "stage_timeout", Err: err}
		}
	}
	if cfg.Docking.Exhaustiveness <= 0 {
		return &ConfigError{Key: "docking.exhaustiveness", Err: fmt.Errorf("must be positive, got %d", cfg.Docking.Exhaustiveness)}
	}
	if cfg.Docking.NumModes <= 0 {
		return &ConfigError{Key: "docking.num_modes", Err: fmt.Errorf("must be positive, got %d", cfg.Docking.NumModes)}
	}
	if cfg.Docking.SizeX <= 0 || cfg.Docking.SizeY <= 0 || cfg.Docking.SizeZ <= 0 {
		return &ConfigError{Key: "docking.size_x", Err: fmt.Errorf("box dimensions must be positive")}
	}
	return nil
}
