package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	sigsyaml "sigs.k8s.io/yaml"
)

// Overrides holds local, per-developer task overrides loaded from the
// config file (.assetflow.yaml). They let one machine tweak a shared
// pipeline without editing it.
type Overrides struct {
	// Tasks maps task names to their overrides.
	Tasks map[string]TaskOverride `json:"tasks,omitempty"`
}

// TaskOverride changes selected settings of one declared task.
type TaskOverride struct {
	// Cache forces the artifact cache on or off.
	Cache *bool `json:"cache,omitempty"`

	// Reload replaces the reload kind (full, style or none).
	Reload string `json:"reload,omitempty"`

	// Env is appended to the environment of exec transforms.
	Env []string `json:"env,omitempty"`
}

// taskNamePattern validates override keys.
var taskNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]*$`)

var envPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// ParseOverrides parses the overrides section from raw config file bytes.
// Other top-level keys are ignored.
func ParseOverrides(data []byte) (*Overrides, error) {
	var raw struct {
		Overrides Overrides `json:"overrides,omitempty"`
	}

	if err := sigsyaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing overrides: %w", err)
	}

	o := raw.Overrides

	if err := o.Validate(); err != nil {
		return nil, err
	}

	return &o, nil
}

// LoadOverrides reads the overrides from the config file at path. An empty
// path yields empty overrides.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return &Overrides{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	return ParseOverrides(data)
}

// Validate checks the overrides for correctness.
func (o *Overrides) Validate() error {
	for _, name := range o.Names() {
		ov := o.Tasks[name]

		if !taskNamePattern.MatchString(name) {
			return fmt.Errorf("overrides.tasks[%s]: invalid task name", name)
		}

		switch ov.Reload {
		case "", "full", "style", "none":
			// valid
		default:
			return fmt.Errorf("overrides.tasks[%s]: invalid reload %q (must be full, style, or none)", name, ov.Reload)
		}

		for _, kv := range ov.Env {
			if !envPattern.MatchString(kv) {
				return fmt.Errorf("overrides.tasks[%s]: env entry %q must be KEY=VALUE", name, kv)
			}
		}
	}

	return nil
}

// Names returns the overridden task names, sorted.
func (o *Overrides) Names() []string {
	names := make([]string, 0, len(o.Tasks))
	for n := range o.Tasks {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// IsEmpty returns true if the config has no overrides.
func (o *Overrides) IsEmpty() bool {
	return len(o.Tasks) == 0
}
