// Package pipeline loads the declarative pipeline file (assetflow.yaml) and
// compiles it into tasks, watch subscriptions and clean targets.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/assetflow/internal/transform"
)

// File is the decoded pipeline file.
type File struct {
	// Requires is a semantic version constraint on the assetflow binary.
	Requires string `yaml:"requires,omitempty"`
	// Clean lists the paths removed before a full build. When nil, task
	// destinations that are not also sources are cleaned.
	Clean []string `yaml:"clean,omitempty"`
	// Tasks declares the build tasks.
	Tasks []TaskDecl `yaml:"tasks"`
	// Watch declares the watch subscriptions. When empty, every task
	// watches its own sources.
	Watch []WatchDecl `yaml:"watch,omitempty"`
}

// TaskDecl declares one task.
type TaskDecl struct {
	Name      string         `yaml:"name"`
	Src       StringList     `yaml:"src"`
	Dest      string         `yaml:"dest"`
	Bundle    bool           `yaml:"bundle,omitempty"`
	Ext       string         `yaml:"ext,omitempty"`
	Transform transform.Spec `yaml:"transform,omitempty"`
	DependsOn []string       `yaml:"depends-on,omitempty"`
	Cache     bool           `yaml:"cache,omitempty"`
	Reload    string         `yaml:"reload,omitempty"`
}

// WatchDecl declares one watch subscription. Without tasks it only reloads
// the preview.
type WatchDecl struct {
	Name   string     `yaml:"name,omitempty"`
	Src    StringList `yaml:"src"`
	Tasks  []string   `yaml:"tasks,omitempty"`
	Reload string     `yaml:"reload,omitempty"`
}

// StringList decodes from a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}

		*l = items

		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// Parse decodes a pipeline file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pipeline file is empty")
		}

		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}

	if len(f.Tasks) == 0 {
		return nil, errors.New("pipeline declares no tasks")
	}

	return &f, nil
}
