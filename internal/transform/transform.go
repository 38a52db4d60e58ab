// Package transform provides the opaque byte-to-byte transforms that tasks
// apply to their sources. The core never looks inside a transform; most are
// thin wrappers around an external tool (style compiler, minifier, bundler,
// image optimiser, markup beautifier).
package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Func turns source bytes into output bytes.
type Func func(ctx context.Context, src []byte) ([]byte, error)

// Identity returns src unchanged.
func Identity(_ context.Context, src []byte) ([]byte, error) {
	return src, nil
}

// Spec declares a transform in a pipeline file. It decodes from either a
// bare kind ("copy"), a sequence of steps (a chain) or a mapping.
type Spec struct {
	Kind    string        `yaml:"kind" json:"kind"`
	Command []string      `yaml:"command,omitempty" json:"command,omitempty"`
	Env     []string      `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Steps   []Spec        `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Kind = node.Value
		return nil
	case yaml.SequenceNode:
		s.Kind = KindChain
		return node.Decode(&s.Steps)
	case yaml.MappingNode:
		type plain Spec

		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}

		*s = Spec(p)

		return nil
	default:
		return fmt.Errorf("line %d: transform must be a string, list or mapping", node.Line)
	}
}

// ID returns a stable identity for the declared transform. It is part of
// every cache key so changing a command invalidates earlier outputs.
func (s Spec) ID() string {
	var b strings.Builder

	b.WriteString(s.Kind)

	if len(s.Command) > 0 {
		b.WriteString(":")
		b.WriteString(strings.Join(s.Command, "\x1f"))
	}

	if len(s.Env) > 0 {
		b.WriteString(";env=")
		b.WriteString(strings.Join(s.Env, "\x1f"))
	}

	if len(s.Steps) > 0 {
		b.WriteString("(")

		for i, step := range s.Steps {
			if i > 0 {
				b.WriteString("|")
			}

			b.WriteString(step.ID())
		}

		b.WriteString(")")
	}

	return b.String()
}

// Built-in transform kinds.
const (
	KindCopy  = "copy"
	KindExec  = "exec"
	KindChain = "chain"
)

// Builder constructs a Func from its declaration. The registry is passed so
// composite kinds can build their steps.
type Builder func(r *Registry, spec Spec) (Func, error)

// Registry maps transform kinds to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// DefaultRegistry returns a registry with the built-in kinds registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindCopy, buildCopy)
	r.Register(KindExec, buildExec)
	r.Register(KindChain, buildChain)

	return r
}

// Register adds or replaces the builder for kind.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.builders[kind] = b
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

// Build resolves spec into a Func and its cache identity.
func (r *Registry) Build(spec Spec) (Func, string, error) {
	kind := spec.Kind
	if kind == "" {
		kind = KindCopy
		spec.Kind = KindCopy
	}

	r.mu.RLock()
	b, ok := r.builders[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, "", fmt.Errorf("unknown transform kind %q (known: %s)", kind, strings.Join(r.Kinds(), ", "))
	}

	fn, err := b(r, spec)
	if err != nil {
		return nil, "", fmt.Errorf("transform %q: %w", kind, err)
	}

	return fn, spec.ID(), nil
}

func buildCopy(_ *Registry, _ Spec) (Func, error) {
	return Identity, nil
}

func buildChain(r *Registry, spec Spec) (Func, error) {
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("chain needs at least one step")
	}

	steps := make([]Func, 0, len(spec.Steps))

	for i, s := range spec.Steps {
		fn, _, err := r.Build(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		steps = append(steps, fn)
	}

	return Chain(steps...), nil
}

// Chain composes fns left to right.
func Chain(fns ...Func) Func {
	return func(ctx context.Context, src []byte) ([]byte, error) {
		out := src

		for i, fn := range fns {
			var err error

			out, err = fn(ctx, out)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
		}

		return out, nil
	}
}
