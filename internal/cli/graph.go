package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/assetflow/internal/graph"
)

// graphView is the machine-readable form of the task graph.
type graphView struct {
	Order []string   `json:"order"`
	Waves [][]string `json:"waves"`
	Tasks []taskView `json:"tasks"`
}

type taskView struct {
	Name       string   `json:"name"`
	Sources    []string `json:"sources"`
	Dest       string   `json:"dest"`
	Bundle     bool     `json:"bundle,omitempty"`
	Cache      bool     `json:"cache,omitempty"`
	Reload     string   `json:"reload"`
	Transform  string   `json:"transform"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the task graph and its execution waves",
		Long: `Graph validates the pipeline and prints every task with its
dependencies, followed by the waves a full build runs: tasks in the same
wave have no dependencies on each other and run in parallel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := loadProject(cmd.Context())
			if err != nil {
				return err
			}

			view, err := newGraphView(proj.pipeline.Graph)
			if err != nil {
				return configError(err)
			}

			w := cmd.OutOrStdout()

			switch strings.ToLower(format) {
			case "text", "":
				writeGraphText(w, view)
				return nil
			case "json":
				data, err := json.MarshalIndent(view, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding graph: %w", err)
				}

				_, err = fmt.Fprintln(w, string(data))

				return err
			case "yaml":
				data, err := sigsyaml.Marshal(view)
				if err != nil {
					return fmt.Errorf("encoding graph: %w", err)
				}

				_, err = w.Write(data)

				return err
			default:
				return configError(fmt.Errorf("invalid output format %q: must be text, json or yaml", format))
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json, yaml")

	return cmd
}

func newGraphView(g *graph.Graph) (*graphView, error) {
	order := g.Order()

	waves, err := g.Waves(order)
	if err != nil {
		return nil, err
	}

	view := &graphView{Order: order, Waves: waves}

	for _, name := range order {
		t, _ := g.Task(name)

		view.Tasks = append(view.Tasks, taskView{
			Name:       t.Name,
			Sources:    t.Sources.Patterns(),
			Dest:       t.Dest,
			Bundle:     t.Bundle,
			Cache:      t.Cache,
			Reload:     string(t.ReloadKind()),
			Transform:  t.TransformID,
			DependsOn:  g.DependenciesOf(name),
			Dependents: g.DependentsOf(name),
		})
	}

	return view, nil
}

func writeGraphText(w io.Writer, view *graphView) {
	_, _ = fmt.Fprintf(w, "Tasks (%d):\n", len(view.Tasks))

	for _, t := range view.Tasks {
		line := fmt.Sprintf("  %s → %s", t.Name, t.Dest)
		if len(t.DependsOn) > 0 {
			line += fmt.Sprintf("  (after %s)", strings.Join(t.DependsOn, ", "))
		}

		_, _ = fmt.Fprintln(w, line)
	}

	_, _ = fmt.Fprintln(w, "\nWaves:")

	for i, wave := range view.Waves {
		_, _ = fmt.Fprintf(w, "  %d: %s\n", i+1, strings.Join(wave, ", "))
	}
}
