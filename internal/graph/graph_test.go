package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/assetflow/internal/sources"
	"github.com/hupe1980/assetflow/internal/task"
)

func newTask(name string, deps ...string) *task.Task {
	return &task.Task{
		Name:      name,
		Sources:   sources.MustCompile("app/" + name + "/**/*"),
		Dest:      "dist/" + name,
		DependsOn: deps,
	}
}

// pipelineTasks mirrors the default asset pipeline layout.
func pipelineTasks() []*task.Task {
	return []*task.Task{
		newTask("styles"),
		newTask("minify-css", "styles"),
		newTask("scripts"),
		newTask("images"),
		newTask("fonts"),
		newTask("html"),
		newTask("bundle", "minify-css", "scripts"),
	}
}

func indexOf(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, n := range order {
		idx[n] = i
	}

	return idx
}

func TestNew_Order(t *testing.T) {
	g, err := New(pipelineTasks())
	require.NoError(t, err)

	assert.Equal(t, 7, g.Len())
	assert.Equal(t, []string{"fonts", "html", "images", "scripts", "styles", "minify-css", "bundle"}, g.Order())
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*task.Task
		want  error
	}{
		{"duplicate", []*task.Task{newTask("a"), newTask("a")}, ErrDuplicateTask},
		{"unknown dependency", []*task.Task{newTask("a", "ghost")}, ErrUnknownDependency},
		{"invalid task", []*task.Task{{Name: "a"}}, ErrInvalidTask},
		{"nil task", []*task.Task{nil}, ErrInvalidTask},
		{"self loop", []*task.Task{newTask("a", "a")}, ErrCycle},
		{"two cycle", []*task.Task{newTask("a", "b"), newTask("b", "a")}, ErrCycle},
		{"long cycle", []*task.Task{
			newTask("a", "e"), newTask("b", "a"), newTask("c", "b"), newTask("d", "c"), newTask("e", "d"),
			newTask("free"),
		}, ErrCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.tasks)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCycleError_ReportsPath(t *testing.T) {
	_, err := New([]*task.Task{newTask("c", "b"), newTask("b", "a"), newTask("a", "c"), newTask("x", "a")})
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "c", "b", "a"}, cycleErr.Cycle)
	assert.Contains(t, err.Error(), "a → c → b → a")
}

func TestWaves(t *testing.T) {
	g, err := New(pipelineTasks())
	require.NoError(t, err)

	waves, err := g.Waves(g.Names())
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"fonts", "html", "images", "scripts", "styles"},
		{"minify-css"},
		{"bundle"},
	}, waves)
}

func TestWaves_SubsetTreatsOutsideDepsAsSatisfied(t *testing.T) {
	g, err := New(pipelineTasks())
	require.NoError(t, err)

	waves, err := g.Waves([]string{"bundle", "minify-css"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"minify-css"}, {"bundle"}}, waves)

	waves, err = g.Waves([]string{"bundle"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bundle"}}, waves)
}

func TestWaves_UnknownTask(t *testing.T) {
	g, err := New(pipelineTasks())
	require.NoError(t, err)

	_, err = g.Waves([]string{"sass"})
	require.ErrorIs(t, err, ErrUnknownTask)
	assert.Contains(t, err.Error(), "sass")

	_, err = g.Waves(nil)
	assert.Error(t, err)
}

func TestClosures(t *testing.T) {
	g, err := New(pipelineTasks())
	require.NoError(t, err)

	up, err := g.WithDependencies([]string{"bundle"})
	require.NoError(t, err)
	assert.Equal(t, []string{"scripts", "styles", "minify-css", "bundle"}, up)

	down, err := g.WithDependents([]string{"styles"})
	require.NoError(t, err)
	assert.Equal(t, []string{"styles", "minify-css", "bundle"}, down)

	down, err = g.WithDependents([]string{"images"})
	require.NoError(t, err)
	assert.Equal(t, []string{"images"}, down)

	_, err = g.WithDependents([]string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestDirectEdges(t *testing.T) {
	g, err := New(pipelineTasks())
	require.NoError(t, err)

	assert.Equal(t, []string{"minify-css", "scripts"}, g.DependenciesOf("bundle"))
	assert.Equal(t, []string{"bundle"}, g.DependentsOf("scripts"))
	assert.Empty(t, g.DependenciesOf("fonts"))

	tk, ok := g.Task("styles")
	require.True(t, ok)
	assert.Equal(t, "styles", tk.Name)
}

func TestNew_DuplicateEdgesCollapse(t *testing.T) {
	g, err := New([]*task.Task{newTask("a"), newTask("b", "a", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
	assert.Equal(t, []string{"b"}, g.DependentsOf("a"))
}

// Every acyclic declaration must produce an order in which each task comes
// after all of its dependencies, and waves must respect the same rule.
func TestOrder_RandomAcyclicGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(12)
		tasks := make([]*task.Task, n)

		for i := 0; i < n; i++ {
			var deps []string

			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("t%02d", j))
				}
			}

			tasks[i] = newTask(fmt.Sprintf("t%02d", i), deps...)
		}

		rng.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })

		g, err := New(tasks)
		require.NoError(t, err)

		idx := indexOf(g.Order())
		require.Len(t, idx, n)

		waveOf := make(map[string]int)

		waves, err := g.Waves(g.Names())
		require.NoError(t, err)

		for w, wave := range waves {
			for _, name := range wave {
				waveOf[name] = w
			}
		}

		for _, tk := range tasks {
			for _, dep := range tk.DependsOn {
				assert.Less(t, idx[dep], idx[tk.Name], "order: %s before %s", dep, tk.Name)
				assert.Less(t, waveOf[dep], waveOf[tk.Name], "waves: %s before %s", dep, tk.Name)
			}
		}
	}
}

// Adding a back edge to any acyclic chain must always be rejected.
func TestNew_RejectsAnyCycleLength(t *testing.T) {
	for length := 1; length <= 10; length++ {
		tasks := make([]*task.Task, length)

		for i := 0; i < length; i++ {
			dep := fmt.Sprintf("n%d", (i+1)%length)
			tasks[i] = newTask(fmt.Sprintf("n%d", i), dep)
		}

		_, err := New(tasks)

		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr, "length %d", length)
		assert.Len(t, cycleErr.Cycle, length+1)
	}
}
