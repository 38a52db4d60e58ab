package runner

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/assetflow/internal/reload"
	"github.com/hupe1980/assetflow/internal/task"
)

// Status is the terminal state of one task in a build.
type Status string

// Task statuses.
const (
	Completed Status = "completed"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
)

// CauseAborted is the skip cause of tasks that never ran because the build
// was cancelled.
const CauseAborted = "aborted"

// Result records what happened to one task.
type Result struct {
	Task   string
	Status Status
	// Err is set for failed tasks.
	Err error
	// Cause names the failed task a skipped task depended on, or
	// CauseAborted.
	Cause    string
	Outcome  task.Outcome
	Reload   reload.Kind
	Duration time.Duration
}

// TaskError is the error of one failed task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Counts tallies results by status.
type Counts struct {
	Completed int
	Failed    int
	Skipped   int
}

// Report is the result of one build.
type Report struct {
	// ID uniquely identifies the build in logs.
	ID string
	// Results are ordered by wave, then by task name.
	Results  []Result
	Duration time.Duration
}

// Failed reports whether any task failed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == Failed {
			return true
		}
	}

	return false
}

// Aborted reports whether any task never ran because the build was
// cancelled.
func (r *Report) Aborted() bool {
	for _, res := range r.Results {
		if res.Status == Skipped && res.Cause == CauseAborted {
			return true
		}
	}

	return false
}

// Err aggregates the errors of all failed tasks, or returns nil.
func (r *Report) Err() error {
	var merr *multierror.Error

	for _, res := range r.Results {
		if res.Status == Failed {
			merr = multierror.Append(merr, &TaskError{Task: res.Task, Err: res.Err})
		}
	}

	return merr.ErrorOrNil()
}

// Result returns the result of the named task.
func (r *Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Task == name {
			return res, true
		}
	}

	return Result{}, false
}

// Counts tallies the results.
func (r *Report) Counts() Counts {
	var c Counts

	for _, res := range r.Results {
		switch res.Status {
		case Completed:
			c.Completed++
		case Failed:
			c.Failed++
		case Skipped:
			c.Skipped++
		}
	}

	return c
}

// Reload merges the reload kinds of every completed task. A build in which
// nothing completed needs no reload.
func (r *Report) Reload() reload.Kind {
	var kinds []reload.Kind

	for _, res := range r.Results {
		if res.Status == Completed {
			kinds = append(kinds, res.Reload)
		}
	}

	return reload.Merge(kinds...)
}

// Written returns every output path written by the build, in result order.
func (r *Report) Written() []string {
	var out []string

	for _, res := range r.Results {
		out = append(out, res.Outcome.Written...)
	}

	return out
}
