package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/assetflow/internal/runner"
)

// Summarize renders a one-line summary of a build for status output, for
// example "2 completed, 1 failed, 1 skipped, 3 files, 2 cached in 120ms".
func Summarize(report *runner.Report) string {
	if report == nil || len(report.Results) == 0 {
		return "nothing to do"
	}

	c := report.Counts()

	var parts []string

	if c.Completed > 0 {
		parts = append(parts, fmt.Sprintf("%d completed", c.Completed))
	}

	if c.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", c.Failed))
	}

	if c.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", c.Skipped))
	}

	var files, hits int

	for _, res := range report.Results {
		files += res.Outcome.Files
		hits += res.Outcome.CacheHits
	}

	parts = append(parts, fmt.Sprintf("%d files", files))

	if hits > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", hits))
	}

	return strings.Join(parts, ", ") + " in " + report.Duration.Round(time.Millisecond).String()
}
