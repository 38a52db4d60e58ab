// Package version provides build-time metadata for the assetflow binary.
// Version, GitCommit, and BuildDate are injected at compile time via -ldflags.
// Pipeline files can pin the binary version with a semver constraint.
package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Build-time values injected via -ldflags.
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

// Info holds the build metadata for the binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the current build information.
func GetInfo() Info {
	return Info{
		Version:   version,
		GitCommit: shortCommit(gitCommit),
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable single-line version string.
func (i Info) String() string {
	return fmt.Sprintf("assetflow %s (commit: %s, built: %s, %s %s)",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// JSON returns the version info as indented JSON.
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling version info: %w", err)
	}

	return string(data), nil
}

// shortCommit truncates a commit SHA to 7 characters.
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}

	return commit
}

// ErrUnsatisfied is returned by Check when the running version does not meet
// a pipeline's constraint.
var ErrUnsatisfied = errors.New("assetflow version does not satisfy constraint")

// Check reports whether the running binary satisfies constraint. Development
// builds satisfy every valid constraint.
func Check(constraint string) error {
	return check(constraint, version)
}

func check(constraint, actual string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}

	if actual == "dev" {
		return nil
	}

	v, err := semver.NewVersion(actual)
	if err != nil {
		return fmt.Errorf("invalid binary version %q: %w", actual, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not match %q", ErrUnsatisfied, v, constraint)
	}

	return nil
}
