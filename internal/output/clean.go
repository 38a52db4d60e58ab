package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Clean removes each target (a file or directory relative to root). Missing
// targets are ignored. The root itself can never be removed.
func Clean(root string, targets []string) ([]string, error) {
	var removed []string

	for _, t := range targets {
		abs, err := Resolve(root, t)
		if err != nil {
			return removed, fmt.Errorf("refusing to clean %q: %w", t, err)
		}

		if _, err := os.Lstat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return removed, fmt.Errorf("cleaning %s: %w", t, err)
		}

		if err := os.RemoveAll(abs); err != nil {
			return removed, fmt.Errorf("cleaning %s: %w", t, err)
		}

		removed = append(removed, t)
	}

	return removed, nil
}
