// Package reload defines how connected preview clients react to a finished
// build.
package reload

import "fmt"

// Kind selects the client-side reaction to a completed task.
type Kind string

// Supported reload kinds.
const (
	// Full reloads the whole page.
	Full Kind = "full"
	// Style swaps stylesheets in place without reloading the page.
	Style Kind = "style"
	// None leaves connected clients alone.
	None Kind = "none"
)

// Parse converts a declared string into a Kind. An empty string is Full.
func Parse(s string) (Kind, error) {
	switch Kind(s) {
	case "", Full:
		return Full, nil
	case Style:
		return Style, nil
	case None:
		return None, nil
	default:
		return "", fmt.Errorf("invalid reload kind %q: must be one of full, style, none", s)
	}
}

// Merge combines the kinds of several completed tasks into the single
// reaction a client should perform. Style wins only when every contributing
// kind is Style; None entries are ignored.
func Merge(kinds ...Kind) Kind {
	out := None

	for _, k := range kinds {
		switch k {
		case None:
			continue
		case Style:
			if out == None {
				out = Style
			}
		default:
			return Full
		}
	}

	return out
}
