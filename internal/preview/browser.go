package preview

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the command that opens url in the system browser.
func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

// OpenBrowser launches the system browser on url without waiting for it.
func OpenBrowser(ctx context.Context, url string) error {
	name, args := browserCommand(runtime.GOOS, url)

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // fixed launcher, url is ours
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	go func() { _ = cmd.Wait() }()

	return nil
}
