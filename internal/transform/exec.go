package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxStderr bounds the tool output quoted in an error message.
const maxStderr = 2048

func buildExec(_ *Registry, spec Spec) (Func, error) {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, fmt.Errorf("exec needs a command")
	}

	for _, kv := range spec.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
	}

	return Exec(spec.Command, spec.Env, spec.Timeout), nil
}

// Exec returns a Func that pipes the source through an external command:
// source bytes on stdin, output bytes from stdout. A non-zero exit status is
// an error carrying the tool's stderr.
func Exec(argv []string, env []string, timeout time.Duration) Func {
	name := argv[0]
	args := append([]string(nil), argv[1:]...)
	extraEnv := append([]string(nil), env...)

	return func(ctx context.Context, src []byte) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

		var stdout, stderr bytes.Buffer

		cmd.Stdin = bytes.NewReader(src)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if len(extraEnv) > 0 {
			cmd.Env = append(os.Environ(), extraEnv...)
		}

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > maxStderr {
				msg = msg[:maxStderr] + "..."
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s: %w", name, ctxErr)
			}

			if msg != "" {
				return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
			}

			return nil, fmt.Errorf("%s: %w", name, err)
		}

		return stdout.Bytes(), nil
	}
}
