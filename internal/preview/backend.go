package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const backendStopTimeout = 5 * time.Second

// Backend is a server process (for example a PHP development server) kept
// alive for the duration of a watch session.
type Backend struct {
	cmd    *exec.Cmd
	logger *slog.Logger
	done   chan struct{}
	err    error
}

// StartBackend starts command in dir. The command line is split on white
// space; no shell is involved. Output goes to out.
func StartBackend(ctx context.Context, command, dir string, out io.Writer, logger *slog.Logger) (*Backend, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("empty server command")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if out == nil {
		out = io.Discard
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // user-configured command
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = backendStopTimeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting server command %q: %w", argv[0], err)
	}

	b := &Backend{cmd: cmd, logger: logger, done: make(chan struct{})}

	logger.Info("server command started", slog.String("command", command), slog.Int("pid", cmd.Process.Pid))

	go func() {
		b.err = cmd.Wait()
		close(b.done)
	}()

	return b, nil
}

// Done is closed when the process has exited.
func (b *Backend) Done() <-chan struct{} { return b.done }

// Err returns the exit error once Done is closed.
func (b *Backend) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// Stop asks the process to exit and kills it if it does not comply in time.
func (b *Backend) Stop() {
	select {
	case <-b.done:
		return
	default:
	}

	if runtime.GOOS == "windows" {
		_ = b.cmd.Process.Kill()
	} else {
		_ = b.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-b.done:
	case <-time.After(backendStopTimeout):
		b.logger.Warn("server command did not exit, killing it")
		_ = b.cmd.Process.Kill()
		<-b.done
	}
}
