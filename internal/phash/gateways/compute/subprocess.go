package compute

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
)

const (
	errCommandRequired = "subprocess launcher: command is required"
	errStdinPipe       = "stdin pipe: %w"
	errStdoutPipe      = "stdout pipe: %w"
	errStart           = "start %s: %w"
)

// SubprocessLauncher runs the hash worker as a child process and talks to
// it over stdin and stdout.
type SubprocessLauncher struct {
	// Command is the program and its arguments, e.g. the service's own
	// binary followed by "hash-worker".
	Command []string
	Env     []string
	Logger  log.Logger
}

func (l *SubprocessLauncher) Launch(ctx context.Context, sink Sink) (Resource, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf(errCommandRequired)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	// Not CommandContext: the child must outlive the launch context.
	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf(errStdinPipe, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf(errStdoutPipe, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf(errStart, l.Command[0], err)
	}
	logger.Info(map[string]any{"pid": cmd.Process.Pid, "command": l.Command}, "Hash worker started")

	return newStreamResource(stdin, stdout, sink, logger, cmd.Wait, cmd.Process.Kill), nil
}

var _ Launcher = (*SubprocessLauncher)(nil)
