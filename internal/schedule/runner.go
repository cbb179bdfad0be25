package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTaskTimeout applies to tasks without their own timeout.
const DefaultTaskTimeout = 5 * time.Minute

// ErrNoCommand is returned for tasks with an empty command.
var ErrNoCommand = errors.New("task has no command")

// CommandRunner executes one command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecRunner runs a task's command as a child process.
type ExecRunner struct {
	timeout time.Duration
	run     CommandRunner
	logger  *slog.Logger
}

// NewExecRunner creates a runner. A nil run uses os/exec.
func NewExecRunner(defaultTimeout time.Duration, run CommandRunner, logger *slog.Logger) *ExecRunner {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTaskTimeout
	}
	if run == nil {
		run = defaultCommandRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		timeout: defaultTimeout,
		run:     run,
		logger:  logger.With("component", "task-runner"),
	}
}

// Run executes task and blocks until it exits, times out, or ctx is done.
func (r *ExecRunner) Run(ctx context.Context, task Task) error {
	if len(task.Command) == 0 {
		return fmt.Errorf("task %q: %w", task.Key, ErrNoCommand)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID := uuid.NewString()
	logger := r.logger.With("task", task.Key, "run_id", runID, "desktop", task.Desktop)
	logger.Info("task started", "command", task.Command[0], "timeout", timeout)

	start := time.Now()
	output, err := r.run(ctx, task.Command[0], task.Command[1:]...)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		logger.Warn("task failed", "elapsed", elapsed, "error", err, "output", strings.TrimSpace(string(output)))
		return fmt.Errorf("task %q: %w", task.Key, err)
	}

	logger.Info("task finished", "elapsed", elapsed)
	return nil
}
