package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/swarmload/worker/internal/stats"
	"github.com/swarmload/worker/internal/taskselector"
)

// DefaultShellTimeout bounds how long a single shell command may run before
// it is killed and reported as a failure.
const DefaultShellTimeout = 30 * time.Second

// ShellTaskConfig describes one shell-command task. The shell used depends
// on the host OS: /bin/sh -c "<command>" on Linux/macOS, cmd /C "<command>"
// on Windows.
type ShellTaskConfig struct {
	Name    string
	Command string
	Weight  int
	Timeout time.Duration // 0 uses DefaultShellTimeout
}

// ShellTask builds a taskselector.Task that runs Command as a subprocess,
// timing the whole invocation itself and reporting success or failure to
// aggregator. A non-zero exit is a failure whose error text is the process's
// combined stdout+stderr, cut to its first 2048 bytes; a timeout is a failure
// with the error text "timed out".
func ShellTask(cfg ShellTaskConfig, aggregator *stats.Aggregator) taskselector.Task {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}

	return taskselector.Task{
		Name:   cfg.Name,
		Method: "SHELL",
		Weight: cfg.Weight,
		Fn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			cmd := shellCommand(ctx, cfg.Command)
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out

			start := time.Now()
			err := cmd.Run()
			elapsed := time.Since(start)

			if ctx.Err() == context.DeadlineExceeded {
				aggregator.ReportFailure("SHELL", cfg.Name, "timed out", elapsed)
				return nil
			}
			if err != nil {
				aggregator.ReportFailure("SHELL", cfg.Name, trimmed(out.String()), elapsed)
				return nil
			}

			aggregator.ReportSuccess("SHELL", cfg.Name, elapsed, int64(out.Len()))
			return nil
		},
	}
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

func trimmed(s string) string {
	const max = 2048
	if len(s) > max {
		return s[:max] + fmt.Sprintf("... (%d bytes truncated)", len(s)-max)
	}
	return s
}
