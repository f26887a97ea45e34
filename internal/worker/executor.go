// Package worker executes claimed tasks. A worker holds a claim for exactly
// one task: it transitions the task to running, delegates the actual work to
// an Executor, streams progress updates, and records the terminal outcome
// through the claim-guarded store operations.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mkessel/outrider/internal/domain"
)

// ProgressFunc reports a human-readable progress note for the running task.
type ProgressFunc func(note string)

// Executor performs the actual work of a task and returns its result text.
// Implementations report incremental progress through the callback; the
// worker persists each note so the orchestrator's liveness check can tell a
// slow task from a dead one.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task, progress ProgressFunc) (string, error)
}

// CommandExecutor runs tasks by invoking an external command. The task
// description is appended to the configured argv, the task context JSON is
// written to stdin, stdout becomes the task result, and each stderr line is
// reported as a progress note.
type CommandExecutor struct {
	command string
	args    []string
}

// NewCommandExecutor creates a CommandExecutor for the given command line.
func NewCommandExecutor(command string, args ...string) (*CommandExecutor, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("executor command cannot be empty")
	}
	return &CommandExecutor{command: command, args: args}, nil
}

var _ Executor = (*CommandExecutor)(nil)

// Execute runs the command for the task.
func (e *CommandExecutor) Execute(
	ctx context.Context,
	task *domain.Task,
	progress ProgressFunc,
) (string, error) {
	argv := append(append([]string{}, e.args...), task.Description)
	cmd := exec.CommandContext(ctx, e.command, argv...)

	if len(task.Context) > 0 {
		cmd.Stdin = bytes.NewReader(task.Context)
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start executor command %q: %w", e.command, err)
	}

	// Each stderr line from the command is a progress note. The scan must
	// drain before Wait so the pipe is fully consumed.
	var lastLines []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if progress != nil {
			progress(line)
		}
		lastLines = append(lastLines, line)
		if len(lastLines) > 5 {
			lastLines = lastLines[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.Join(lastLines, "; ")
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("executor command failed: %s", detail)
	}

	return strings.TrimSpace(stdout.String()), nil
}
