//go:build unix

package orchestrator

import (
	"fmt"
	"os/exec"
	"syscall"
)

// spawnDetachedWorker starts a worker in a detached background process and
// returns its PID. On Unix, we use Setsid to create a new session, detaching
// from the controlling terminal.
func spawnDetachedWorker(executablePath, workDir, taskID, workerID string) (int, error) {
	cmd := exec.Command(executablePath, "work", "--task-id", taskID, "--worker-id", workerID)
	cmd.Dir = workDir

	// Detach from the parent process group so the worker keeps running even
	// if the orchestrator exits or its terminal is closed
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session, detach from controlling terminal
	}

	// Discard output - workers report through the store, not through pipes
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	// Start the process (don't wait for it)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start worker process: %w", err)
	}

	pid := cmd.Process.Pid

	// Release the process so it continues running independently
	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("failed to release worker process: %w", err)
	}

	return pid, nil
}

// killDetachedWorker terminates a worker and everything it spawned. Setsid
// made the worker a session and process-group leader, so signaling -pid
// reaches the whole group.
func killDetachedWorker(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill worker process group %d: %w", pid, err)
	}
	return nil
}
