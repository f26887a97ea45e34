//go:build windows

package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// DETACHED_PROCESS is the Windows process creation flag that creates a process
// without a console window, allowing it to run independently of the parent.
const DETACHED_PROCESS = 0x00000008

// spawnDetachedWorker starts a worker in a detached background process and
// returns its PID. On Windows, we use CREATE_NEW_PROCESS_GROUP and
// DETACHED_PROCESS flags.
func spawnDetachedWorker(executablePath, workDir, taskID, workerID string) (int, error) {
	cmd := exec.Command(executablePath, "work", "--task-id", taskID, "--worker-id", workerID)
	cmd.Dir = workDir

	// Detach from the parent console and process group
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | DETACHED_PROCESS,
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

// killDetachedWorker terminates a worker by PID. Windows has no session
// semantics, so only the worker process itself is killed.
func killDetachedWorker(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find worker process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill worker process %d: %w", pid, err)
	}
	return nil
}
