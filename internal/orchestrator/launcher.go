package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// WorkerProcess is a handle to a spawned worker. Kill forcibly terminates
// the worker; on platforms with sessions it takes the worker's whole process
// group down with it.
type WorkerProcess interface {
	Kill() error
}

// ProcessLauncher starts a detached worker process for a claimed task and
// returns a handle for forced termination. The launcher does not wait on the
// process: worker death is detected through the claim timeout and progress
// liveness, and the handle is only used when the task's wall-clock deadline
// expires.
type ProcessLauncher interface {
	Launch(ctx context.Context, taskID uuid.UUID, workerID string) (WorkerProcess, error)
}

// ExecLauncher launches workers by re-invoking this executable's work
// command in a new session, so workers survive an orchestrator restart.
type ExecLauncher struct {
	executablePath string
	workDir        string
}

// NewExecLauncher creates an ExecLauncher. An empty executablePath resolves
// to the current executable.
func NewExecLauncher(executablePath, workDir string) (*ExecLauncher, error) {
	if executablePath == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable path: %w", err)
		}
		executablePath = path
	}
	return &ExecLauncher{executablePath: executablePath, workDir: workDir}, nil
}

var _ ProcessLauncher = (*ExecLauncher)(nil)

// Launch spawns a detached worker process for the task.
func (l *ExecLauncher) Launch(ctx context.Context, taskID uuid.UUID, workerID string) (WorkerProcess, error) {
	pid, err := spawnDetachedWorker(l.executablePath, l.workDir, taskID.String(), workerID)
	if err != nil {
		return nil, err
	}
	return &detachedProcess{pid: pid}, nil
}

// detachedProcess addresses a released worker by PID. The worker runs in its
// own session, so the handle outlives the *exec.Cmd it came from.
type detachedProcess struct {
	pid int
}

var _ WorkerProcess = (*detachedProcess)(nil)

func (p *detachedProcess) Kill() error {
	return killDetachedWorker(p.pid)
}
