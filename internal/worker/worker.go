package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/platform/logger"
	"github.com/mkessel/outrider/internal/store"
)

// Worker executes a single claimed task end to end.
type Worker struct {
	taskStore store.TaskStore
	executor  Executor
	workerID  string
	backoff   time.Duration
	logger    *slog.Logger
}

// New creates a Worker identified by workerID. The backoff is the base delay
// applied before a failed task becomes claimable again; it grows
// exponentially with the retry count. If logger is nil, a default logger is
// used.
func New(
	taskStore store.TaskStore,
	executor Executor,
	workerID string,
	backoff time.Duration,
	logger *slog.Logger,
) (*Worker, error) {
	if taskStore == nil {
		return nil, fmt.Errorf("taskStore cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if workerID == "" {
		return nil, fmt.Errorf("workerID cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		taskStore: taskStore,
		executor:  executor,
		workerID:  workerID,
		backoff:   backoff,
		logger: logger.With(
			slog.String("component", "worker"),
			slog.String("worker_id", workerID)),
	}, nil
}

// Run executes the task with the given ID. The worker first secures the
// claim: it claims the task itself, or proceeds if the launching orchestrator
// already claimed it under this worker's ID. It then transitions the task to
// running, executes it, and records the outcome.
//
// Run returns an error only for faults the caller should surface (claim
// lost, store unavailable). A failing task that was recorded as failed is a
// successful run from the worker's point of view.
func (w *Worker) Run(ctx context.Context, taskID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, w.logger)

	if err := w.secureClaim(ctx, taskID); err != nil {
		return err
	}

	if err := w.taskStore.Start(ctx, taskID, w.workerID); err != nil {
		if store.IsClaimLost(err) {
			log.Warn("claim lost before start, abandoning task",
				slog.String("task_id", taskID.String()))
			return err
		}
		return fmt.Errorf("failed to start task %s: %w", taskID, err)
	}

	task, err := w.taskStore.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	log.Info("task execution started",
		slog.String("task_id", taskID.String()),
		slog.Int("retry_count", task.RetryCount))

	result, execErr := w.executor.Execute(ctx, task, func(note string) {
		w.reportProgress(ctx, taskID, note)
	})

	if execErr != nil {
		return w.recordFailure(ctx, taskID, execErr)
	}
	return w.recordSuccess(ctx, taskID, result)
}

// secureClaim ensures this worker holds the task's claim. A lost claim race
// is only fatal when someone else won it.
func (w *Worker) secureClaim(ctx context.Context, taskID uuid.UUID) error {
	err := w.taskStore.Claim(ctx, taskID, w.workerID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotClaimable) {
		return fmt.Errorf("failed to claim task %s: %w", taskID, err)
	}

	// The orchestrator may have pre-claimed the task under our ID.
	task, getErr := w.taskStore.GetTask(ctx, taskID)
	if getErr != nil {
		return fmt.Errorf("failed to load task %s after claim race: %w", taskID, getErr)
	}
	if task.Status == domain.TaskStatusClaimed && task.ClaimedBy == w.workerID {
		return nil
	}
	return fmt.Errorf("task %s: %w", taskID, err)
}

func (w *Worker) reportProgress(ctx context.Context, taskID uuid.UUID, note string) {
	update, err := domain.NewProgressUpdate(taskID, note)
	if err != nil {
		return
	}
	if err := w.taskStore.AppendProgress(ctx, update); err != nil {
		w.logger.Warn("failed to persist progress update",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) recordSuccess(ctx context.Context, taskID uuid.UUID, result string) error {
	if err := w.taskStore.Complete(ctx, taskID, w.workerID, result); err != nil {
		if store.IsClaimLost(err) {
			// The claim was reclaimed while we ran. The result is discarded:
			// the task will run again under a new claim.
			w.logger.Warn("claim lost during execution, discarding result",
				slog.String("task_id", taskID.String()))
			return err
		}
		return fmt.Errorf("failed to record completion of task %s: %w", taskID, err)
	}

	w.logger.Info("task completed",
		slog.String("task_id", taskID.String()))
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, taskID uuid.UUID, execErr error) error {
	status, err := w.taskStore.Fail(ctx, taskID, w.workerID, execErr.Error(), w.backoff)
	if err != nil {
		if store.IsClaimLost(err) {
			w.logger.Warn("claim lost during execution, discarding failure",
				slog.String("task_id", taskID.String()))
			return err
		}
		return fmt.Errorf("failed to record failure of task %s: %w", taskID, err)
	}

	if status == domain.TaskStatusFailed {
		w.logger.Error("task failed terminally",
			slog.String("task_id", taskID.String()),
			slog.String("task_error", execErr.Error()))
	} else {
		w.logger.Warn("task failed, scheduled for retry",
			slog.String("task_id", taskID.String()),
			slog.String("task_error", execErr.Error()))
	}
	return nil
}
