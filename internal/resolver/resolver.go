// Package resolver advances the task dependency graph when tasks reach a
// terminal status. Completion makes dependents eligible implicitly, because
// eligibility is computed from the dependency table at claim time; the
// resolver's job is to surface newly unblocked work in the logs and,
// when cascade is enabled, to fail the subtree behind a terminally failed
// task instead of leaving it permanently ineligible.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/store"
)

// Resolver reacts to terminal task transitions.
type Resolver struct {
	taskStore store.TaskStore
	logger    *slog.Logger

	// cascadeFailures controls what happens to tasks gated on a terminally
	// failed dependency. When false (the default), they stay pending and
	// permanently ineligible, visible via the status surface. When true, the
	// whole dependent subtree is failed eagerly.
	cascadeFailures bool
}

// New creates a Resolver. If logger is nil, a default logger is used.
func New(taskStore store.TaskStore, cascadeFailures bool, logger *slog.Logger) *Resolver {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		taskStore:       taskStore,
		logger:          logger.With(slog.String("component", "resolver")),
		cascadeFailures: cascadeFailures,
	}
}

// Result reports what a resolution pass did.
type Result struct {
	// Unblocked lists tasks whose dependencies are now all completed.
	Unblocked []uuid.UUID
	// Cascaded lists tasks force-failed because an upstream dependency
	// terminally failed.
	Cascaded []uuid.UUID
}

// TaskCompleted reacts to a task reaching completed: it reports which
// dependent tasks became eligible.
func (r *Resolver) TaskCompleted(ctx context.Context, id uuid.UUID) (*Result, error) {
	dependents, err := r.taskStore.ListDependents(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents of %s: %w", id, err)
	}

	result := &Result{}
	for _, depID := range dependents {
		unblocked, err := r.isUnblocked(ctx, depID)
		if err != nil {
			return nil, err
		}
		if unblocked {
			result.Unblocked = append(result.Unblocked, depID)
			r.logger.Info("task unblocked",
				slog.String("task_id", depID.String()),
				slog.String("completed_dependency", id.String()))
		}
	}
	return result, nil
}

// isUnblocked reports whether every dependency of the task is completed.
func (r *Resolver) isUnblocked(ctx context.Context, id uuid.UUID) (bool, error) {
	task, err := r.taskStore.GetTask(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to load dependent task %s: %w", id, err)
	}
	if task.Status != domain.TaskStatusPending {
		return false, nil
	}

	for _, dep := range task.DependsOn {
		depTask, err := r.taskStore.GetTask(ctx, dep)
		if err != nil {
			return false, fmt.Errorf("failed to load dependency %s: %w", dep, err)
		}
		if depTask.Status != domain.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// TaskFailed reacts to a task reaching terminal failed. Without cascade it
// only logs the tasks left waiting; with cascade it force-fails the entire
// dependent subtree breadth-first.
func (r *Resolver) TaskFailed(ctx context.Context, id uuid.UUID) (*Result, error) {
	result := &Result{}

	if !r.cascadeFailures {
		dependents, err := r.taskStore.ListDependents(ctx, []uuid.UUID{id})
		if err != nil {
			return nil, fmt.Errorf("failed to list dependents of %s: %w", id, err)
		}
		for _, depID := range dependents {
			r.logger.Warn("task blocked by failed dependency",
				slog.String("task_id", depID.String()),
				slog.String("failed_dependency", id.String()))
		}
		return result, nil
	}

	// Breadth-first walk of the dependent subtree. Visited tracking guards
	// against diamonds; the store rejects cycles at creation time.
	frontier := []uuid.UUID{id}
	visited := map[uuid.UUID]bool{id: true}

	for len(frontier) > 0 {
		dependents, err := r.taskStore.ListDependents(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to list dependents: %w", err)
		}

		frontier = frontier[:0]
		for _, depID := range dependents {
			if visited[depID] {
				continue
			}
			visited[depID] = true

			errMsg := fmt.Sprintf("dependency %s failed", id)
			err := r.taskStore.FailPending(ctx, depID, errMsg)
			if err != nil {
				// Not pending means it already ran or was already cascaded.
				if errors.Is(err, store.ErrUpdateFailed) {
					continue
				}
				return nil, fmt.Errorf("failed to cascade failure to %s: %w", depID, err)
			}

			result.Cascaded = append(result.Cascaded, depID)
			r.logger.Warn("task failed by dependency cascade",
				slog.String("task_id", depID.String()),
				slog.String("failed_dependency", id.String()))
			frontier = append(frontier, depID)
		}
	}

	return result, nil
}
