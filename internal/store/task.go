package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
)

// TaskStore defines the persistence interface for delegated tasks, their
// dependency edges, and progress updates.
//
// Every mutating operation is a single conditional statement: the WHERE
// clause encodes the state-machine guard, so concurrent callers cannot both
// win a transition. Ownership of transitions follows the claim protocol: the
// orchestrator owns pending→claimed and orphan reclaim, the claim holder owns
// claimed→running→completed|failed.
type TaskStore interface {
	// CreateTask persists a task and its depends_on edges.
	// Returns ErrUnknownDependency if a dependency target does not exist.
	CreateTask(ctx context.Context, task *domain.Task) error

	// CreateChain atomically persists a set of tasks sharing one group ID,
	// including dependency edges between members. Either every task is
	// inserted or none are.
	CreateChain(ctx context.Context, tasks []*domain.Task) error

	// GetTask retrieves a task by ID, including its depends_on set.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasks retrieves tasks, newest first, optionally filtered by status.
	ListTasks(ctx context.Context, status *domain.TaskStatus, limit int) ([]*domain.Task, error)

	// GetClaimable returns up to limit claim-eligible tasks ordered by
	// (priority ASC, created_at ASC). Eligibility is computed, not stored:
	// status pending, backoff elapsed, and every depends_on entry completed.
	GetClaimable(ctx context.Context, limit int) ([]*domain.Task, error)

	// Claim atomically transitions a task from pending to claimed on behalf
	// of claimedBy. Exactly one concurrent caller wins; the rest receive
	// ErrNotClaimable.
	Claim(ctx context.Context, id uuid.UUID, claimedBy string) error

	// Start transitions a claimed task to running. Returns ErrNotClaimOwner
	// if claimedBy no longer holds the claim.
	Start(ctx context.Context, id uuid.UUID, claimedBy string) error

	// Complete transitions a claimed or running task to completed, storing
	// the result and clearing the claim. Returns ErrNotClaimOwner if
	// claimedBy no longer holds the claim.
	Complete(ctx context.Context, id uuid.UUID, claimedBy, result string) error

	// Fail records an execution failure. If the retry budget is not yet
	// exhausted, the task returns to pending with retry_count incremented
	// and a backoff delay before it becomes claimable again; otherwise it
	// reaches terminal failed. The resulting status is returned.
	Fail(
		ctx context.Context,
		id uuid.UUID,
		claimedBy, errMsg string,
		backoff time.Duration,
	) (domain.TaskStatus, error)

	// FailPending force-fails a pending task, bypassing the claim guard.
	// Used only for dependency cascade when an upstream task is terminally
	// failed. No-op (ErrUpdateFailed) if the task is not pending.
	FailPending(ctx context.Context, id uuid.UUID, errMsg string) error

	// ReclaimOrphans returns claimed/running tasks whose claim is older than
	// claimTimeout, and which have no progress update newer than the cutoff,
	// back to pending. Returns the IDs of reclaimed tasks.
	ReclaimOrphans(ctx context.Context, claimTimeout time.Duration) ([]uuid.UUID, error)

	// ListDependents returns the IDs of tasks directly blocked by any of the
	// given tasks (the reverse dependency fan-out).
	ListDependents(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)

	// ChainStatus aggregates task counts for a group ID.
	// Returns ErrChainNotFound if the group has no tasks.
	ChainStatus(ctx context.Context, groupID uuid.UUID) (*domain.ChainStatus, error)

	// AppendProgress appends a progress update to a running task.
	AppendProgress(ctx context.Context, update *domain.ProgressUpdate) error

	// ListProgress returns a task's progress updates in append order.
	ListProgress(ctx context.Context, taskID uuid.UUID) ([]*domain.ProgressUpdate, error)

	// ListUnnotified returns terminal tasks with a notification target whose
	// completion notice has not yet been delivered.
	ListUnnotified(ctx context.Context, limit int) ([]*domain.Task, error)

	// MarkNotified sets the notification_sent flag after a successful
	// delivery. Delivery and task status are deliberately decoupled.
	MarkNotified(ctx context.Context, id uuid.UUID) error

	// CountByStatus returns the number of tasks in each status.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// ListRecentTerminal returns recently completed or failed tasks, most
	// recent first, for the operational status surface.
	ListRecentTerminal(ctx context.Context, limit int) ([]*domain.Task, error)

	// ArchiveTerminal moves terminal tasks older than the retention window to
	// the archive table and returns the number of tasks moved.
	ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error)

	// WithTx returns a TaskStore bound to the provided transaction, so
	// multiple operations can share one atomic unit. The transaction is
	// created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
