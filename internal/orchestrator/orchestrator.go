// Package orchestrator runs the polling loop at the center of the execution
// queue. Each cycle it reclaims orphaned work, pumps the message queue,
// advances the dependency graph behind finished tasks, claims eligible tasks
// up to the concurrency cap and spawns detached workers for them, sweeps
// pending notifications, and periodically archives old terminal rows.
//
// The orchestrator is stateless between restarts: everything it needs is
// reconstructed from the store, and workers it spawned keep running without
// it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/notify"
	"github.com/mkessel/outrider/internal/resolver"
	"github.com/mkessel/outrider/internal/store"
)

// MessageResult is the outcome of handling one queued message.
type MessageResult struct {
	// Response is the reply recorded on the message.
	Response string
	// SpawnedTaskID, when set, links the message to a background task the
	// handler delegated while processing it.
	SpawnedTaskID *uuid.UUID
}

// MessageHandler processes one claimed message. Returning an error fails the
// message; there is no automatic message retry.
type MessageHandler interface {
	Handle(ctx context.Context, msg *domain.QueuedMessage) (*MessageResult, error)
}

// Config carries the orchestrator's tuning knobs.
type Config struct {
	// PollInterval is the delay between polling cycles.
	PollInterval time.Duration
	// MaxConcurrent caps the number of workers this orchestrator tracks as
	// running at once.
	MaxConcurrent int
	// ClaimTimeout is how long a claim may sit without progress before it is
	// treated as orphaned.
	ClaimTimeout time.Duration
	// MessageTimeout is how long a message may sit in processing before it
	// is returned to pending.
	MessageTimeout time.Duration
	// MessageBatch is the maximum number of messages pumped per cycle.
	MessageBatch int
	// RetryBackoff is the base backoff applied when a task fails before its
	// worker ever ran (for example a failed process launch).
	RetryBackoff time.Duration
	// TaskTimeout is the wall-clock deadline for one worker attempt. A worker
	// still running past it is killed and its task failed, regardless of how
	// recently it reported progress.
	TaskTimeout time.Duration
	// ArchiveInterval is how often the archival chore runs. Zero disables
	// archival.
	ArchiveInterval time.Duration
	// RetentionPeriod is how long terminal rows stay in the hot tables.
	RetentionPeriod time.Duration
}

// Orchestrator drives the polling loop.
type Orchestrator struct {
	cfg          Config
	taskStore    store.TaskStore
	messageStore store.MessageStore
	launcher     ProcessLauncher
	resolver     *resolver.Resolver
	dispatcher   *notify.Dispatcher
	handler      MessageHandler
	logger       *slog.Logger

	// active tracks tasks this orchestrator spawned workers for until they
	// reach a terminal status, lose their claim, or hit their deadline.
	active map[uuid.UUID]*activeWorker

	lastArchive time.Time

	now func() time.Time
}

// activeWorker is what the orchestrator remembers about a spawned worker:
// the claim it holds, the process handle for forced termination, and the
// wall-clock deadline of the attempt.
type activeWorker struct {
	workerID string
	process  WorkerProcess
	deadline time.Time
}

// New creates an Orchestrator. The dispatcher and handler may be nil, which
// disables notification sweeps and message pumping respectively. If logger is
// nil, a default logger is used.
func New(
	cfg Config,
	taskStore store.TaskStore,
	messageStore store.MessageStore,
	launcher ProcessLauncher,
	res *resolver.Resolver,
	dispatcher *notify.Dispatcher,
	handler MessageHandler,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if taskStore == nil {
		return nil, fmt.Errorf("taskStore cannot be nil")
	}
	if messageStore == nil {
		return nil, fmt.Errorf("messageStore cannot be nil")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher cannot be nil")
	}
	if res == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 30 * time.Minute
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 10 * time.Minute
	}
	if cfg.MessageBatch <= 0 {
		cfg.MessageBatch = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:          cfg,
		taskStore:    taskStore,
		messageStore: messageStore,
		launcher:     launcher,
		resolver:     res,
		dispatcher:   dispatcher,
		handler:      handler,
		logger:       logger.With(slog.String("component", "orchestrator")),
		active:       make(map[uuid.UUID]*activeWorker),
		lastArchive:  time.Now(),
		now:          time.Now,
	}, nil
}

// Run polls until the context is canceled. It always runs one cycle
// immediately so a fresh orchestrator picks up backlog without waiting a full
// interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started",
		slog.Duration("poll_interval", o.cfg.PollInterval),
		slog.Int("max_concurrent", o.cfg.MaxConcurrent))

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping",
				slog.Int("active_workers", len(o.active)))
			return ctx.Err()
		case <-ticker.C:
			o.RunCycle(ctx)
		}
	}
}

// RunCycle executes one polling cycle. Failures in one phase are logged and
// do not block the others; the next cycle retries everything.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.reclaim(ctx)
	o.pumpMessages(ctx)
	o.watchActive(ctx)
	o.spawnWorkers(ctx)
	o.sweepNotifications(ctx)
	o.archive(ctx)
}

// reclaim returns orphaned task claims and stale message claims to pending.
func (o *Orchestrator) reclaim(ctx context.Context) {
	reclaimed, err := o.taskStore.ReclaimOrphans(ctx, o.cfg.ClaimTimeout)
	if err != nil {
		o.logger.Error("orphan reclaim failed",
			slog.String("error", err.Error()))
	}
	for _, id := range reclaimed {
		// If we were tracking it, the worker is presumed dead.
		delete(o.active, id)
	}

	if _, err := o.messageStore.ReclaimStale(ctx, o.cfg.MessageTimeout); err != nil {
		o.logger.Error("stale message reclaim failed",
			slog.String("error", err.Error()))
	}
}

// pumpMessages claims pending messages and hands them to the handler.
func (o *Orchestrator) pumpMessages(ctx context.Context) {
	if o.handler == nil {
		return
	}

	msgs, err := o.messageStore.ClaimNext(ctx, o.cfg.MessageBatch)
	if err != nil {
		o.logger.Error("message claim failed",
			slog.String("error", err.Error()))
		return
	}

	for _, msg := range msgs {
		o.handleMessage(ctx, msg)
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, msg *domain.QueuedMessage) {
	result, err := o.handler.Handle(ctx, msg)
	if err != nil {
		o.logger.Warn("message handling failed",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", err.Error()))
		if failErr := o.messageStore.FailMessage(ctx, msg.ID, err.Error()); failErr != nil {
			o.logger.Error("failed to record message failure",
				slog.String("message_id", msg.ID.String()),
				slog.String("error", failErr.Error()))
		}
		return
	}

	if result.SpawnedTaskID != nil {
		if err := o.messageStore.LinkSpawnedTask(ctx, msg.ID, *result.SpawnedTaskID); err != nil {
			o.logger.Error("failed to link spawned task",
				slog.String("message_id", msg.ID.String()),
				slog.String("task_id", result.SpawnedTaskID.String()),
				slog.String("error", err.Error()))
		}
	}

	if err := o.messageStore.CompleteMessage(ctx, msg.ID, result.Response); err != nil {
		o.logger.Error("failed to record message completion",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", err.Error()))
	}
}

// watchActive checks tracked tasks, runs dependency resolution for the ones
// that reached a terminal status since the last cycle, and force-terminates
// workers that outran their wall-clock deadline.
func (o *Orchestrator) watchActive(ctx context.Context) {
	for id, w := range o.active {
		task, err := o.taskStore.GetTask(ctx, id)
		if err != nil {
			if store.IsNotFoundError(err) {
				delete(o.active, id)
				continue
			}
			o.logger.Error("failed to check active task",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}

		switch task.Status {
		case domain.TaskStatusCompleted:
			delete(o.active, id)
			if _, err := o.resolver.TaskCompleted(ctx, id); err != nil {
				o.logger.Error("dependency resolution failed",
					slog.String("task_id", id.String()),
					slog.String("error", err.Error()))
			}
		case domain.TaskStatusFailed:
			delete(o.active, id)
			if _, err := o.resolver.TaskFailed(ctx, id); err != nil {
				o.logger.Error("failure resolution failed",
					slog.String("task_id", id.String()),
					slog.String("error", err.Error()))
			}
		case domain.TaskStatusPending:
			// Back in the queue: a retry or an orphan reclaim. A future
			// cycle will spawn a fresh worker for it.
			delete(o.active, id)
		default:
			if task.ClaimedBy != w.workerID {
				// Someone else holds the claim now.
				delete(o.active, id)
				continue
			}
			if o.now().After(w.deadline) {
				o.expireWorker(ctx, id, w)
			}
		}
	}
}

// expireWorker kills a worker whose attempt ran past the task deadline and
// fails the task. Progress updates keep the claim alive against the orphan
// reclaim but never extend this deadline. The failure goes through the
// normal retry path, so a timed-out task with retries left is re-queued.
func (o *Orchestrator) expireWorker(ctx context.Context, id uuid.UUID, w *activeWorker) {
	o.logger.Warn("task deadline exceeded, killing worker",
		slog.String("task_id", id.String()),
		slog.String("worker_id", w.workerID),
		slog.Duration("task_timeout", o.cfg.TaskTimeout))

	if w.process != nil {
		if err := w.process.Kill(); err != nil {
			o.logger.Error("failed to kill worker",
				slog.String("task_id", id.String()),
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()))
		}
	}
	delete(o.active, id)

	timeoutErr := fmt.Sprintf("task timed out after %s", o.cfg.TaskTimeout)
	status, err := o.taskStore.Fail(ctx, id, w.workerID, timeoutErr, o.cfg.RetryBackoff)
	if err != nil {
		// Losing the claim between the status check and the fail is a race
		// another orchestrator already resolved.
		if !errors.Is(err, store.ErrNotClaimOwner) {
			o.logger.Error("failed to record task timeout",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	if status == domain.TaskStatusFailed {
		if _, err := o.resolver.TaskFailed(ctx, id); err != nil {
			o.logger.Error("failure resolution failed",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
	}
}

// spawnWorkers claims eligible tasks up to the concurrency cap and launches a
// detached worker for each.
func (o *Orchestrator) spawnWorkers(ctx context.Context) {
	capacity := o.cfg.MaxConcurrent - len(o.active)
	if capacity <= 0 {
		return
	}

	claimable, err := o.taskStore.GetClaimable(ctx, capacity)
	if err != nil {
		o.logger.Error("failed to list claimable tasks",
			slog.String("error", err.Error()))
		return
	}

	for _, task := range claimable {
		workerID := newWorkerID()

		if err := o.taskStore.Claim(ctx, task.ID, workerID); err != nil {
			// Losing a claim race to another orchestrator is routine.
			if errors.Is(err, store.ErrNotClaimable) {
				continue
			}
			o.logger.Error("claim failed",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		proc, err := o.launcher.Launch(ctx, task.ID, workerID)
		if err != nil {
			o.logger.Error("worker launch failed",
				slog.String("task_id", task.ID.String()),
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()))
			// The claim is ours, so recording the failure keeps the task
			// from hanging until the orphan reclaim.
			launchErr := fmt.Sprintf("failed to launch worker: %v", err)
			if _, failErr := o.taskStore.Fail(ctx, task.ID, workerID, launchErr, o.cfg.RetryBackoff); failErr != nil {
				o.logger.Error("failed to record launch failure",
					slog.String("task_id", task.ID.String()),
					slog.String("error", failErr.Error()))
			}
			continue
		}

		o.active[task.ID] = &activeWorker{
			workerID: workerID,
			process:  proc,
			deadline: o.now().Add(o.cfg.TaskTimeout),
		}
		o.logger.Info("worker spawned",
			slog.String("task_id", task.ID.String()),
			slog.String("worker_id", workerID),
			slog.Int("priority", task.Priority))
	}
}

func (o *Orchestrator) sweepNotifications(ctx context.Context) {
	if o.dispatcher == nil {
		return
	}
	if _, err := o.dispatcher.Sweep(ctx); err != nil {
		o.logger.Error("notification sweep failed",
			slog.String("error", err.Error()))
	}
}

// archive periodically moves old terminal rows to the archive tables.
func (o *Orchestrator) archive(ctx context.Context) {
	if o.cfg.ArchiveInterval <= 0 || time.Since(o.lastArchive) < o.cfg.ArchiveInterval {
		return
	}
	o.lastArchive = time.Now()

	if _, err := o.taskStore.ArchiveTerminal(ctx, o.cfg.RetentionPeriod); err != nil {
		o.logger.Error("task archival failed",
			slog.String("error", err.Error()))
	}
	if _, err := o.messageStore.ArchiveTerminal(ctx, o.cfg.RetentionPeriod); err != nil {
		o.logger.Error("message archival failed",
			slog.String("error", err.Error()))
	}
}

// ActiveCount returns the number of tasks with a tracked worker.
func (o *Orchestrator) ActiveCount() int {
	return len(o.active)
}

// newWorkerID generates a unique worker identity for one claim.
func newWorkerID() string {
	return "worker-" + uuid.NewString()
}
