package notify

import (
	"context"
	"log/slog"

	"github.com/mkessel/outrider/internal/store"
)

// Dispatcher sweeps terminal tasks with undelivered notifications and
// delivers them. The sweep is idempotent: the notification_sent flag is only
// set after the notifier reports success, so a crash between delivery and
// flag update re-delivers rather than dropping. Channels must tolerate the
// resulting at-least-once semantics.
type Dispatcher struct {
	taskStore store.TaskStore
	notifier  Notifier
	batchSize int
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher delivering through the given notifier.
func NewDispatcher(taskStore store.TaskStore, notifier Notifier, batchSize int, logger *slog.Logger) *Dispatcher {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if notifier == nil {
		panic("notifier cannot be nil")
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		taskStore: taskStore,
		notifier:  notifier,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "notify_dispatcher")),
	}
}

// Sweep delivers pending notifications and returns the number delivered.
// Individual delivery failures are logged and left for the next sweep; only
// store errors abort the pass.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	tasks, err := d.taskStore.ListUnnotified(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, task := range tasks {
		if err := d.notifier.Notify(ctx, task.NotifyChannel, NewNotification(task)); err != nil {
			d.logger.Warn("notification delivery failed, will retry",
				slog.String("task_id", task.ID.String()),
				slog.String("channel", task.NotifyChannel),
				slog.String("error", err.Error()))
			continue
		}

		if err := d.taskStore.MarkNotified(ctx, task.ID); err != nil {
			d.logger.Error("failed to mark notification as sent",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		delivered++
	}

	return delivered, nil
}
