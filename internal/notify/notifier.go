// Package notify delivers completion notices for finished tasks. Delivery is
// decoupled from task status: a task completes even if its notification
// cannot be delivered, and the dispatcher retries delivery on later sweeps
// until the notification_sent flag is set.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Notification is the payload delivered to a notification channel.
type Notification struct {
	TaskID      uuid.UUID `json:"task_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notifier delivers a completion notice to a channel. Implementations must
// return an error on failed delivery so the dispatcher can retry later;
// returning nil marks the notification as sent.
type Notifier interface {
	Notify(ctx context.Context, channel string, n Notification) error
}

// NewNotification builds the notification payload for a terminal task.
func NewNotification(task *domain.Task) Notification {
	n := Notification{
		TaskID:      task.ID,
		Description: task.Description,
		Status:      string(task.Status),
		Result:      task.Result,
		Error:       task.ErrorMessage,
	}
	if task.CompletedAt != nil {
		n.CompletedAt = *task.CompletedAt
	}
	return n
}

// notifyKeyPrefix namespaces the per-channel delivery lists in Redis.
const notifyKeyPrefix = "notify:"

// RedisNotifier delivers notifications by pushing JSON payloads onto a
// per-channel Redis list. Channel adapters (Telegram bridge, CLI, etc.) pop
// from their list and forward to the user.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNotifier creates a RedisNotifier. If logger is nil, a default
// logger is used.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if client == nil {
		panic("client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client: client,
		logger: logger.With(slog.String("component", "redis_notifier")),
	}
}

var _ Notifier = (*RedisNotifier)(nil)

// Notify pushes the notification onto the channel's delivery list.
func (r *RedisNotifier) Notify(ctx context.Context, channel string, n Notification) error {
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("notification channel cannot be empty")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification for task %s: %w", n.TaskID, err)
	}

	key := notifyKeyPrefix + channel
	if err := r.client.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push notification to %s: %w", key, err)
	}

	r.logger.Debug("notification delivered",
		slog.String("task_id", n.TaskID.String()),
		slog.String("channel", channel))
	return nil
}

// LogNotifier writes notifications to the structured log. It is the fallback
// delivery path when no Redis endpoint is configured, and always succeeds.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. If logger is nil, a default logger is used.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "log_notifier"))}
}

var _ Notifier = (*LogNotifier)(nil)

// Notify logs the notification.
func (l *LogNotifier) Notify(ctx context.Context, channel string, n Notification) error {
	l.logger.Info("task notification",
		slog.String("task_id", n.TaskID.String()),
		slog.String("channel", channel),
		slog.String("status", n.Status),
		slog.String("description", n.Description))
	return nil
}
