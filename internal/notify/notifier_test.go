package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mrd "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniClient(t *testing.T) (*redis.Client, *mrd.Miniredis) {
	t.Helper()

	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

func terminalTask(t *testing.T, channel string) *domain.Task {
	t.Helper()

	task, err := domain.NewTask("compile the weekly digest", nil)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	task.Status = domain.TaskStatusCompleted
	task.Result = "digest sent"
	task.CompletedAt = &now
	task.NotifyChannel = channel
	return task
}

func TestRedisNotifierPushesToChannelList(t *testing.T) {
	t.Parallel()

	rdb, s := newMiniClient(t)
	notifier := NewRedisNotifier(rdb, nil)
	ctx := context.Background()

	task := terminalTask(t, "telegram:42")
	require.NoError(t, notifier.Notify(ctx, task.NotifyChannel, NewNotification(task)))

	payloads, err := s.List("notify:telegram:42")
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &n))
	assert.Equal(t, task.ID, n.TaskID)
	assert.Equal(t, "completed", n.Status)
	assert.Equal(t, "digest sent", n.Result)
	assert.Equal(t, *task.CompletedAt, n.CompletedAt)
}

func TestRedisNotifierRejectsEmptyChannel(t *testing.T) {
	t.Parallel()

	rdb, _ := newMiniClient(t)
	notifier := NewRedisNotifier(rdb, nil)

	err := notifier.Notify(context.Background(), "  ", Notification{TaskID: uuid.New()})
	assert.Error(t, err)
}

func TestRedisNotifierReportsConnectionFailure(t *testing.T) {
	t.Parallel()

	rdb, s := newMiniClient(t)
	notifier := NewRedisNotifier(rdb, nil)
	s.Close()

	err := notifier.Notify(context.Background(), "telegram:42", Notification{TaskID: uuid.New()})
	assert.Error(t, err, "failed delivery must surface so the dispatcher retries")
}

func TestLogNotifierAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	notifier := NewLogNotifier(nil)
	err := notifier.Notify(context.Background(), "cli", Notification{TaskID: uuid.New()})
	assert.NoError(t, err)
}

func TestNewNotificationForFailedTask(t *testing.T) {
	t.Parallel()

	task, err := domain.NewTask("doomed errand", nil)
	require.NoError(t, err)
	task.Status = domain.TaskStatusFailed
	task.ErrorMessage = "ran out of retries"

	n := NewNotification(task)
	assert.Equal(t, "failed", n.Status)
	assert.Equal(t, "ran out of retries", n.Error)
	assert.Empty(t, n.Result)
	assert.True(t, n.CompletedAt.IsZero())
}
