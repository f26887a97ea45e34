package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures deliveries and optionally fails specific channels.
type recordingNotifier struct {
	mu           sync.Mutex
	delivered    []Notification
	failChannels map[string]bool
}

func (r *recordingNotifier) Notify(ctx context.Context, channel string, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failChannels[channel] {
		return errors.New("channel unreachable")
	}
	r.delivered = append(r.delivered, n)
	return nil
}

func finishTask(t *testing.T, taskStore *mocks.MockTaskStore, channel string) *domain.Task {
	t.Helper()
	ctx := context.Background()

	task, err := domain.NewTask("deliver me", nil)
	require.NoError(t, err)
	task.NotifyChannel = channel
	require.NoError(t, taskStore.CreateTask(ctx, task))
	require.NoError(t, taskStore.Claim(ctx, task.ID, "w"))
	require.NoError(t, taskStore.Complete(ctx, task.ID, "w", "ok"))
	return task
}

func TestSweepDeliversAndMarks(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	notifier := &recordingNotifier{}
	d := NewDispatcher(taskStore, notifier, 0, nil)
	ctx := context.Background()

	task := finishTask(t, taskStore, "telegram:42")

	delivered, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, task.ID, notifier.delivered[0].TaskID)

	// A second sweep finds nothing: the flag is set.
	delivered, err = d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Len(t, notifier.delivered, 1)
}

func TestSweepRetriesFailedDeliveries(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	notifier := &recordingNotifier{failChannels: map[string]bool{"telegram:down": true}}
	d := NewDispatcher(taskStore, notifier, 0, nil)
	ctx := context.Background()

	finishTask(t, taskStore, "telegram:down")
	ok := finishTask(t, taskStore, "telegram:up")

	delivered, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, ok.ID, notifier.delivered[0].TaskID)

	// Channel recovers: the failed delivery is retried on the next sweep.
	notifier.failChannels = nil

	delivered, err = d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, notifier.delivered, 2)
}

func TestSweepSkipsTasksWithoutChannel(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	notifier := &recordingNotifier{}
	d := NewDispatcher(taskStore, notifier, 0, nil)
	ctx := context.Background()

	finishTask(t, taskStore, "")

	delivered, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Empty(t, notifier.delivered)
}
