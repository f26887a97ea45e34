package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (QueueService, *mocks.MockTaskStore, *mocks.MockMessageStore) {
	t.Helper()

	taskStore := mocks.NewMockTaskStore()
	msgStore := mocks.NewMockMessageStore()

	svc, err := NewQueueService(nil, taskStore, msgStore, nil)
	require.NoError(t, err)
	return svc, taskStore, msgStore
}

func TestNewQueueServiceValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewQueueService(nil, nil, mocks.NewMockMessageStore(), nil)
	assert.Error(t, err)

	_, err = NewQueueService(nil, mocks.NewMockTaskStore(), nil, nil)
	assert.Error(t, err)
}

func TestEnqueueMessage(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.EnqueueMessage(ctx, EnqueueMessageRequest{
		ExternalID: "tg-1001",
		Channel:    "telegram",
		UserID:     "user-1",
		Content:    "remind me to water the plants",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusPending, msg.Status)
	assert.Equal(t, domain.DefaultPriority, msg.Priority)

	// Redelivery returns the canonical message, not a second row.
	dup, err := svc.EnqueueMessage(ctx, EnqueueMessageRequest{
		ExternalID: "tg-1001",
		Channel:    "telegram",
		UserID:     "user-1",
		Content:    "remind me to water the plants",
	})
	require.NoError(t, err)
	assert.Equal(t, msg.ID, dup.ID)
}

func TestEnqueueMessageRejectsInvalid(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	_, err := svc.EnqueueMessage(context.Background(), EnqueueMessageRequest{
		ExternalID: "",
		Channel:    "telegram",
		UserID:     "user-1",
		Content:    "hello",
	})
	assert.Error(t, err)

	var svcErr *QueueServiceError
	assert.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "enqueue_message", svcErr.Operation)
}

func TestDelegateTask(t *testing.T) {
	t.Parallel()
	svc, taskStore, _ := newTestService(t)
	ctx := context.Background()

	maxRetries := 5
	task, err := svc.DelegateTask(ctx, DelegateTaskRequest{
		Description:   "summarize this week's meeting notes",
		Context:       []byte(`{"folder":"notes"}`),
		Priority:      domain.HighestPriority,
		MaxRetries:    &maxRetries,
		NotifyChannel: "telegram:42",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, domain.HighestPriority, task.Priority)
	assert.Equal(t, 5, task.MaxRetries)
	assert.Equal(t, "telegram:42", task.NotifyChannel)

	stored, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Description, stored.Description)
}

func TestDelegateTaskUnknownDependency(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	_, err := svc.DelegateTask(context.Background(), DelegateTaskRequest{
		Description: "depends on a ghost",
		DependsOn:   []uuid.UUID{uuid.New()},
	})
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestCreateTaskChainLinksSteps(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tasks, err := svc.CreateTaskChain(ctx, CreateChainRequest{
		Steps: []ChainStep{
			{Description: "gather sources"},
			{Description: "draft report"},
			{Description: "send report", NotifyChannel: "telegram:42"},
		},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	groupID := tasks[0].GroupID
	require.NotNil(t, groupID)
	for _, task := range tasks {
		require.NotNil(t, task.GroupID)
		assert.Equal(t, *groupID, *task.GroupID)
	}

	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, []uuid.UUID{tasks[0].ID}, tasks[1].DependsOn)
	assert.Equal(t, []uuid.UUID{tasks[1].ID}, tasks[2].DependsOn)

	cs, err := svc.GetChainStatus(ctx, *groupID)
	require.NoError(t, err)
	assert.Equal(t, 3, cs.Total)
	assert.Equal(t, 3, cs.Pending)
}

func TestCreateTaskChainExplicitDependencies(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	// Fan-in: step 2 waits on both earlier steps.
	tasks, err := svc.CreateTaskChain(context.Background(), CreateChainRequest{
		Steps: []ChainStep{
			{Description: "check calendar"},
			{Description: "check email", DependsOn: []int{}},
			{Description: "compose briefing", DependsOn: []int{0, 1}},
		},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Empty(t, tasks[0].DependsOn)
	assert.Empty(t, tasks[1].DependsOn)
	assert.ElementsMatch(t, []uuid.UUID{tasks[0].ID, tasks[1].ID}, tasks[2].DependsOn)
}

func TestCreateTaskChainRejectsBadRequests(t *testing.T) {
	t.Parallel()
	svc, taskStore, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTaskChain(ctx, CreateChainRequest{})
	assert.ErrorIs(t, err, ErrEmptyChain)

	_, err = svc.CreateTaskChain(ctx, CreateChainRequest{
		Steps: []ChainStep{
			{Description: "first"},
			{Description: "time traveler", DependsOn: []int{1}},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidChainStep)

	// An invalid step must leave no partial chain behind.
	_, err = svc.CreateTaskChain(ctx, CreateChainRequest{
		Steps: []ChainStep{
			{Description: "first"},
			{Description: ""},
		},
	})
	assert.Error(t, err)
	assert.Empty(t, taskStore.Tasks())
}

func TestGetTaskDetail(t *testing.T) {
	t.Parallel()
	svc, taskStore, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.DelegateTask(ctx, DelegateTaskRequest{Description: "dig through archives"})
	require.NoError(t, err)

	update, err := domain.NewProgressUpdate(task.ID, "found the first box")
	require.NoError(t, err)
	require.NoError(t, taskStore.AppendProgress(ctx, update))

	detail, err := svc.GetTaskDetail(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, detail.Task.ID)
	require.Len(t, detail.Progress, 1)
	assert.Equal(t, "found the first box", detail.Progress[0].Note)

	_, err = svc.GetTaskDetail(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestGetQueueStatus(t *testing.T) {
	t.Parallel()
	svc, taskStore, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.DelegateTask(ctx, DelegateTaskRequest{Description: "one task"})
	require.NoError(t, err)
	_, err = svc.EnqueueMessage(ctx, EnqueueMessageRequest{
		ExternalID: "m-1", Channel: "cli", UserID: "u", Content: "hi",
	})
	require.NoError(t, err)

	require.NoError(t, taskStore.Claim(ctx, task.ID, "worker-1"))
	require.NoError(t, taskStore.Complete(ctx, task.ID, "worker-1", "done"))

	status, err := svc.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Tasks[domain.TaskStatusCompleted])
	assert.Equal(t, 1, status.Messages[domain.MessageStatusPending])
	require.Len(t, status.RecentTerminal, 1)
	assert.Equal(t, task.ID, status.RecentTerminal[0].ID)
}

func TestServiceErrorWrapping(t *testing.T) {
	t.Parallel()

	base := errors.New("database is on fire")
	err := newServiceError("delegate_task", "failed to store task", base)

	var svcErr *QueueServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "delegate_task", svcErr.Operation)
	assert.ErrorIs(t, err, base)
}
