package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/mocks"
	"github.com/mkessel/outrider/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExecutor returns canned results and can emit progress notes.
type stubExecutor struct {
	result string
	err    error
	notes  []string

	executed []*domain.Task
}

func (s *stubExecutor) Execute(ctx context.Context, task *domain.Task, progress ProgressFunc) (string, error) {
	s.executed = append(s.executed, task)
	for _, note := range s.notes {
		progress(note)
	}
	return s.result, s.err
}

func newPendingTask(t *testing.T, taskStore *mocks.MockTaskStore) *domain.Task {
	t.Helper()

	task, err := domain.NewTask("sort the inbox", []byte(`{"folder":"inbox"}`))
	require.NoError(t, err)
	require.NoError(t, taskStore.CreateTask(context.Background(), task))
	return task
}

func TestRunCompletesTask(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	exec := &stubExecutor{result: "inbox sorted", notes: []string{"reading", "sorting"}}
	w, err := New(taskStore, exec, "worker-1", time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	task := newPendingTask(t, taskStore)
	require.NoError(t, w.Run(ctx, task.ID))

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "inbox sorted", got.Result)
	assert.Empty(t, got.ClaimedBy)

	progress, err := taskStore.ListProgress(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, "reading", progress[0].Note)

	require.Len(t, exec.executed, 1)
	assert.Equal(t, task.ID, exec.executed[0].ID)
}

func TestRunProceedsWhenOrchestratorPreClaimed(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	exec := &stubExecutor{result: "ok"}
	w, err := New(taskStore, exec, "worker-1", time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	task := newPendingTask(t, taskStore)
	// The orchestrator claims under the worker's ID before spawning it.
	require.NoError(t, taskStore.Claim(ctx, task.ID, "worker-1"))

	require.NoError(t, w.Run(ctx, task.ID))

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
}

func TestRunAbandonsWhenClaimHeldByOther(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	exec := &stubExecutor{result: "ok"}
	w, err := New(taskStore, exec, "worker-1", time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	task := newPendingTask(t, taskStore)
	require.NoError(t, taskStore.Claim(ctx, task.ID, "worker-2"))

	err = w.Run(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrNotClaimable)
	assert.True(t, store.IsClaimLost(err))
	assert.Empty(t, exec.executed, "executor must not run without the claim")
}

func TestRunRecordsRetryableFailure(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	exec := &stubExecutor{err: errors.New("flaky downstream")}
	w, err := New(taskStore, exec, "worker-1", time.Second, nil)
	require.NoError(t, err)
	ctx := context.Background()

	task := newPendingTask(t, taskStore)

	// A recorded failure is a successful run: the queue owns the retry.
	require.NoError(t, w.Run(ctx, task.ID))

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "flaky downstream", got.ErrorMessage)
	assert.True(t, got.AvailableAt.After(time.Now()), "retry must respect backoff")
}

func TestRunRecordsTerminalFailure(t *testing.T) {
	t.Parallel()

	taskStore := mocks.NewMockTaskStore()
	exec := &stubExecutor{err: errors.New("permanently broken")}
	w, err := New(taskStore, exec, "worker-1", 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	fresh, err := domain.NewTask("no retries", nil)
	require.NoError(t, err)
	fresh.MaxRetries = 0
	require.NoError(t, taskStore.CreateTask(ctx, fresh))

	require.NoError(t, w.Run(ctx, fresh.ID))

	got, err := taskStore.GetTask(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{}
	taskStore := mocks.NewMockTaskStore()

	_, err := New(nil, exec, "w", 0, nil)
	assert.Error(t, err)
	_, err = New(taskStore, nil, "w", 0, nil)
	assert.Error(t, err)
	_, err = New(taskStore, exec, "", 0, nil)
	assert.Error(t, err)
}

func TestCommandExecutorRunsCommand(t *testing.T) {
	t.Parallel()

	exec, err := NewCommandExecutor("sh", "-c", `cat; echo "step one" >&2; echo done:`)
	require.NoError(t, err)

	task, err := domain.NewTask("ignored by sh -c", []byte(`{"k":"v"}`))
	require.NoError(t, err)

	var notes []string
	out, err := exec.Execute(context.Background(), task, func(note string) {
		notes = append(notes, note)
	})
	require.NoError(t, err)
	assert.Contains(t, out, `{"k":"v"}`)
	assert.Contains(t, out, "done:")
	assert.Equal(t, []string{"step one"}, notes)
}

func TestCommandExecutorReportsFailure(t *testing.T) {
	t.Parallel()

	exec, err := NewCommandExecutor("sh", "-c", `echo "fatal: disk full" >&2; exit 1`)
	require.NoError(t, err)

	task, err := domain.NewTask("doomed", nil)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), task, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCommandExecutorRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := NewCommandExecutor("  ")
	assert.Error(t, err)
}
