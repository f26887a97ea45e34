package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegateTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description:   "research flight prices",
		NotifyChannel: "telegram:42",
	}))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "research flight prices", resp.Description)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, domain.DefaultPriority, resp.Priority)
	assert.Equal(t, domain.DefaultMaxRetries, resp.MaxRetries)
}

func TestDelegateTaskWithDependencies(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description: "gather requirements",
	}))
	require.Equal(t, http.StatusCreated, first.Code)

	var parent TaskResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &parent))

	second := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description: "write summary",
		DependsOn:   []uuid.UUID{parent.ID},
	}))
	require.Equal(t, http.StatusCreated, second.Code)

	var child TaskResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &child))

	stored, err := env.taskStore.GetTask(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{parent.ID}, stored.DependsOn)
}

func TestDelegateTaskUnknownDependency(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description: "depends on nothing real",
		DependsOn:   []uuid.UUID{uuid.New()},
	}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDelegateTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateChain(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chains", CreateChainRequest{
		Steps: []ChainStepRequest{
			{Description: "book flights"},
			{Description: "book hotel"},
			{Description: "send itinerary", NotifyChannel: "telegram:42"},
		},
	}))

	require.Equal(t, http.StatusCreated, rec.Code)

	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 3)

	// All steps share one group; each step defaults to depending on its
	// predecessor.
	require.NotNil(t, tasks[0].GroupID)
	assert.Equal(t, tasks[0].GroupID, tasks[1].GroupID)
	assert.Equal(t, tasks[0].GroupID, tasks[2].GroupID)

	for i := 1; i < len(tasks); i++ {
		stored, err := env.taskStore.GetTask(context.Background(), tasks[i].ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{tasks[i-1].ID}, stored.DependsOn)
	}
}

func TestCreateChainFanIn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chains", CreateChainRequest{
		Steps: []ChainStepRequest{
			{Description: "fetch dataset A", DependsOn: []int{}},
			{Description: "fetch dataset B", DependsOn: []int{}},
			{Description: "merge datasets", DependsOn: []int{0, 1}},
		},
	}))

	require.Equal(t, http.StatusCreated, rec.Code)

	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 3)

	stored, err := env.taskStore.GetTask(context.Background(), tasks[2].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{tasks[0].ID, tasks[1].ID}, stored.DependsOn)
}

func TestDelegateTaskIntoExistingGroup(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, postJSON(t, "/api/chains", CreateChainRequest{
		Steps: []ChainStepRequest{
			{Description: "collect receipts"},
			{Description: "file expense report"},
		},
	}))
	require.Equal(t, http.StatusCreated, created.Code)

	var steps []TaskResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &steps))
	require.Len(t, steps, 2)
	require.NotNil(t, steps[0].GroupID)
	groupID := *steps[0].GroupID

	// A later delegation can join the chain's group.
	rec := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description: "archive the paperwork",
		GroupID:     &groupID,
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var task TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.NotNil(t, task.GroupID)
	assert.Equal(t, groupID, *task.GroupID)

	status := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/chains/"+groupID.String(), nil))
	require.Equal(t, http.StatusOK, status.Code)

	var chain ChainStatusResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &chain))
	assert.Equal(t, 3, chain.Total, "joined task counts toward the chain")
}

func TestCreateChainRejectsForwardReference(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chains", CreateChainRequest{
		Steps: []ChainStepRequest{
			{Description: "first", DependsOn: []int{1}},
			{Description: "second"},
		},
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateChainRejectsEmptySteps(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chains", CreateChainRequest{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskIncludesProgress(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description: "long running research",
	}))
	require.Equal(t, http.StatusCreated, created.Code)

	var task TaskResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &task))

	for _, note := range []string{"found three sources", "drafting summary"} {
		update, err := domain.NewProgressUpdate(task.ID, note)
		require.NoError(t, err)
		require.NoError(t, env.taskStore.AppendProgress(context.Background(), update))
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks/"+task.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail TaskDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, task.ID, detail.ID)
	require.Len(t, detail.Progress, 2)
	assert.Equal(t, "found three sources", detail.Progress[0].Note)
	assert.Equal(t, "drafting summary", detail.Progress[1].Note)
}

func TestGetTaskProgressEndpoint(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{
		Description: "monitored work",
	}))
	require.Equal(t, http.StatusCreated, created.Code)

	var task TaskResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &task))

	update, err := domain.NewProgressUpdate(task.ID, "halfway there")
	require.NoError(t, err)
	require.NoError(t, env.taskStore.AppendProgress(context.Background(), update))

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/tasks/"+task.ID.String()+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var progress []ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	require.Len(t, progress, 1)
	assert.Equal(t, "halfway there", progress[0].Note)
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/tasks/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasksFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)

	for _, desc := range []string{"task one", "task two"} {
		rec := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{Description: desc}))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?status=pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?status=completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Empty(t, tasks)
}

func TestListTasksRejectsBadQueryParams(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?limit=-5", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChainStatus(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, postJSON(t, "/api/chains", CreateChainRequest{
		Steps: []ChainStepRequest{
			{Description: "step one"},
			{Description: "step two"},
		},
	}))
	require.Equal(t, http.StatusCreated, created.Code)

	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &tasks))
	require.NotNil(t, tasks[0].GroupID)

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/chains/"+tasks[0].GroupID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status ChainStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, *tasks[0].GroupID, status.GroupID)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Pending)
	assert.False(t, status.Done)
}

func TestGetChainStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/chains/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetQueueStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/tasks", DelegateTaskRequest{Description: "pending work"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, postJSON(t, "/api/messages", EnqueueMessageRequest{
		ExternalID: "tg-500",
		Channel:    "telegram",
		UserID:     "42",
		Content:    "status check",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status QueueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Tasks["pending"])
	assert.Equal(t, 1, status.Messages["pending"])
	assert.Empty(t, status.RecentTerminal)
}
