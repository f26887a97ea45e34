package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/queue"
)

// Common request/response structures

// EnqueueMessageRequest defines the payload for the message intake endpoint.
type EnqueueMessageRequest struct {
	ExternalID  string          `json:"external_id" validate:"required,min=1"`
	Channel     string          `json:"channel"     validate:"required,min=1"`
	UserID      string          `json:"user_id"     validate:"required,min=1"`
	Content     string          `json:"content"     validate:"required,min=1"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	Priority    int             `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
}

// DelegateTaskRequest defines the payload for the task delegation endpoint.
type DelegateTaskRequest struct {
	Description   string          `json:"description" validate:"required,min=1"`
	Context       json.RawMessage `json:"context,omitempty"`
	Priority      int             `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
	MaxRetries    *int            `json:"max_retries,omitempty" validate:"omitempty,min=0"`
	DependsOn     []uuid.UUID     `json:"depends_on,omitempty"`
	GroupID       *uuid.UUID      `json:"group_id,omitempty"`
	NotifyChannel string          `json:"notify_channel,omitempty"`
}

// ChainStepRequest is one step of a chain creation request.
type ChainStepRequest struct {
	Description   string          `json:"description" validate:"required,min=1"`
	Context       json.RawMessage `json:"context,omitempty"`
	Priority      int             `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
	NotifyChannel string          `json:"notify_channel,omitempty"`
	DependsOn     []int           `json:"depends_on,omitempty"`
}

// CreateChainRequest defines the payload for the chain creation endpoint.
type CreateChainRequest struct {
	Steps []ChainStepRequest `json:"steps" validate:"required,min=1,dive"`
}

// MessageResponse represents the response data for a queued message.
type MessageResponse struct {
	ID              uuid.UUID  `json:"id"`
	ExternalID      string     `json:"external_id"`
	Channel         string     `json:"channel"`
	UserID          string     `json:"user_id"`
	Status          string     `json:"status"`
	Priority        int        `json:"priority"`
	Response        string     `json:"response,omitempty"`
	ErrorMessage    string     `json:"error,omitempty"`
	SpawnedParallel bool       `json:"spawned_parallel"`
	TaskID          *uuid.UUID `json:"task_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID            uuid.UUID   `json:"id"`
	Description   string      `json:"description"`
	Status        string      `json:"status"`
	Priority      int         `json:"priority"`
	RetryCount    int         `json:"retry_count"`
	MaxRetries    int         `json:"max_retries"`
	Result        string      `json:"result,omitempty"`
	ErrorMessage  string      `json:"error,omitempty"`
	NotifyChannel string      `json:"notify_channel,omitempty"`
	DependsOn     []uuid.UUID `json:"depends_on,omitempty"`
	GroupID       *uuid.UUID  `json:"group_id,omitempty"`
	AvailableAt   time.Time   `json:"available_at"`
	ClaimedAt     *time.Time  `json:"claimed_at,omitempty"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ProgressResponse represents one progress update.
type ProgressResponse struct {
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskDetailResponse bundles a task with its progress trail.
type TaskDetailResponse struct {
	TaskResponse
	Progress []ProgressResponse `json:"progress"`
}

// ChainStatusResponse represents the aggregate state of a task chain.
type ChainStatusResponse struct {
	GroupID   uuid.UUID `json:"group_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
	Done      bool      `json:"done"`
}

// QueueStatusResponse is the operational snapshot of both queues.
type QueueStatusResponse struct {
	Tasks          map[string]int `json:"tasks"`
	Messages       map[string]int `json:"messages"`
	RecentTerminal []TaskResponse `json:"recent_terminal"`
}

func messageToResponse(msg *domain.QueuedMessage) MessageResponse {
	return MessageResponse{
		ID:              msg.ID,
		ExternalID:      msg.ExternalID,
		Channel:         msg.Channel,
		UserID:          msg.UserID,
		Status:          string(msg.Status),
		Priority:        msg.Priority,
		Response:        msg.Response,
		ErrorMessage:    msg.ErrorMessage,
		SpawnedParallel: msg.SpawnedParallel,
		TaskID:          msg.TaskID,
		StartedAt:       msg.StartedAt,
		CompletedAt:     msg.CompletedAt,
		CreatedAt:       msg.CreatedAt,
		UpdatedAt:       msg.UpdatedAt,
	}
}

func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:            task.ID,
		Description:   task.Description,
		Status:        string(task.Status),
		Priority:      task.Priority,
		RetryCount:    task.RetryCount,
		MaxRetries:    task.MaxRetries,
		Result:        task.Result,
		ErrorMessage:  task.ErrorMessage,
		NotifyChannel: task.NotifyChannel,
		DependsOn:     task.DependsOn,
		GroupID:       task.GroupID,
		AvailableAt:   task.AvailableAt,
		ClaimedAt:     task.ClaimedAt,
		StartedAt:     task.StartedAt,
		CompletedAt:   task.CompletedAt,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}
}

func tasksToResponses(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskToResponse(task))
	}
	return out
}

func chainStatusToResponse(cs *domain.ChainStatus) ChainStatusResponse {
	return ChainStatusResponse{
		GroupID:   cs.GroupID,
		Total:     cs.Total,
		Completed: cs.Completed,
		Failed:    cs.Failed,
		Pending:   cs.Pending,
		Done:      cs.Done(),
	}
}

func queueStatusToResponse(status *queue.QueueStatus) QueueStatusResponse {
	tasks := make(map[string]int, len(status.Tasks))
	for s, n := range status.Tasks {
		tasks[string(s)] = n
	}
	messages := make(map[string]int, len(status.Messages))
	for s, n := range status.Messages {
		messages[string(s)] = n
	}
	return QueueStatusResponse{
		Tasks:          tasks,
		Messages:       messages,
		RecentTerminal: tasksToResponses(status.RecentTerminal),
	}
}
