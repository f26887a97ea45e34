package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a delegated task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Priority bounds. Lower numbers are claimed first.
const (
	HighestPriority = 1
	DefaultPriority = 5
	LowestPriority  = 10
)

// DefaultMaxRetries is applied when a task is created without an explicit
// retry budget.
const DefaultMaxRetries = 3

// Common validation errors for Task
var (
	ErrEmptyTaskID          = errors.New("task ID cannot be empty")
	ErrEmptyTaskDescription = errors.New("task description cannot be empty")
	ErrInvalidTaskStatus    = errors.New("invalid task status")
	ErrInvalidTaskPriority  = errors.New("task priority must be between 1 and 10")
	ErrNegativeMaxRetries   = errors.New("task max retries cannot be negative")
	ErrSelfDependency       = errors.New("task cannot depend on itself")
)

// Task represents one unit of deferrable background work, optionally part of
// a dependency chain. The description and context are opaque to the queue:
// interpretation is entirely up to the worker's executor.
type Task struct {
	ID               uuid.UUID       `json:"id"`
	Description      string          `json:"description"`
	Context          json.RawMessage `json:"context,omitempty"`
	Status           TaskStatus      `json:"status"`
	Priority         int             `json:"priority"`
	ClaimedBy        string          `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time      `json:"claimed_at,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	AvailableAt      time.Time       `json:"available_at"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
	Result           string          `json:"result,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	NotifyChannel    string          `json:"notify_channel,omitempty"`
	NotificationSent bool            `json:"notification_sent"`
	DependsOn        []uuid.UUID     `json:"depends_on,omitempty"`
	GroupID          *uuid.UUID      `json:"group_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewTask creates a new pending Task with the given description.
// It generates a new UUID, applies the default priority and retry budget,
// and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewTask(description string, context json.RawMessage) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Description: description,
		Context:     context,
		Status:      TaskStatusPending,
		Priority:    DefaultPriority,
		AvailableAt: now,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Description == "" {
		return ErrEmptyTaskDescription
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Priority < HighestPriority || t.Priority > LowestPriority {
		return ErrInvalidTaskPriority
	}

	if t.MaxRetries < 0 {
		return ErrNegativeMaxRetries
	}

	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return ErrSelfDependency
		}
	}

	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// RetriesExhausted reports whether the task has used its full retry budget.
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// IsValid reports whether the status is one of the known TaskStatus values.
func (s TaskStatus) IsValid() bool {
	return isValidTaskStatus(s)
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// ChainStatus aggregates the state of all tasks sharing a group ID.
// Pending counts every non-terminal task, including claimed and running ones.
type ChainStatus struct {
	GroupID   uuid.UUID `json:"group_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
}

// Done reports whether every task in the chain has reached a terminal state.
func (c *ChainStatus) Done() bool {
	return c.Total > 0 && c.Completed+c.Failed == c.Total
}
