// Package queue provides the producer-facing operations of the execution
// queue: enqueueing inbound messages, delegating background tasks, creating
// task chains, and reading queue state. It owns request validation and
// transactional boundaries; persistence details live in internal/store.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/store"
)

// Common sentinel errors for QueueService
var (
	// ErrTaskNotFound indicates that the task does not exist
	ErrTaskNotFound = errors.New("task not found")

	// ErrMessageNotFound indicates that the message does not exist
	ErrMessageNotFound = errors.New("message not found")

	// ErrChainNotFound indicates that no tasks share the given group ID
	ErrChainNotFound = errors.New("chain not found")

	// ErrUnknownDependency indicates a depends_on target that does not exist
	ErrUnknownDependency = errors.New("unknown dependency target")

	// ErrEmptyChain indicates a chain request with no steps
	ErrEmptyChain = errors.New("chain must contain at least one step")

	// ErrInvalidChainStep indicates a chain step referencing a later or
	// out-of-range step as its dependency
	ErrInvalidChainStep = errors.New("chain step dependency must reference an earlier step")
)

// QueueServiceError wraps errors from the queue service with context.
type QueueServiceError struct {
	// Operation is the operation that failed (e.g., "enqueue_message", "delegate_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for QueueServiceError.
func (e *QueueServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("queue service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *QueueServiceError) Unwrap() error {
	return e.Err
}

// newServiceError wraps an error with operation context. Store-level "not
// found" sentinels are mapped to their service-level equivalents and returned
// directly so callers can match on them.
func newServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, store.ErrUnknownDependency):
		return ErrUnknownDependency
	case errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, store.ErrMessageNotFound):
		return ErrMessageNotFound
	case errors.Is(err, store.ErrChainNotFound):
		return ErrChainNotFound
	}

	return &QueueServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// EnqueueMessageRequest carries the fields of an inbound message delivery.
type EnqueueMessageRequest struct {
	ExternalID  string
	Channel     string
	UserID      string
	Content     string
	Attachments []byte
	Priority    int
}

// DelegateTaskRequest carries the fields of a background task delegation.
type DelegateTaskRequest struct {
	Description   string
	Context       []byte
	Priority      int
	MaxRetries    *int
	DependsOn     []uuid.UUID
	NotifyChannel string
	GroupID       *uuid.UUID
}

// ChainStep is one member of a task chain. DependsOn lists zero-based indexes
// of earlier steps; when nil, the step depends on its immediate predecessor.
type ChainStep struct {
	Description   string
	Context       []byte
	Priority      int
	NotifyChannel string
	DependsOn     []int
}

// CreateChainRequest carries an ordered set of chain steps.
type CreateChainRequest struct {
	Steps []ChainStep
}

// TaskDetail bundles a task with its progress trail.
type TaskDetail struct {
	Task     *domain.Task
	Progress []*domain.ProgressUpdate
}

// QueueStatus is the operational snapshot of both queues.
type QueueStatus struct {
	Tasks          map[domain.TaskStatus]int
	Messages       map[domain.MessageStatus]int
	RecentTerminal []*domain.Task
}

// QueueService provides the producer and read operations of the queue.
type QueueService interface {
	// EnqueueMessage stores an inbound message for processing. Enqueueing is
	// idempotent on ExternalID: redeliveries return the canonical message.
	EnqueueMessage(ctx context.Context, req EnqueueMessageRequest) (*domain.QueuedMessage, error)

	// DelegateTask creates a background task, optionally gated on existing
	// tasks via DependsOn.
	DelegateTask(ctx context.Context, req DelegateTaskRequest) (*domain.Task, error)

	// CreateTaskChain atomically creates a group of dependent tasks sharing
	// one group ID. Either every step is created or none are.
	CreateTaskChain(ctx context.Context, req CreateChainRequest) ([]*domain.Task, error)

	// GetTaskDetail returns a task together with its progress updates.
	GetTaskDetail(ctx context.Context, id uuid.UUID) (*TaskDetail, error)

	// ListTasks returns tasks, newest first, optionally filtered by status.
	ListTasks(ctx context.Context, status *domain.TaskStatus, limit int) ([]*domain.Task, error)

	// GetMessage returns a queued message by ID.
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error)

	// GetChainStatus returns the aggregate progress of a task chain.
	GetChainStatus(ctx context.Context, groupID uuid.UUID) (*domain.ChainStatus, error)

	// GetQueueStatus returns queue depth per status plus recent terminal tasks.
	GetQueueStatus(ctx context.Context) (*QueueStatus, error)
}

// queueServiceImpl implements the QueueService interface
type queueServiceImpl struct {
	db           *sql.DB
	taskStore    store.TaskStore
	messageStore store.MessageStore
	logger       *slog.Logger
}

// NewQueueService creates a new QueueService. The db handle is used for
// transactional operations; it may be nil when the stores are already atomic
// (the in-memory test stores), in which case operations run untransacted.
func NewQueueService(
	db *sql.DB,
	taskStore store.TaskStore,
	messageStore store.MessageStore,
	logger *slog.Logger,
) (QueueService, error) {
	if taskStore == nil {
		return nil, &QueueServiceError{
			Operation: "create_service",
			Message:   "taskStore cannot be nil",
		}
	}
	if messageStore == nil {
		return nil, &QueueServiceError{
			Operation: "create_service",
			Message:   "messageStore cannot be nil",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &queueServiceImpl{
		db:           db,
		taskStore:    taskStore,
		messageStore: messageStore,
		logger:       logger.With("component", "queue_service"),
	}, nil
}

// inTransaction runs fn inside a database transaction when a db handle is
// present, and directly otherwise.
func (s *queueServiceImpl) inTransaction(ctx context.Context, fn store.TxFn) error {
	if s.db == nil {
		return fn(ctx, nil)
	}
	return store.RunInTransaction(ctx, s.db, fn)
}

// taskStoreForTx returns the task store bound to tx, or the plain store when
// running untransacted.
func (s *queueServiceImpl) taskStoreForTx(tx *sql.Tx) store.TaskStore {
	if tx == nil {
		return s.taskStore
	}
	return s.taskStore.WithTx(tx)
}

// EnqueueMessage stores an inbound message for processing.
func (s *queueServiceImpl) EnqueueMessage(
	ctx context.Context,
	req EnqueueMessageRequest,
) (*domain.QueuedMessage, error) {
	msg, err := domain.NewQueuedMessage(req.ExternalID, req.Channel, req.UserID, req.Content)
	if err != nil {
		s.logger.Warn("rejected invalid message",
			"error", err,
			"external_id", req.ExternalID)
		return nil, newServiceError("enqueue_message", "invalid message", err)
	}
	msg.Attachments = req.Attachments
	if req.Priority != 0 {
		msg.Priority = req.Priority
	}
	if err := msg.Validate(); err != nil {
		return nil, newServiceError("enqueue_message", "invalid message", err)
	}

	canonical, err := s.messageStore.Enqueue(ctx, msg)
	if err != nil {
		s.logger.Error("failed to enqueue message",
			"error", err,
			"external_id", req.ExternalID)
		return nil, newServiceError("enqueue_message", "failed to store message", err)
	}

	s.logger.Info("message accepted",
		"message_id", canonical.ID,
		"channel", canonical.Channel,
		"duplicate", canonical.ID != msg.ID)
	return canonical, nil
}

// DelegateTask creates a background task.
func (s *queueServiceImpl) DelegateTask(
	ctx context.Context,
	req DelegateTaskRequest,
) (*domain.Task, error) {
	task, err := s.buildTask(req)
	if err != nil {
		s.logger.Warn("rejected invalid task delegation",
			"error", err)
		return nil, newServiceError("delegate_task", "invalid task", err)
	}

	// Tasks with dependencies span multiple inserts, so creation runs in a
	// transaction.
	err = s.inTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.taskStoreForTx(tx).CreateTask(ctx, task)
	})
	if err != nil {
		s.logger.Error("failed to delegate task",
			"error", err,
			"task_id", task.ID)
		return nil, newServiceError("delegate_task", "failed to store task", err)
	}

	s.logger.Info("task delegated",
		"task_id", task.ID,
		"priority", task.Priority,
		"depends_on", len(task.DependsOn))
	return task, nil
}

func (s *queueServiceImpl) buildTask(req DelegateTaskRequest) (*domain.Task, error) {
	task, err := domain.NewTask(req.Description, req.Context)
	if err != nil {
		return nil, err
	}

	if req.Priority != 0 {
		task.Priority = req.Priority
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}
	task.DependsOn = req.DependsOn
	task.NotifyChannel = req.NotifyChannel
	task.GroupID = req.GroupID

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// CreateTaskChain atomically creates a group of dependent tasks.
func (s *queueServiceImpl) CreateTaskChain(
	ctx context.Context,
	req CreateChainRequest,
) ([]*domain.Task, error) {
	if len(req.Steps) == 0 {
		return nil, ErrEmptyChain
	}

	groupID := uuid.New()
	tasks := make([]*domain.Task, 0, len(req.Steps))

	for i, step := range req.Steps {
		task, err := s.buildTask(DelegateTaskRequest{
			Description:   step.Description,
			Context:       step.Context,
			Priority:      step.Priority,
			NotifyChannel: step.NotifyChannel,
			GroupID:       &groupID,
		})
		if err != nil {
			s.logger.Warn("rejected invalid chain step",
				"error", err,
				"step", i)
			return nil, newServiceError("create_chain", fmt.Sprintf("invalid step %d", i), err)
		}

		// Default to a linear chain: each step gates on its predecessor.
		indexes := step.DependsOn
		if indexes == nil && i > 0 {
			indexes = []int{i - 1}
		}
		for _, idx := range indexes {
			if idx < 0 || idx >= i {
				return nil, fmt.Errorf("%w: step %d depends on step %d", ErrInvalidChainStep, i, idx)
			}
			task.DependsOn = append(task.DependsOn, tasks[idx].ID)
		}

		tasks = append(tasks, task)
	}

	err := s.inTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.taskStoreForTx(tx).CreateChain(ctx, tasks)
	})
	if err != nil {
		s.logger.Error("failed to create task chain",
			"error", err,
			"group_id", groupID)
		return nil, newServiceError("create_chain", "failed to store chain", err)
	}

	s.logger.Info("task chain created",
		"group_id", groupID,
		"steps", len(tasks))
	return tasks, nil
}

// GetTaskDetail returns a task together with its progress updates.
func (s *queueServiceImpl) GetTaskDetail(ctx context.Context, id uuid.UUID) (*TaskDetail, error) {
	task, err := s.taskStore.GetTask(ctx, id)
	if err != nil {
		return nil, newServiceError("get_task", "failed to load task", err)
	}

	progress, err := s.taskStore.ListProgress(ctx, id)
	if err != nil {
		return nil, newServiceError("get_task", "failed to load progress", err)
	}

	return &TaskDetail{Task: task, Progress: progress}, nil
}

// ListTasks returns tasks, newest first, optionally filtered by status.
func (s *queueServiceImpl) ListTasks(
	ctx context.Context,
	status *domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	tasks, err := s.taskStore.ListTasks(ctx, status, limit)
	if err != nil {
		return nil, newServiceError("list_tasks", "failed to list tasks", err)
	}
	return tasks, nil
}

// GetMessage returns a queued message by ID.
func (s *queueServiceImpl) GetMessage(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error) {
	msg, err := s.messageStore.GetMessage(ctx, id)
	if err != nil {
		return nil, newServiceError("get_message", "failed to load message", err)
	}
	return msg, nil
}

// GetChainStatus returns the aggregate progress of a task chain.
func (s *queueServiceImpl) GetChainStatus(ctx context.Context, groupID uuid.UUID) (*domain.ChainStatus, error) {
	cs, err := s.taskStore.ChainStatus(ctx, groupID)
	if err != nil {
		return nil, newServiceError("get_chain_status", "failed to load chain", err)
	}
	return cs, nil
}

// GetQueueStatus returns queue depth per status plus recent terminal tasks.
func (s *queueServiceImpl) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	taskCounts, err := s.taskStore.CountByStatus(ctx)
	if err != nil {
		return nil, newServiceError("get_queue_status", "failed to count tasks", err)
	}

	msgCounts, err := s.messageStore.CountByStatus(ctx)
	if err != nil {
		return nil, newServiceError("get_queue_status", "failed to count messages", err)
	}

	recent, err := s.taskStore.ListRecentTerminal(ctx, 10)
	if err != nil {
		return nil, newServiceError("get_queue_status", "failed to list recent tasks", err)
	}

	return &QueueStatus{
		Tasks:          taskCounts,
		Messages:       msgCounts,
		RecentTerminal: recent,
	}, nil
}
