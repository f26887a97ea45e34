package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/store"
)

// MockTaskStore implements store.TaskStore for testing. The default
// implementation is a real in-memory queue with the same claim semantics as
// the PostgreSQL store, so service and orchestrator tests exercise genuine
// state-machine behavior without a database. Function fields override
// individual operations when a test needs custom behavior or injected errors.
type MockTaskStore struct {
	// Function fields for customizable behavior
	CreateTaskFn     func(ctx context.Context, task *domain.Task) error
	ClaimFn          func(ctx context.Context, id uuid.UUID, claimedBy string) error
	FailFn           func(ctx context.Context, id uuid.UUID, claimedBy, errMsg string, backoff time.Duration) (domain.TaskStatus, error)
	ReclaimOrphansFn func(ctx context.Context, claimTimeout time.Duration) ([]uuid.UUID, error)

	// Errors returned by the default implementation when set
	CreateError error
	GetError    error
	ClaimError  error

	mu         sync.Mutex
	tasks      map[uuid.UUID]*domain.Task
	progress   map[uuid.UUID][]*domain.ProgressUpdate
	nextProgID int64

	// now allows tests to control eligibility time; defaults to time.Now.
	now func() time.Time
}

// NewMockTaskStore creates a new mock store with initialized defaults
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks:    make(map[uuid.UUID]*domain.Task),
		progress: make(map[uuid.UUID][]*domain.ProgressUpdate),
		now:      time.Now,
	}
}

// Ensure MockTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*MockTaskStore)(nil)

// SetNow overrides the clock used for eligibility and timeout checks.
func (m *MockTaskStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Tasks returns a snapshot of all stored tasks, for assertions.
func (m *MockTaskStore) Tasks() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CreateTask implements the TaskStore interface
func (m *MockTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if m.CreateTaskFn != nil {
		return m.CreateTaskFn(ctx, task)
	}
	if m.CreateError != nil {
		return m.CreateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(task)
}

func (m *MockTaskStore) createLocked(task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	if _, exists := m.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	for _, dep := range task.DependsOn {
		if _, ok := m.tasks[dep]; !ok {
			return fmt.Errorf("%w: %s", store.ErrUnknownDependency, dep)
		}
	}

	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

// CreateChain implements the TaskStore interface
func (m *MockTaskStore) CreateChain(ctx context.Context, tasks []*domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := make([]uuid.UUID, 0, len(tasks))
	for _, task := range tasks {
		if err := m.createLocked(task); err != nil {
			for _, id := range inserted {
				delete(m.tasks, id)
			}
			return err
		}
		inserted = append(inserted, task.ID)
	}
	return nil
}

// GetTask implements the TaskStore interface
func (m *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

// ListTasks implements the TaskStore interface
func (m *MockTaskStore) ListTasks(
	ctx context.Context,
	status *domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Task
	for _, task := range m.tasks {
		if status != nil && task.Status != *status {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTaskStore) eligibleLocked(task *domain.Task) bool {
	if task.Status != domain.TaskStatusPending || task.AvailableAt.After(m.now()) {
		return false
	}
	for _, dep := range task.DependsOn {
		depTask, ok := m.tasks[dep]
		if !ok || depTask.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// GetClaimable implements the TaskStore interface
func (m *MockTaskStore) GetClaimable(ctx context.Context, limit int) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Task
	for _, task := range m.tasks {
		if m.eligibleLocked(task) {
			copied := *task
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim implements the TaskStore interface
func (m *MockTaskStore) Claim(ctx context.Context, id uuid.UUID, claimedBy string) error {
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx, id, claimedBy)
	}
	if m.ClaimError != nil {
		return m.ClaimError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || !m.eligibleLocked(task) || task.ClaimedBy != "" {
		return store.ErrNotClaimable
	}

	now := m.now()
	task.Status = domain.TaskStatusClaimed
	task.ClaimedBy = claimedBy
	task.ClaimedAt = &now
	task.UpdatedAt = now
	return nil
}

// Start implements the TaskStore interface
func (m *MockTaskStore) Start(ctx context.Context, id uuid.UUID, claimedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.ClaimedBy != claimedBy || task.Status != domain.TaskStatusClaimed {
		return store.ErrNotClaimOwner
	}

	now := m.now()
	task.Status = domain.TaskStatusRunning
	task.StartedAt = &now
	task.UpdatedAt = now
	return nil
}

// Complete implements the TaskStore interface
func (m *MockTaskStore) Complete(ctx context.Context, id uuid.UUID, claimedBy, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.ClaimedBy != claimedBy ||
		(task.Status != domain.TaskStatusClaimed && task.Status != domain.TaskStatusRunning) {
		return store.ErrNotClaimOwner
	}

	now := m.now()
	task.Status = domain.TaskStatusCompleted
	task.Result = result
	task.CompletedAt = &now
	task.ClaimedBy = ""
	task.UpdatedAt = now
	return nil
}

// Fail implements the TaskStore interface
func (m *MockTaskStore) Fail(
	ctx context.Context,
	id uuid.UUID,
	claimedBy, errMsg string,
	backoff time.Duration,
) (domain.TaskStatus, error) {
	if m.FailFn != nil {
		return m.FailFn(ctx, id, claimedBy, errMsg, backoff)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.ClaimedBy != claimedBy ||
		(task.Status != domain.TaskStatusClaimed && task.Status != domain.TaskStatusRunning) {
		return "", store.ErrNotClaimOwner
	}

	now := m.now()
	task.ErrorMessage = errMsg
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	task.StartedAt = nil
	task.UpdatedAt = now

	if task.RetryCount < task.MaxRetries {
		delay := backoff * time.Duration(1<<task.RetryCount)
		task.RetryCount++
		task.Status = domain.TaskStatusPending
		task.AvailableAt = now.Add(delay)
		return domain.TaskStatusPending, nil
	}

	task.Status = domain.TaskStatusFailed
	task.CompletedAt = &now
	return domain.TaskStatusFailed, nil
}

// FailPending implements the TaskStore interface
func (m *MockTaskStore) FailPending(ctx context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: task %s is not pending", store.ErrUpdateFailed, id)
	}

	now := m.now()
	task.Status = domain.TaskStatusFailed
	task.ErrorMessage = errMsg
	task.CompletedAt = &now
	task.UpdatedAt = now
	return nil
}

// ReclaimOrphans implements the TaskStore interface
func (m *MockTaskStore) ReclaimOrphans(
	ctx context.Context,
	claimTimeout time.Duration,
) ([]uuid.UUID, error) {
	if m.ReclaimOrphansFn != nil {
		return m.ReclaimOrphansFn(ctx, claimTimeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-claimTimeout)
	var reclaimed []uuid.UUID
	for _, task := range m.tasks {
		if task.Status != domain.TaskStatusClaimed && task.Status != domain.TaskStatusRunning {
			continue
		}
		anchor := task.ClaimedAt
		if task.StartedAt != nil {
			anchor = task.StartedAt
		}
		if anchor == nil || !anchor.Before(cutoff) {
			continue
		}
		if m.hasRecentProgressLocked(task.ID, cutoff) {
			continue
		}

		task.Status = domain.TaskStatusPending
		task.ClaimedBy = ""
		task.ClaimedAt = nil
		task.StartedAt = nil
		task.UpdatedAt = m.now()
		reclaimed = append(reclaimed, task.ID)
	}
	return reclaimed, nil
}

func (m *MockTaskStore) hasRecentProgressLocked(taskID uuid.UUID, cutoff time.Time) bool {
	for _, update := range m.progress[taskID] {
		if !update.CreatedAt.Before(cutoff) {
			return true
		}
	}
	return false
}

// ListDependents implements the TaskStore interface
func (m *MockTaskStore) ListDependents(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		blocked[id] = true
	}

	var dependents []uuid.UUID
	for _, task := range m.tasks {
		for _, dep := range task.DependsOn {
			if blocked[dep] {
				dependents = append(dependents, task.ID)
				break
			}
		}
	}
	return dependents, nil
}

// ChainStatus implements the TaskStore interface
func (m *MockTaskStore) ChainStatus(ctx context.Context, groupID uuid.UUID) (*domain.ChainStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := &domain.ChainStatus{GroupID: groupID}
	for _, task := range m.tasks {
		if task.GroupID == nil || *task.GroupID != groupID {
			continue
		}
		cs.Total++
		switch task.Status {
		case domain.TaskStatusCompleted:
			cs.Completed++
		case domain.TaskStatusFailed:
			cs.Failed++
		default:
			cs.Pending++
		}
	}
	if cs.Total == 0 {
		return nil, store.ErrChainNotFound
	}
	return cs, nil
}

// AppendProgress implements the TaskStore interface
func (m *MockTaskStore) AppendProgress(ctx context.Context, update *domain.ProgressUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[update.TaskID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, update.TaskID)
	}

	m.nextProgID++
	copied := *update
	copied.ID = m.nextProgID
	m.progress[update.TaskID] = append(m.progress[update.TaskID], &copied)
	return nil
}

// ListProgress implements the TaskStore interface
func (m *MockTaskStore) ListProgress(ctx context.Context, taskID uuid.UUID) ([]*domain.ProgressUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updates := m.progress[taskID]
	out := make([]*domain.ProgressUpdate, 0, len(updates))
	for _, update := range updates {
		copied := *update
		out = append(out, &copied)
	}
	return out, nil
}

// ListUnnotified implements the TaskStore interface
func (m *MockTaskStore) ListUnnotified(ctx context.Context, limit int) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Task
	for _, task := range m.tasks {
		if task.IsTerminal() && !task.NotificationSent && task.NotifyChannel != "" {
			copied := *task
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotified implements the TaskStore interface
func (m *MockTaskStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	task.NotificationSent = true
	task.UpdatedAt = m.now()
	return nil
}

// CountByStatus implements the TaskStore interface
func (m *MockTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, task := range m.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// ListRecentTerminal implements the TaskStore interface
func (m *MockTaskStore) ListRecentTerminal(ctx context.Context, limit int) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Task
	for _, task := range m.tasks {
		if task.IsTerminal() {
			copied := *task
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(*out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ArchiveTerminal implements the TaskStore interface
func (m *MockTaskStore) ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	var moved int64
	for id, task := range m.tasks {
		if task.IsTerminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			delete(m.progress, id)
			moved++
		}
	}
	return moved, nil
}

// WithTx implements the TaskStore interface. The in-memory store has no
// transactions; it returns itself.
func (m *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}
