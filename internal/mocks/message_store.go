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

// MockMessageStore implements store.MessageStore for testing, with the same
// in-memory-queue approach as MockTaskStore.
type MockMessageStore struct {
	// Function fields for customizable behavior
	EnqueueFn   func(ctx context.Context, msg *domain.QueuedMessage) (*domain.QueuedMessage, error)
	ClaimNextFn func(ctx context.Context, limit int) ([]*domain.QueuedMessage, error)

	// Errors returned by the default implementation when set
	EnqueueError error

	mu         sync.Mutex
	messages   map[uuid.UUID]*domain.QueuedMessage
	byExternal map[string]uuid.UUID

	now func() time.Time
}

// NewMockMessageStore creates a new mock store with initialized defaults
func NewMockMessageStore() *MockMessageStore {
	return &MockMessageStore{
		messages:   make(map[uuid.UUID]*domain.QueuedMessage),
		byExternal: make(map[string]uuid.UUID),
		now:        time.Now,
	}
}

// Ensure MockMessageStore implements store.MessageStore interface
var _ store.MessageStore = (*MockMessageStore)(nil)

// Messages returns a snapshot of all stored messages, for assertions.
func (m *MockMessageStore) Messages() []*domain.QueuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.QueuedMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		copied := *msg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Enqueue implements the MessageStore interface
func (m *MockMessageStore) Enqueue(ctx context.Context, msg *domain.QueuedMessage) (*domain.QueuedMessage, error) {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, msg)
	}
	if m.EnqueueError != nil {
		return nil, m.EnqueueError
	}

	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byExternal[msg.ExternalID]; ok {
		copied := *m.messages[existingID]
		return &copied, nil
	}

	copied := *msg
	m.messages[msg.ID] = &copied
	m.byExternal[msg.ExternalID] = msg.ID

	result := copied
	return &result, nil
}

// GetMessage implements the MessageStore interface
func (m *MockMessageStore) GetMessage(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

// ClaimNext implements the MessageStore interface
func (m *MockMessageStore) ClaimNext(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	if m.ClaimNextFn != nil {
		return m.ClaimNextFn(ctx, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*domain.QueuedMessage
	for _, msg := range m.messages {
		if msg.Status == domain.MessageStatusPending {
			pending = append(pending, msg)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]*domain.QueuedMessage, 0, len(pending))
	for _, msg := range pending {
		now := m.now()
		msg.Status = domain.MessageStatusProcessing
		msg.StartedAt = &now
		msg.UpdatedAt = now
		copied := *msg
		out = append(out, &copied)
	}
	return out, nil
}

// CompleteMessage implements the MessageStore interface
func (m *MockMessageStore) CompleteMessage(ctx context.Context, id uuid.UUID, response string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || msg.Status != domain.MessageStatusProcessing {
		return fmt.Errorf("%w: message %s is not processing", store.ErrUpdateFailed, id)
	}
	now := m.now()
	msg.Status = domain.MessageStatusCompleted
	msg.Response = response
	msg.CompletedAt = &now
	msg.UpdatedAt = now
	return nil
}

// FailMessage implements the MessageStore interface
func (m *MockMessageStore) FailMessage(ctx context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || msg.Status != domain.MessageStatusProcessing {
		return fmt.Errorf("%w: message %s is not processing", store.ErrUpdateFailed, id)
	}
	now := m.now()
	msg.Status = domain.MessageStatusFailed
	msg.ErrorMessage = errMsg
	msg.CompletedAt = &now
	msg.UpdatedAt = now
	return nil
}

// LinkSpawnedTask implements the MessageStore interface
func (m *MockMessageStore) LinkSpawnedTask(ctx context.Context, msgID, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[msgID]
	if !ok {
		return store.ErrMessageNotFound
	}
	msg.SpawnedParallel = true
	id := taskID
	msg.TaskID = &id
	msg.UpdatedAt = m.now()
	return nil
}

// ReclaimStale implements the MessageStore interface
func (m *MockMessageStore) ReclaimStale(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-timeout)
	var reclaimed []uuid.UUID
	for _, msg := range m.messages {
		if msg.Status == domain.MessageStatusProcessing && msg.UpdatedAt.Before(cutoff) {
			msg.Status = domain.MessageStatusPending
			msg.StartedAt = nil
			msg.UpdatedAt = m.now()
			reclaimed = append(reclaimed, msg.ID)
		}
	}
	return reclaimed, nil
}

// ListMessages implements the MessageStore interface
func (m *MockMessageStore) ListMessages(
	ctx context.Context,
	status *domain.MessageStatus,
	limit int,
) ([]*domain.QueuedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.QueuedMessage
	for _, msg := range m.messages {
		if status != nil && msg.Status != *status {
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus implements the MessageStore interface
func (m *MockMessageStore) CountByStatus(ctx context.Context) (map[domain.MessageStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.MessageStatus]int)
	for _, msg := range m.messages {
		counts[msg.Status]++
	}
	return counts, nil
}

// ArchiveTerminal implements the MessageStore interface
func (m *MockMessageStore) ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	var moved int64
	for id, msg := range m.messages {
		if msg.IsTerminal() && msg.UpdatedAt.Before(cutoff) {
			delete(m.messages, id)
			delete(m.byExternal, msg.ExternalID)
			moved++
		}
	}
	return moved, nil
}

// WithTx implements the MessageStore interface. The in-memory store has no
// transactions; it returns itself.
func (m *MockMessageStore) WithTx(tx *sql.Tx) store.MessageStore {
	return m
}
