package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
)

// MessageStore defines the persistence interface for inbound queued messages.
type MessageStore interface {
	// Enqueue inserts a message idempotently on external_id: if a message
	// with the same external ID already exists, the existing row is returned
	// unchanged and no new row is created.
	Enqueue(ctx context.Context, msg *domain.QueuedMessage) (*domain.QueuedMessage, error)

	// GetMessage retrieves a message by internal ID.
	// Returns ErrMessageNotFound if no message exists with the given ID.
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error)

	// ClaimNext transitions up to limit pending messages to processing in
	// (priority ASC, created_at ASC) order and returns them. Each transition
	// is a conditional update, so concurrent pollers never claim the same
	// message twice.
	ClaimNext(ctx context.Context, limit int) ([]*domain.QueuedMessage, error)

	// CompleteMessage transitions a processing message to completed with the
	// final response payload.
	CompleteMessage(ctx context.Context, id uuid.UUID, response string) error

	// FailMessage transitions a processing message to failed with an error
	// description.
	FailMessage(ctx context.Context, id uuid.UUID, errMsg string) error

	// LinkSpawnedTask records that processing this message spawned a
	// delegated task, setting the spawned_parallel flag and back-reference.
	LinkSpawnedTask(ctx context.Context, msgID, taskID uuid.UUID) error

	// ReclaimStale returns processing messages older than the timeout to
	// pending, recovering work lost to a crashed handler.
	ReclaimStale(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error)

	// ListMessages retrieves messages, newest first, optionally filtered by status.
	ListMessages(ctx context.Context, status *domain.MessageStatus, limit int) ([]*domain.QueuedMessage, error)

	// CountByStatus returns the number of messages in each status.
	CountByStatus(ctx context.Context) (map[domain.MessageStatus]int, error)

	// ArchiveTerminal moves terminal messages older than the retention window
	// to the archive table and returns the number of messages moved.
	ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error)

	// WithTx returns a MessageStore bound to the provided transaction.
	WithTx(tx *sql.Tx) MessageStore
}
