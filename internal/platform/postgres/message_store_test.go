package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(t *testing.T) *domain.QueuedMessage {
	t.Helper()

	msg, err := domain.NewQueuedMessage(
		fmt.Sprintf("ext-%s", uuid.New()),
		"telegram",
		"user-1",
		"what is on my calendar tomorrow?",
	)
	require.NoError(t, err)
	return msg
}

// Integration tests for PostgresMessageStore
func TestPostgresMessageStore_Integration(t *testing.T) {
	if !isIntegrationTestEnvironment() {
		t.Skip("Skipping integration test - DATABASE_URL environment variable required")
	}

	db := getTestDB(t)
	ctx := context.Background()

	t.Run("EnqueueAndGet", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)

		msg := newTestMessage(t)
		canonical, err := msgStore.Enqueue(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, canonical.ID)

		got, err := msgStore.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.ExternalID, got.ExternalID)
		assert.Equal(t, domain.MessageStatusPending, got.Status)
		assert.False(t, got.SpawnedParallel)
	})

	t.Run("EnqueueIsIdempotentOnExternalID", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)

		msg := newTestMessage(t)
		first, err := msgStore.Enqueue(ctx, msg)
		require.NoError(t, err)

		// Redelivery with the same external ID but a fresh internal ID.
		dup, err := domain.NewQueuedMessage(msg.ExternalID, msg.Channel, msg.UserID, msg.Content)
		require.NoError(t, err)

		second, err := msgStore.Enqueue(ctx, dup)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "duplicate delivery must return the canonical row")

		var count int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE external_id = $1`, msg.ExternalID).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("ClaimNextOrdersByPriorityThenAge", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)

		low := newTestMessage(t)
		low.Priority = domain.LowestPriority
		_, err := msgStore.Enqueue(ctx, low)
		require.NoError(t, err)

		high := newTestMessage(t)
		high.Priority = domain.HighestPriority
		_, err = msgStore.Enqueue(ctx, high)
		require.NoError(t, err)

		claimed, err := msgStore.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, high.ID, claimed[0].ID)
		assert.Equal(t, domain.MessageStatusProcessing, claimed[0].Status)

		// The claimed message is no longer visible to a second poller.
		claimed, err = msgStore.ClaimNext(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, low.ID, claimed[0].ID)
	})

	t.Run("CompleteAndFailRequireProcessing", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)

		msg := newTestMessage(t)
		_, err := msgStore.Enqueue(ctx, msg)
		require.NoError(t, err)

		// Still pending: terminal transitions are refused.
		err = msgStore.CompleteMessage(ctx, msg.ID, "answer")
		assert.ErrorIs(t, err, store.ErrUpdateFailed)

		claimed, err := msgStore.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NotNil(t, claimed[0].StartedAt, "claim records when processing began")
		assert.Nil(t, claimed[0].CompletedAt)

		require.NoError(t, msgStore.CompleteMessage(ctx, msg.ID, "answer"))

		got, err := msgStore.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusCompleted, got.Status)
		assert.Equal(t, "answer", got.Response)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.CompletedAt, "completion records when processing finished")
		assert.False(t, got.CompletedAt.Before(*got.StartedAt))

		err = msgStore.FailMessage(ctx, msg.ID, "too late")
		assert.ErrorIs(t, err, store.ErrUpdateFailed)
	})

	t.Run("LinkSpawnedTask", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)
		taskStore := NewPostgresTaskStore(tx, nil)

		msg := newTestMessage(t)
		_, err := msgStore.Enqueue(ctx, msg)
		require.NoError(t, err)

		task := newTestTask(t)
		require.NoError(t, taskStore.CreateTask(ctx, task))

		require.NoError(t, msgStore.LinkSpawnedTask(ctx, msg.ID, task.ID))

		got, err := msgStore.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.SpawnedParallel)
		require.NotNil(t, got.TaskID)
		assert.Equal(t, task.ID, *got.TaskID)

		err = msgStore.LinkSpawnedTask(ctx, msg.ID, uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("ReclaimStale", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)

		msg := newTestMessage(t)
		_, err := msgStore.Enqueue(ctx, msg)
		require.NoError(t, err)

		claimed, err := msgStore.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET updated_at = now() - interval '1 hour' WHERE id = $1`, msg.ID)
		require.NoError(t, err)

		reclaimed, err := msgStore.ReclaimStale(ctx, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{msg.ID}, reclaimed)

		got, err := msgStore.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusPending, got.Status)
		assert.Nil(t, got.StartedAt, "reclaim clears the stale attempt's start time")
	})

	t.Run("ArchiveTerminal", func(t *testing.T) {
		tx := beginTestTx(t, db)
		msgStore := NewPostgresMessageStore(tx, nil)

		msg := newTestMessage(t)
		_, err := msgStore.Enqueue(ctx, msg)
		require.NoError(t, err)

		claimed, err := msgStore.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, msgStore.CompleteMessage(ctx, msg.ID, "done"))

		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET updated_at = now() - interval '60 days' WHERE id = $1`, msg.ID)
		require.NoError(t, err)

		moved, err := msgStore.ArchiveTerminal(ctx, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), moved)

		_, err = msgStore.GetMessage(ctx, msg.ID)
		assert.ErrorIs(t, err, store.ErrMessageNotFound)
	})
}
