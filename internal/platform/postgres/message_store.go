package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/platform/logger"
	"github.com/mkessel/outrider/internal/store"
)

const messageColumns = `id, external_id, channel, user_id, content, attachments, status,
	priority, response, error_message, spawned_parallel, task_id, started_at, completed_at,
	created_at, updated_at`

// PostgresMessageStore implements the store.MessageStore interface
// using a PostgreSQL database as the storage backend.
type PostgresMessageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresMessageStore creates a new PostgreSQL implementation of the MessageStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresMessageStore(db store.DBTX, logger *slog.Logger) *PostgresMessageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresMessageStore{
		db:     db,
		logger: logger.With(slog.String("component", "message_store")),
	}
}

// Ensure PostgresMessageStore implements store.MessageStore interface
var _ store.MessageStore = (*PostgresMessageStore)(nil)

// WithTx returns a MessageStore bound to the provided transaction.
func (s *PostgresMessageStore) WithTx(tx *sql.Tx) store.MessageStore {
	return &PostgresMessageStore{
		db:     tx,
		logger: s.logger,
	}
}

// Enqueue inserts a message, deduplicating on external_id. Redelivery of an
// already-seen external ID is not an error: the canonical row wins and is
// returned, whatever its current status.
func (s *PostgresMessageStore) Enqueue(ctx context.Context, msg *domain.QueuedMessage) (*domain.QueuedMessage, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := msg.Validate(); err != nil {
		log.Warn("message validation failed during enqueue",
			slog.String("error", err.Error()),
			slog.String("external_id", msg.ExternalID))
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO messages (id, external_id, channel, user_id, content, attachments,
			status, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_id) DO NOTHING
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		msg.ID,
		msg.ExternalID,
		msg.Channel,
		msg.UserID,
		msg.Content,
		nullBytes(msg.Attachments),
		msg.Status,
		msg.Priority,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue message",
			slog.String("error", err.Error()),
			slog.String("external_id", msg.ExternalID))
		return nil, MapError(err)
	}

	// Reselect by external_id so duplicate deliveries observe the canonical row.
	canonical, err := s.getByExternalID(ctx, msg.ExternalID)
	if err != nil {
		return nil, err
	}

	if canonical.ID == msg.ID {
		log.Info("message enqueued",
			slog.String("message_id", msg.ID.String()),
			slog.String("channel", msg.Channel))
	} else {
		log.Debug("duplicate message delivery ignored",
			slog.String("external_id", msg.ExternalID),
			slog.String("message_id", canonical.ID.String()))
	}
	return canonical, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresMessageStore) GetMessage(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrMessageNotFound
		}
		return nil, MapError(err)
	}
	return msg, nil
}

func (s *PostgresMessageStore) getByExternalID(ctx context.Context, externalID string) (*domain.QueuedMessage, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE external_id = $1`, messageColumns)

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrMessageNotFound
		}
		return nil, MapError(err)
	}
	return msg, nil
}

// ClaimNext atomically claims up to limit pending messages for processing,
// highest priority first, FIFO within a priority. The conditional update is
// the claim: concurrent pollers never receive the same message.
func (s *PostgresMessageStore) ClaimNext(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		UPDATE messages
		SET status = 'processing', started_at = now(), updated_at = now()
		WHERE id IN (
			SELECT id FROM messages
			WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, messageColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error("failed to claim messages",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*domain.QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, MapError(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CompleteMessage transitions a processing message to completed with its response.
func (s *PostgresMessageStore) CompleteMessage(ctx context.Context, id uuid.UUID, response string) error {
	query := `
		UPDATE messages
		SET status = 'completed', response = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`

	return s.guardedUpdate(ctx, query, id, response)
}

// FailMessage transitions a processing message to failed with its error.
func (s *PostgresMessageStore) FailMessage(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE messages
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`

	return s.guardedUpdate(ctx, query, id, errMsg)
}

// LinkSpawnedTask records that processing this message delegated work to a
// background task, and marks the message as having spawned parallel work.
func (s *PostgresMessageStore) LinkSpawnedTask(ctx context.Context, msgID, taskID uuid.UUID) error {
	query := `
		UPDATE messages
		SET spawned_parallel = TRUE, task_id = $2, updated_at = now()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, msgID, taskID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
		}
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

// ReclaimStale returns messages stuck in processing to pending. Used when a
// poller died between claiming a message and finishing it.
func (s *PostgresMessageStore) ReclaimStale(ctx context.Context, timeout time.Duration) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	cutoff := time.Now().UTC().Add(-timeout)

	query := `
		UPDATE messages
		SET status = 'pending', started_at = NULL, updated_at = now()
		WHERE status = 'processing' AND updated_at < $1
		RETURNING id
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var reclaimed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		reclaimed = append(reclaimed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	if len(reclaimed) > 0 {
		log.Warn("reclaimed stale message claims",
			slog.Int("count", len(reclaimed)))
	}
	return reclaimed, nil
}

// ListMessages retrieves messages, newest first, optionally filtered by status.
func (s *PostgresMessageStore) ListMessages(
	ctx context.Context,
	status *domain.MessageStatus,
	limit int,
) ([]*domain.QueuedMessage, error) {
	var query string
	var args []any

	if status != nil {
		query = fmt.Sprintf(
			`SELECT %s FROM messages WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			messageColumns,
		)
		args = []any{*status, limit}
	} else {
		query = fmt.Sprintf(
			`SELECT %s FROM messages ORDER BY created_at DESC LIMIT $1`,
			messageColumns,
		)
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*domain.QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, MapError(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CountByStatus returns the number of messages in each status.
func (s *PostgresMessageStore) CountByStatus(ctx context.Context) (map[domain.MessageStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.MessageStatus]int)
	for rows.Next() {
		var status domain.MessageStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, MapError(err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ArchiveTerminal moves terminal messages older than the retention window to
// messages_archive. The unique index on external_id lives only on the hot
// table (the archive is created with LIKE ... INCLUDING DEFAULTS, which
// copies no constraints), so a redelivery after archival creates a fresh hot
// row instead of deduplicating; retention should therefore exceed the
// upstream redelivery horizon.
func (s *PostgresMessageStore) ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	cutoff := time.Now().UTC().Add(-olderThan)

	query := fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM messages
			WHERE status IN ('completed', 'failed') AND updated_at < $1
			RETURNING %s
		)
		INSERT INTO messages_archive (%s) SELECT %s FROM moved
	`, messageColumns, messageColumns, messageColumns)

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		log.Error("failed to archive terminal messages",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if moved > 0 {
		log.Info("archived terminal messages", slog.Int64("count", moved))
	}
	return moved, nil
}

func (s *PostgresMessageStore) guardedUpdate(ctx context.Context, query string, id uuid.UUID, arg string) error {
	result, err := s.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: message %s is not processing", store.ErrUpdateFailed, id)
	}
	return nil
}

// scanMessage scans one message row in messageColumns order.
func scanMessage(row rowScanner) (*domain.QueuedMessage, error) {
	var (
		msg          domain.QueuedMessage
		attachments  []byte
		response     sql.NullString
		errorMessage sql.NullString
		taskID       uuid.NullUUID
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&msg.ID,
		&msg.ExternalID,
		&msg.Channel,
		&msg.UserID,
		&msg.Content,
		&attachments,
		&msg.Status,
		&msg.Priority,
		&response,
		&errorMessage,
		&msg.SpawnedParallel,
		&taskID,
		&startedAt,
		&completedAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Attachments = attachments
	msg.Response = response.String
	msg.ErrorMessage = errorMessage.String
	if taskID.Valid {
		id := taskID.UUID
		msg.TaskID = &id
	}
	if startedAt.Valid {
		t := startedAt.Time
		msg.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		msg.CompletedAt = &t
	}

	return &msg, nil
}
