package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/platform/logger"
	"github.com/mkessel/outrider/internal/store"
)

// taskColumns is the canonical select list for task rows.
const taskColumns = `id, description, context, status, priority, claimed_by, claimed_at,
	started_at, completed_at, available_at, retry_count, max_retries, result,
	error_message, notify_channel, notification_sent, group_id, created_at, updated_at`

// claimEligible encodes claim eligibility as SQL. Eligibility is computed,
// never stored: a pending task whose backoff has elapsed and whose every
// depends_on entry is completed.
const claimEligible = `status = 'pending'
	AND available_at <= now()
	AND NOT EXISTS (
		SELECT 1 FROM task_dependencies d
		JOIN tasks dep ON dep.id = d.depends_on_id
		WHERE d.task_id = tasks.id AND dep.status <> 'completed'
	)`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a TaskStore bound to the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// CreateTask persists a task and its depends_on edges.
//
// When the task has dependencies the insert spans multiple statements, so
// callers needing atomicity (any task with depends_on) must run inside a
// transaction via WithTx; the queue service does this.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, description, context, status, priority, available_at,
			retry_count, max_retries, notify_channel, group_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Description,
		nullBytes(task.Context),
		task.Status,
		task.Priority,
		task.AvailableAt,
		task.RetryCount,
		task.MaxRetries,
		nullString(task.NotifyChannel),
		nullUUID(task.GroupID),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	for _, dep := range task.DependsOn {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO task_dependencies (task_id, depends_on_id) VALUES ($1, $2)`,
			task.ID, dep,
		)
		if err != nil {
			if IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", store.ErrUnknownDependency, dep)
			}
			log.Error("failed to create task dependency",
				slog.String("error", err.Error()),
				slog.String("task_id", task.ID.String()),
				slog.String("depends_on", dep.String()))
			return MapError(err)
		}
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.Int("priority", task.Priority),
		slog.Int("depends_on", len(task.DependsOn)))
	return nil
}

// CreateChain persists a set of tasks sharing one group ID. Like CreateTask,
// atomicity requires the caller to run this inside a transaction via WithTx.
func (s *PostgresTaskStore) CreateChain(ctx context.Context, tasks []*domain.Task) error {
	for _, task := range tasks {
		if err := s.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("failed to create chain member %s: %w", task.ID, err)
		}
	}
	return nil
}

// GetTask retrieves a task by ID, including its depends_on set.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT depends_on_id FROM task_dependencies WHERE task_id = $1`, id)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var dep uuid.UUID
		if err := rows.Scan(&dep); err != nil {
			return nil, MapError(err)
		}
		task.DependsOn = append(task.DependsOn, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return task, nil
}

// ListTasks retrieves tasks, newest first, optionally filtered by status.
// List results omit the depends_on set; use GetTask for the full row.
func (s *PostgresTaskStore) ListTasks(
	ctx context.Context,
	status *domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	var query string
	var args []any

	if status != nil {
		query = fmt.Sprintf(
			`SELECT %s FROM tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			taskColumns,
		)
		args = []any{*status, limit}
	} else {
		query = fmt.Sprintf(
			`SELECT %s FROM tasks ORDER BY created_at DESC LIMIT $1`,
			taskColumns,
		)
		args = []any{limit}
	}

	return s.queryTasks(ctx, query, args...)
}

// GetClaimable returns up to limit claim-eligible tasks in priority/FIFO order.
func (s *PostgresTaskStore) GetClaimable(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE %s
		ORDER BY priority ASC, created_at ASC
		LIMIT $1
	`, taskColumns, claimEligible)

	return s.queryTasks(ctx, query, limit)
}

// Claim atomically transitions a pending, eligible task to claimed. The WHERE
// clause is the entire guard: under N concurrent claimants exactly one update
// affects a row, and the rest observe ErrNotClaimable.
func (s *PostgresTaskStore) Claim(ctx context.Context, id uuid.UUID, claimedBy string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`
		UPDATE tasks
		SET status = 'claimed', claimed_by = $2, claimed_at = now(), updated_at = now()
		WHERE id = $1 AND claimed_by IS NULL AND %s
	`, claimEligible)

	result, err := s.db.ExecContext(ctx, query, id, claimedBy)
	if err != nil {
		log.Error("failed to claim task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotClaimable
	}

	log.Debug("task claimed",
		slog.String("task_id", id.String()),
		slog.String("claimed_by", claimedBy))
	return nil
}

// Start transitions a claimed task to running on behalf of the claim holder.
func (s *PostgresTaskStore) Start(ctx context.Context, id uuid.UUID, claimedBy string) error {
	query := `
		UPDATE tasks
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'
	`

	return s.guardedTransition(ctx, query, id, claimedBy)
}

// Complete transitions a claimed or running task to completed and clears the claim.
func (s *PostgresTaskStore) Complete(ctx context.Context, id uuid.UUID, claimedBy, result string) error {
	query := `
		UPDATE tasks
		SET status = 'completed', result = $3, completed_at = now(),
			claimed_by = NULL, updated_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'running')
	`

	return s.guardedTransition(ctx, query, id, claimedBy, result)
}

// Fail records an execution failure. A single conditional update decides
// between another retry (back to pending with exponential backoff, grounded
// on 2^retry_count * backoff) and terminal failed, and reports which one won.
func (s *PostgresTaskStore) Fail(
	ctx context.Context,
	id uuid.UUID,
	claimedBy, errMsg string,
	backoff time.Duration,
) (domain.TaskStatus, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status        = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
			retry_count   = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			error_message = $3,
			claimed_by    = NULL,
			claimed_at    = NULL,
			started_at    = NULL,
			completed_at  = CASE WHEN retry_count < max_retries THEN NULL ELSE now() END,
			available_at  = CASE WHEN retry_count < max_retries
				THEN now() + ($4::double precision * power(2, retry_count)) * interval '1 second'
				ELSE available_at END,
			updated_at    = now()
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'running')
		RETURNING status
	`

	var status domain.TaskStatus
	err := s.db.QueryRowContext(ctx, query, id, claimedBy, errMsg, backoff.Seconds()).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", store.ErrNotClaimOwner
		}
		log.Error("failed to record task failure",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return "", MapError(err)
	}

	log.Info("task failure recorded",
		slog.String("task_id", id.String()),
		slog.String("resulting_status", string(status)),
		slog.String("task_error", errMsg))
	return status, nil
}

// FailPending force-fails a pending task. Used only for dependency cascade.
func (s *PostgresTaskStore) FailPending(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := s.db.ExecContext(ctx, query, id, errMsg)
	if err != nil {
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: task %s is not pending", store.ErrUpdateFailed, id)
	}
	return nil
}

// ReclaimOrphans returns stalled claims to pending. A claim is an orphan when
// it is older than the claim timeout and the worker has written no progress
// update since the cutoff.
func (s *PostgresTaskStore) ReclaimOrphans(
	ctx context.Context,
	claimTimeout time.Duration,
) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	cutoff := time.Now().UTC().Add(-claimTimeout)

	query := `
		UPDATE tasks
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL,
			started_at = NULL, updated_at = now()
		WHERE status IN ('claimed', 'running')
			AND COALESCE(started_at, claimed_at) < $1
			AND NOT EXISTS (
				SELECT 1 FROM progress_updates p
				WHERE p.task_id = tasks.id AND p.created_at >= $1
			)
		RETURNING id
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		log.Error("failed to reclaim orphaned tasks",
			slog.String("error", err.Error()))
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
		log.Warn("reclaimed orphaned task claims",
			slog.Int("count", len(reclaimed)))
	}
	return reclaimed, nil
}

// ListDependents returns the IDs of tasks directly blocked by any of the given tasks.
func (s *PostgresTaskStore) ListDependents(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT task_id FROM task_dependencies
		WHERE depends_on_id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var dependents []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		dependents = append(dependents, id)
	}
	return dependents, rows.Err()
}

// ChainStatus aggregates task counts for a group ID without walking the graph.
func (s *PostgresTaskStore) ChainStatus(ctx context.Context, groupID uuid.UUID) (*domain.ChainStatus, error) {
	query := `SELECT status, COUNT(*) FROM tasks WHERE group_id = $1 GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	cs := &domain.ChainStatus{GroupID: groupID}
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, MapError(err)
		}

		cs.Total += count
		switch status {
		case domain.TaskStatusCompleted:
			cs.Completed += count
		case domain.TaskStatusFailed:
			cs.Failed += count
		default:
			// claimed and running count as pending for chain purposes
			cs.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	if cs.Total == 0 {
		return nil, store.ErrChainNotFound
	}
	return cs, nil
}

// AppendProgress appends a progress update to a task.
func (s *PostgresTaskStore) AppendProgress(ctx context.Context, update *domain.ProgressUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO progress_updates (task_id, note, created_at) VALUES ($1, $2, $3)`

	_, err := s.db.ExecContext(ctx, query, update.TaskID, update.Note, update.CreatedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrTaskNotFound, update.TaskID)
		}
		return MapError(err)
	}
	return nil
}

// ListProgress returns a task's progress updates in append order.
func (s *PostgresTaskStore) ListProgress(ctx context.Context, taskID uuid.UUID) ([]*domain.ProgressUpdate, error) {
	query := `
		SELECT id, task_id, note, created_at FROM progress_updates
		WHERE task_id = $1 ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var updates []*domain.ProgressUpdate
	for rows.Next() {
		update := &domain.ProgressUpdate{}
		if err := rows.Scan(&update.ID, &update.TaskID, &update.Note, &update.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		updates = append(updates, update)
	}
	return updates, rows.Err()
}

// ListUnnotified returns terminal tasks awaiting notification delivery.
func (s *PostgresTaskStore) ListUnnotified(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status IN ('completed', 'failed')
			AND notification_sent = FALSE
			AND notify_channel IS NOT NULL
		ORDER BY completed_at ASC
		LIMIT $1
	`, taskColumns)

	return s.queryTasks(ctx, query, limit)
}

// MarkNotified sets the notification_sent flag after a successful delivery.
func (s *PostgresTaskStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tasks SET notification_sent = TRUE, updated_at = now() WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// CountByStatus returns the number of tasks in each status.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, MapError(err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ListRecentTerminal returns recently finished tasks, most recent first.
func (s *PostgresTaskStore) ListRecentTerminal(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status IN ('completed', 'failed')
		ORDER BY completed_at DESC
		LIMIT $1
	`, taskColumns)

	return s.queryTasks(ctx, query, limit)
}

// ArchiveTerminal moves terminal tasks older than the retention window to
// tasks_archive. Tasks still referenced by a message row or by a non-terminal
// dependent stay in the hot table so back-references and eligibility joins
// keep working.
func (s *PostgresTaskStore) ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	cutoff := time.Now().UTC().Add(-olderThan)

	query := fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM tasks
			WHERE status IN ('completed', 'failed')
				AND completed_at < $1
				AND NOT EXISTS (
					SELECT 1 FROM task_dependencies d
					JOIN tasks dep ON dep.id = d.task_id
					WHERE d.depends_on_id = tasks.id
						AND dep.status NOT IN ('completed', 'failed')
				)
				AND NOT EXISTS (
					SELECT 1 FROM messages m WHERE m.task_id = tasks.id
				)
			RETURNING %s
		)
		INSERT INTO tasks_archive (%s) SELECT %s FROM moved
	`, taskColumns, taskColumns, taskColumns)

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		log.Error("failed to archive terminal tasks",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if moved > 0 {
		log.Info("archived terminal tasks", slog.Int64("count", moved))
	}
	return moved, nil
}

// guardedTransition executes a claim-guarded conditional update and converts
// "no rows affected" into ErrNotClaimOwner.
func (s *PostgresTaskStore) guardedTransition(
	ctx context.Context,
	query string,
	id uuid.UUID,
	claimedBy string,
	extra ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	args := append([]any{id, claimedBy}, extra...)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("guarded task transition failed",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotClaimOwner
	}
	return nil
}

// queryTasks runs a select over taskColumns and scans the result set.
func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task          domain.Task
		context       []byte
		claimedBy     sql.NullString
		claimedAt     sql.NullTime
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		result        sql.NullString
		errorMessage  sql.NullString
		notifyChannel sql.NullString
		groupID       uuid.NullUUID
	)

	err := row.Scan(
		&task.ID,
		&task.Description,
		&context,
		&task.Status,
		&task.Priority,
		&claimedBy,
		&claimedAt,
		&startedAt,
		&completedAt,
		&task.AvailableAt,
		&task.RetryCount,
		&task.MaxRetries,
		&result,
		&errorMessage,
		&notifyChannel,
		&task.NotificationSent,
		&groupID,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Context = context
	task.ClaimedBy = claimedBy.String
	task.Result = result.String
	task.ErrorMessage = errorMessage.String
	task.NotifyChannel = notifyChannel.String
	if claimedAt.Valid {
		task.ClaimedAt = &claimedAt.Time
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if groupID.Valid {
		id := groupID.UUID
		task.GroupID = &id
	}

	return &task, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullBytes converts an empty byte slice to a SQL NULL.
func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// nullUUID converts a nil pointer to a SQL NULL.
func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
