package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for ProgressUpdate
var (
	ErrEmptyProgressTaskID = errors.New("progress update task ID cannot be empty")
	ErrEmptyProgressNote   = errors.New("progress update note cannot be empty")
)

// ProgressUpdate is a timestamped free-text note a running worker appends to
// a task. Updates are append-only and never mutate the task row itself, so
// status readers see them without blocking the worker. Recent updates also
// count as liveness evidence for orphan reclaim.
type ProgressUpdate struct {
	ID        int64     `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProgressUpdate creates a ProgressUpdate for the given task.
// Returns an error if validation fails.
func NewProgressUpdate(taskID uuid.UUID, note string) (*ProgressUpdate, error) {
	update := &ProgressUpdate{
		TaskID:    taskID,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}

	if err := update.Validate(); err != nil {
		return nil, err
	}

	return update, nil
}

// Validate checks if the ProgressUpdate has valid data.
func (p *ProgressUpdate) Validate() error {
	if p.TaskID == uuid.Nil {
		return ErrEmptyProgressTaskID
	}

	if p.Note == "" {
		return ErrEmptyProgressNote
	}

	return nil
}
