package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	description := "summarize the weekly inbox digest"
	context := json.RawMessage(`{"mailbox":"primary"}`)

	task, err := NewTask(description, context)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if task.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if task.Description != description {
		t.Errorf("Expected description %q, got %q", description, task.Description)
	}

	if task.Status != TaskStatusPending {
		t.Errorf("Expected status %s, got %s", TaskStatusPending, task.Status)
	}

	if task.Priority != DefaultPriority {
		t.Errorf("Expected priority %d, got %d", DefaultPriority, task.Priority)
	}

	if task.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected max retries %d, got %d", DefaultMaxRetries, task.MaxRetries)
	}

	if task.CreatedAt.IsZero() || task.AvailableAt.IsZero() {
		t.Error("Expected non-zero CreatedAt and AvailableAt times")
	}

	// Empty descriptions are rejected
	_, err = NewTask("", nil)
	if err != ErrEmptyTaskDescription {
		t.Errorf("Expected error %v, got %v", ErrEmptyTaskDescription, err)
	}
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := Task{
		ID:          uuid.New(),
		Description: "check overnight backups",
		Status:      TaskStatusPending,
		Priority:    DefaultPriority,
		MaxRetries:  DefaultMaxRetries,
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	invalidStatus := valid
	invalidStatus.Status = "sleeping"
	if err := invalidStatus.Validate(); err != ErrInvalidTaskStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskStatus, err)
	}

	invalidPriority := valid
	invalidPriority.Priority = 0
	if err := invalidPriority.Validate(); err != ErrInvalidTaskPriority {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskPriority, err)
	}

	invalidPriority.Priority = 11
	if err := invalidPriority.Validate(); err != ErrInvalidTaskPriority {
		t.Errorf("Expected error %v, got %v", ErrInvalidTaskPriority, err)
	}

	negativeRetries := valid
	negativeRetries.MaxRetries = -1
	if err := negativeRetries.Validate(); err != ErrNegativeMaxRetries {
		t.Errorf("Expected error %v, got %v", ErrNegativeMaxRetries, err)
	}

	selfDep := valid
	selfDep.DependsOn = []uuid.UUID{selfDep.ID}
	if err := selfDep.Validate(); err != ErrSelfDependency {
		t.Errorf("Expected error %v, got %v", ErrSelfDependency, err)
	}
}

func TestTaskIsTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusClaimed, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tc := range cases {
		task := Task{Status: tc.status}
		if task.IsTerminal() != tc.terminal {
			t.Errorf("IsTerminal() for status %s: expected %v", tc.status, tc.terminal)
		}
	}
}

func TestTaskRetriesExhausted(t *testing.T) {
	t.Parallel()

	task := Task{RetryCount: 1, MaxRetries: 2}
	if task.RetriesExhausted() {
		t.Error("Expected retries not exhausted at 1 of 2")
	}

	task.RetryCount = 2
	if !task.RetriesExhausted() {
		t.Error("Expected retries exhausted at 2 of 2")
	}
}

func TestChainStatusDone(t *testing.T) {
	t.Parallel()

	cs := ChainStatus{Total: 3, Completed: 2, Failed: 0, Pending: 1}
	if cs.Done() {
		t.Error("Expected chain not done with a pending task")
	}

	cs = ChainStatus{Total: 3, Completed: 2, Failed: 1}
	if !cs.Done() {
		t.Error("Expected chain done when all tasks are terminal")
	}

	cs = ChainStatus{}
	if cs.Done() {
		t.Error("Expected empty chain to report not done")
	}
}
