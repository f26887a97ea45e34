package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewQueuedMessage(t *testing.T) {
	t.Parallel()

	msg, err := NewQueuedMessage("tg-10231", "telegram", "user-7", "remind me about rent on friday")

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if msg.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if msg.ExternalID != "tg-10231" {
		t.Errorf("Expected external ID tg-10231, got %s", msg.ExternalID)
	}

	if msg.Status != MessageStatusPending {
		t.Errorf("Expected status %s, got %s", MessageStatusPending, msg.Status)
	}

	if msg.Priority != DefaultPriority {
		t.Errorf("Expected priority %d, got %d", DefaultPriority, msg.Priority)
	}

	if msg.SpawnedParallel {
		t.Error("Expected spawned_parallel to default to false")
	}

	// Required fields are rejected when empty
	if _, err := NewQueuedMessage("", "telegram", "user-7", "hi"); err != ErrEmptyExternalID {
		t.Errorf("Expected error %v, got %v", ErrEmptyExternalID, err)
	}

	if _, err := NewQueuedMessage("tg-1", "", "user-7", "hi"); err != ErrEmptyMessageChannel {
		t.Errorf("Expected error %v, got %v", ErrEmptyMessageChannel, err)
	}

	if _, err := NewQueuedMessage("tg-1", "telegram", "user-7", ""); err != ErrEmptyMessageContent {
		t.Errorf("Expected error %v, got %v", ErrEmptyMessageContent, err)
	}
}

func TestQueuedMessageValidate(t *testing.T) {
	t.Parallel()

	valid := QueuedMessage{
		ID:         uuid.New(),
		ExternalID: "mail-42",
		Channel:    "email",
		Content:    "forwarded invoice",
		Status:     MessageStatusPending,
		Priority:   DefaultPriority,
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	invalidStatus := valid
	invalidStatus.Status = "queued"
	if err := invalidStatus.Validate(); err != ErrInvalidMessageStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidMessageStatus, err)
	}

	invalidPriority := valid
	invalidPriority.Priority = 12
	if err := invalidPriority.Validate(); err != ErrInvalidMessagePriority {
		t.Errorf("Expected error %v, got %v", ErrInvalidMessagePriority, err)
	}
}

func TestQueuedMessageIsTerminal(t *testing.T) {
	t.Parallel()

	msg := QueuedMessage{Status: MessageStatusProcessing}
	if msg.IsTerminal() {
		t.Error("Expected processing message not to be terminal")
	}

	msg.Status = MessageStatusCompleted
	if !msg.IsTerminal() {
		t.Error("Expected completed message to be terminal")
	}

	msg.Status = MessageStatusFailed
	if !msg.IsTerminal() {
		t.Error("Expected failed message to be terminal")
	}
}

func TestNewProgressUpdate(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()
	update, err := NewProgressUpdate(taskID, "downloaded 3 of 7 attachments")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if update.TaskID != taskID {
		t.Errorf("Expected task ID %s, got %s", taskID, update.TaskID)
	}

	if update.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	if _, err := NewProgressUpdate(uuid.Nil, "note"); err != ErrEmptyProgressTaskID {
		t.Errorf("Expected error %v, got %v", ErrEmptyProgressTaskID, err)
	}

	if _, err := NewProgressUpdate(taskID, ""); err != ErrEmptyProgressNote {
		t.Errorf("Expected error %v, got %v", ErrEmptyProgressNote, err)
	}
}
