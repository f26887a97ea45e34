package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageStatus represents the processing state of a queued message
type MessageStatus string

// Possible message status values
const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusCompleted  MessageStatus = "completed"
	MessageStatusFailed     MessageStatus = "failed"
)

// Common validation errors for QueuedMessage
var (
	ErrEmptyMessageID         = errors.New("message ID cannot be empty")
	ErrEmptyExternalID        = errors.New("message external ID cannot be empty")
	ErrEmptyMessageChannel    = errors.New("message channel cannot be empty")
	ErrEmptyMessageContent    = errors.New("message content cannot be empty")
	ErrInvalidMessageStatus   = errors.New("invalid message status")
	ErrInvalidMessagePriority = errors.New("message priority must be between 1 and 10")
)

// QueuedMessage represents one inbound unit of interactive work. The external
// ID is the dedup key: re-delivery of the same external message must map to
// the existing queue entry rather than creating a duplicate.
type QueuedMessage struct {
	ID              uuid.UUID       `json:"id"`
	ExternalID      string          `json:"external_id"`
	Channel         string          `json:"channel"`
	UserID          string          `json:"user_id"`
	Content         string          `json:"content"`
	Attachments     json.RawMessage `json:"attachments,omitempty"`
	Status          MessageStatus   `json:"status"`
	Priority        int             `json:"priority"`
	Response        string          `json:"response,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	SpawnedParallel bool            `json:"spawned_parallel"`
	TaskID          *uuid.UUID      `json:"task_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewQueuedMessage creates a new pending QueuedMessage.
// It generates a new UUID for the internal ID, applies the default priority,
// and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewQueuedMessage(externalID, channel, userID, content string) (*QueuedMessage, error) {
	now := time.Now().UTC()
	msg := &QueuedMessage{
		ID:         uuid.New(),
		ExternalID: externalID,
		Channel:    channel,
		UserID:     userID,
		Content:    content,
		Status:     MessageStatusPending,
		Priority:   DefaultPriority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the QueuedMessage has valid data.
// Returns an error if any field fails validation.
func (m *QueuedMessage) Validate() error {
	if m.ID == uuid.Nil {
		return ErrEmptyMessageID
	}

	if m.ExternalID == "" {
		return ErrEmptyExternalID
	}

	if m.Channel == "" {
		return ErrEmptyMessageChannel
	}

	if m.Content == "" {
		return ErrEmptyMessageContent
	}

	if !isValidMessageStatus(m.Status) {
		return ErrInvalidMessageStatus
	}

	if m.Priority < HighestPriority || m.Priority > LowestPriority {
		return ErrInvalidMessagePriority
	}

	return nil
}

// IsTerminal reports whether the message has reached a final state.
func (m *QueuedMessage) IsTerminal() bool {
	return m.Status == MessageStatusCompleted || m.Status == MessageStatusFailed
}

// isValidMessageStatus checks if the given status is a valid MessageStatus.
func isValidMessageStatus(status MessageStatus) bool {
	switch status {
	case MessageStatusPending, MessageStatusProcessing,
		MessageStatusCompleted, MessageStatusFailed:
		return true
	default:
		return false
	}
}
