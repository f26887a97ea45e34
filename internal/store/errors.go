package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is the generic version of the entity-specific not found errors
	// (e.g., ErrTaskNotFound, ErrMessageNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a message with the same external ID).
	ErrDuplicate = errors.New("entity already exists")

	// ErrNotClaimable is returned when a conditional claim update affects no
	// rows: the task is not pending, has unmet dependencies, is in retry
	// backoff, or another claimant won the race. Claim races are expected and
	// callers skip them silently.
	ErrNotClaimable = errors.New("task not claimable")

	// ErrNotClaimOwner is returned when a status transition requires the
	// caller to hold the claim but claimed_by does not match. This usually
	// means the claim was reclaimed as an orphan out from under the caller.
	ErrNotClaimOwner = errors.New("caller does not hold the task claim")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails, for example
	// because the entity does not exist or the update violates constraints.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrMessageNotFound indicates that the requested message does not exist in the store.
	ErrMessageNotFound = fmt.Errorf("%w: message", ErrNotFound)

	// ErrChainNotFound indicates that no tasks exist for the requested group ID.
	ErrChainNotFound = fmt.Errorf("%w: chain", ErrNotFound)

	// ErrUnknownDependency indicates a task references a depends_on ID that
	// does not exist, which would leave the task permanently ineligible.
	ErrUnknownDependency = fmt.Errorf("%w: dependency target", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClaimLost checks whether an error means the caller lost or never held a
// claim, which the claim protocol treats as a silent skip rather than a fault.
func IsClaimLost(err error) bool {
	return errors.Is(err, ErrNotClaimable) || errors.Is(err, ErrNotClaimOwner)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task", "message")
	Operation string // The operation that failed (e.g., "claim", "enqueue")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
