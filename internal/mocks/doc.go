// Package mocks provides centralized mock implementations for testing.
//
// Instead of defining inline mocks in individual test files, these shared
// implementations are reused across packages. The store mocks are real
// in-memory queues with the same state-machine guards as the PostgreSQL
// implementations, so tests built on them exercise genuine claim semantics.
// Function fields on each mock override individual operations when a test
// needs custom behavior or injected errors.
package mocks
