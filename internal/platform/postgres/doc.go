// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package. It handles query
// execution, error mapping, and data mapping between domain entities and
// database records.
//
// State-machine transitions are expressed as conditional updates: the WHERE
// clause carries the guard, so the database, not application code, arbitrates
// races between concurrent claimants.
package postgres
