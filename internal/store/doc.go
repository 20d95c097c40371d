// Package store defines the persistence contracts for tasks and email logs
// and the errors shared by every implementation. Postgres and in-memory
// implementations live in internal/platform/postgres and store/memory.
package store
