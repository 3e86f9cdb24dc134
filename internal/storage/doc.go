// Package storage persists cases, monitoring settings, subscribers,
// subscriptions and notifications.
//
// Two drivers are supported:
//   - "sqlite": a local SQLite file (modernc.org/sqlite, no cgo)
//   - "postgres": a PostgreSQL DSN through pgx's database/sql driver
//
// The schema is managed with goose migrations embedded in the binary.
// Timestamps are stored as unix milliseconds.
package storage
