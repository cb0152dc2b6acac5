// Package database provides connection management, transaction scopes,
// statement execution, error classification, query hooks and metrics,
// schema bootstrap and SQL seeding, all built on top of Bun.
package database
