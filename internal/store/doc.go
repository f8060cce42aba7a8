// Package store persists session records in SQLite so conversations survive
// process restarts. Records are soft-deleted (CleanedAt set) where history is
// desired and hard-removed only by retention cleanup or explicit unpersist.
package store
