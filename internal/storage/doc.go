// Package storage is the run journal: one record per finished execution.
//
// Pending work is never persisted. Drivers:
//   - file: JSON Lines, compacted to the newest MaxRuns records
//   - sqlite: modernc.org/sqlite with WAL and embedded migrations
package storage
