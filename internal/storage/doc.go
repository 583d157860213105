// Package storage persists sync results beyond the in-memory history window.
//
// Drivers:
//   - "file": JSON Lines, compacted to the newest Retain records
//   - "sqlite": table sync_results (modernc.org/sqlite, no cgo)
package storage
