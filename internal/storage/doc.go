// Package storage persists event log records and run summaries.
//
// Two drivers are available:
//   - file: append-only JSON Lines (<prefix>.events.jsonl, <prefix>.runs.jsonl)
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
