package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Event is one persisted event log record.
type Event struct {
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
	Offset float64   `json:"offset"` // seconds since run start
	Source string    `json:"source"`
	Header bool      `json:"header,omitempty"`
	Fields []string  `json:"fields"`
}

// Run summarizes one finished sequence run.
type Run struct {
	RunID    string    `json:"run_id"`
	Sequence string    `json:"sequence"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Steps    int       `json:"steps"`
	Failed   int       `json:"failed"`
	Slow     int       `json:"slow"`
	Error    string    `json:"error,omitempty"`
}
