package storage

import (
	"context"
	"errors"
	"strings"

	logx "qseq/pkg/logx"
)

// Store persists event log records and run summaries.
type Store interface {
	AppendEvent(ctx context.Context, e Event) error
	RecordRun(ctx context.Context, r Run) error
	// Events returns the records of one run in append order.
	Events(ctx context.Context, runID string) ([]Event, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(context.Background(), cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
