package storage

import (
	"context"
	"fmt"
	"strings"

	"ingestd/internal/ingest/job"
	"ingestd/pkg/logx"
)

// Store persists sync results.
type Store interface {
	AppendResult(ctx context.Context, r job.SyncResult) error
	// RecentResults returns up to limit of the newest results, oldest first.
	RecentResults(ctx context.Context, limit int) ([]job.SyncResult, error)
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
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file", "jsonl":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
