package storage

import (
	"context"
	"fmt"
	"strings"

	logx "stripesd/pkg/logx"
)

// Store is the run journal API.
type Store interface {
	AppendRun(ctx context.Context, r Run) error
	// RecentRuns returns matching runs, newest first.
	RecentRuns(ctx context.Context, f RunFilter) ([]Run, error)
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
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
