package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"digestbot/internal/feed"
	logx "digestbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the pipeline.
//
// SaveItems returns the input items with IDs populated for the subset that
// was actually persisted; partial persistence on row-level errors is
// accepted, but a non-empty batch where no row persisted returns an error.
// MarkDelivered is a best-effort idempotent batch: repeating it with the
// same items only overwrites ledger timestamps.
type Store interface {
	SaveItems(ctx context.Context, items []feed.Item) ([]feed.Item, error)
	Unprocessed(ctx context.Context, window time.Duration, limit int) ([]feed.Item, error)
	UpdateSummary(ctx context.Context, id int64, summary string) (bool, error)

	DeliveredKeys(ctx context.Context) (map[string]struct{}, error)
	MarkDelivered(ctx context.Context, items []feed.Item) error

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
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
