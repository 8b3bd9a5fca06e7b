package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

// Store is the minimal persistence API used by the monitor and app.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	PutRunState(ctx context.Context, st RunState) error
	GetRunState(ctx context.Context) (RunState, bool, error)
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
