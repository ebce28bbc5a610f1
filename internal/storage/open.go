package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

// Store is the persistence API used by the persister and the app.
type Store interface {
	// Get returns ErrNotFound for a key that was never set.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value of key atomically.
	Set(ctx context.Context, key string, value []byte) error
	AppendAudit(ctx context.Context, e AuditEntry) error
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
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// AuditReader is implemented by stores that can list their audit log.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}
