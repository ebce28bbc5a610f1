package storage

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("key not found")
	ErrBadKey   = errors.New("invalid storage key")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": plain files next to Path (one JSON file per key, audit jsonl)
//   - "sqlite": SQLite database file
//   - "memory": process-local, lost on exit
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator command or a stream outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Action   string    `json:"action"`
	StreamID string    `json:"streamId,omitempty"`
	Amount   int64     `json:"amount,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

func validKey(key string) bool { return keyRe.MatchString(key) && key != "." && key != ".." }
