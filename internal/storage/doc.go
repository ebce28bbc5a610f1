// Package storage is the key/value and audit persistence used by the daemon.
//
// It supports:
//   - Opaque values under short keys (the stream registry snapshot)
//   - Audit log appends (operator commands and stream outcomes)
package storage
