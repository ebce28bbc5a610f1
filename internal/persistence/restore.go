package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/storage"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

// Restore loads the registry saved under key. A missing key yields an empty
// registry. Unreadable data is copied to "<key>.corrupt", logged, and also
// yields an empty registry; only store failures are returned as errors.
//
// No timer survives a restart, so records saved as active come back paused.
// Their active span is closed at the save time, never at the restore time.
func Restore(ctx context.Context, store storage.Store, key string, log logx.Logger) ([]stream.Stream, error) {
	if store == nil {
		return nil, nil
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "persistence"))

	raw, err := store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return []stream.Stream{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	streams, savedAt, err := decode(raw)
	if err != nil {
		log.Error("saved streams unreadable, starting empty",
			logx.String("key", key),
			logx.Err(err),
		)
		if berr := store.Set(ctx, key+".corrupt", raw); berr != nil {
			log.Warn("backup of unreadable streams failed", logx.Err(berr))
		}
		return []stream.Stream{}, nil
	}

	out := make([]stream.Stream, 0, len(streams))
	seen := make(map[string]struct{}, len(streams))
	demoted := 0
	for _, s := range streams {
		if s.ID == "" || !s.Status.Valid() || !s.ScheduleValid() {
			log.Warn("dropping malformed stream record",
				logx.String("stream", s.ID),
				logx.String("status", string(s.Status)),
				logx.Int64("interval_s", s.IntervalSeconds),
			)
			continue
		}
		if _, dup := seen[s.ID]; dup {
			log.Warn("dropping duplicate stream record", logx.String("stream", s.ID))
			continue
		}
		seen[s.ID] = struct{}{}

		at := savedAt
		if at.IsZero() {
			at = lastActivity(s)
		}
		if at.IsZero() {
			at = time.Now()
		}
		if stream.Demote(&s, at) {
			demoted++
		}
		if s.TxHistory == nil {
			s.TxHistory = []stream.Transaction{}
		}
		out = append(out, s)
	}
	log.Info("streams restored",
		logx.Int("count", len(out)),
		logx.Int("paused", demoted),
		logx.Time("saved_at", savedAt),
	)
	return out, nil
}

// decode accepts the versioned envelope and the legacy bare array.
func decode(raw []byte) ([]stream.Stream, time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, time.Time{}, errors.New("empty document")
	}
	if raw[0] == '[' {
		var streams []stream.Stream
		if err := json.Unmarshal(raw, &streams); err != nil {
			return nil, time.Time{}, err
		}
		return streams, time.Time{}, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, err
	}
	if env.Version != envelopeVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported version %d", env.Version)
	}
	return env.Streams, env.SavedAt, nil
}

// lastActivity is the latest moment a legacy record proves it was running.
func lastActivity(s stream.Stream) time.Time {
	var at time.Time
	if s.ActiveSince != nil {
		at = *s.ActiveSince
	}
	if n := len(s.TxHistory); n > 0 && s.TxHistory[n-1].Timestamp.After(at) {
		at = s.TxHistory[n-1].Timestamp
	}
	return at
}
