// Package persistence snapshots the stream registry into a storage.Store and
// restores it on startup.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	"github.com/himanshu-sugha/StreamKAS/internal/storage"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

const (
	DefaultKey      = "streams"
	DefaultDebounce = 500 * time.Millisecond

	envelopeVersion = 1
)

// Envelope is the stored form of the registry.
type Envelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	Streams []stream.Stream `json:"streams"`
}

// Source is the registry being persisted.
type Source interface {
	List() []stream.Stream
	Bus() eventbus.Bus
}

type Config struct {
	Key string
	// Debounce coalesces bursts of updates into one write. The first update
	// of a burst is written at most Debounce later.
	Debounce time.Duration
	// Checkpoint is a cron spec for periodic saves ("@every 1m"). Empty
	// disables it.
	Checkpoint string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Key) == "" {
		c.Key = DefaultKey
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	c.Checkpoint = strings.TrimSpace(c.Checkpoint)
	return c
}

type Stats struct {
	Saves    uint64
	Skipped  uint64
	Failures uint64
	LastSave time.Time
}

// Persister writes the registry after changes and on a cron checkpoint.
type Persister struct {
	cfg   Config
	store storage.Store
	src   Source
	log   logx.Logger
	now   func() time.Time

	events <-chan eventbus.Event
	unsub  func()
	cron   *cron.Cron

	saveMu   sync.Mutex
	lastBody []byte
	lastSave time.Time

	saves    atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	closeOnce sync.Once
}

// New subscribes to src's bus right away so no update between construction
// and Run is missed.
func New(cfg Config, store storage.Store, src Source, log logx.Logger) (*Persister, error) {
	if store == nil {
		return nil, storage.ErrDisabled
	}
	if src == nil {
		return nil, errors.New("persistence: nil source")
	}
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Persister{
		cfg:   cfg,
		store: store,
		src:   src,
		log:   log.With(logx.String("comp", "persistence")),
		now:   time.Now,
	}
	if cfg.Checkpoint != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Checkpoint, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = p.save(ctx, "checkpoint", false)
		}); err != nil {
			return nil, fmt.Errorf("persistence.checkpoint %q: %w", cfg.Checkpoint, err)
		}
		p.cron = c
	}
	p.events, p.unsub = src.Bus().Subscribe(1024)
	return p, nil
}

// Run consumes bus events until ctx is done. It is safe to restart.
func (p *Persister) Run(ctx context.Context) error {
	if p.cron != nil {
		p.cron.Start()
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-p.events:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeStreamUpdated || fire != nil {
				continue
			}
			timer = time.NewTimer(p.cfg.Debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			timer = nil
			_ = p.save(ctx, "debounce", false)
		}
	}
}

// Flush writes the current registry unconditionally.
func (p *Persister) Flush(ctx context.Context) error {
	return p.save(ctx, "flush", true)
}

// Close stops the checkpoint and unsubscribes. Call Flush afterwards for a
// final write.
func (p *Persister) Close() {
	p.closeOnce.Do(func() {
		if p.cron != nil {
			<-p.cron.Stop().Done()
		}
		if p.unsub != nil {
			p.unsub()
		}
	})
}

func (p *Persister) Stats() Stats {
	p.saveMu.Lock()
	last := p.lastSave
	p.saveMu.Unlock()
	return Stats{
		Saves:    p.saves.Load(),
		Skipped:  p.skipped.Load(),
		Failures: p.failures.Load(),
		LastSave: last,
	}
}

func (p *Persister) save(ctx context.Context, reason string, force bool) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	streams := p.src.List()
	body, err := json.Marshal(streams)
	if err != nil {
		p.failures.Add(1)
		p.log.Error("encode streams failed", logx.Err(err))
		return err
	}
	if !force && p.lastBody != nil && bytes.Equal(body, p.lastBody) {
		p.skipped.Add(1)
		return nil
	}

	now := p.now()
	raw, err := json.Marshal(struct {
		Version int             `json:"version"`
		SavedAt time.Time       `json:"savedAt"`
		Streams json.RawMessage `json:"streams"`
	}{Version: envelopeVersion, SavedAt: now, Streams: body})
	if err != nil {
		p.failures.Add(1)
		return err
	}

	if err := p.store.Set(ctx, p.cfg.Key, raw); err != nil {
		p.failures.Add(1)
		p.log.Warn("save streams failed",
			logx.String("reason", reason),
			logx.Err(err),
		)
		return err
	}
	p.lastBody = body
	p.lastSave = now
	p.saves.Add(1)
	p.log.Debug("streams saved",
		logx.String("reason", reason),
		logx.Int("count", len(streams)),
		logx.Int("bytes", len(raw)),
	)
	return nil
}
