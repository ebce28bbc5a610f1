package app

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/engine"
	"github.com/himanshu-sugha/StreamKAS/internal/storage"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

// Control is the operator surface over the engine. Every mutating call is
// journaled in the store's audit log under actor.
type Control struct {
	eng   *engine.Service
	store storage.Store
	log   logx.Logger
	actor string
	now   func() time.Time
}

func newControl(eng *engine.Service, store storage.Store, log logx.Logger, actor string) *Control {
	return &Control{eng: eng, store: store, log: log, actor: actor, now: time.Now}
}

func (c *Control) Create(ctx context.Context, cfg stream.CreateConfig) (stream.Stream, error) {
	st, err := c.eng.Create(ctx, cfg)
	meta, _ := json.Marshal(map[string]any{
		"recipient":       cfg.Recipient,
		"totalAmountKas":  cfg.TotalAmountKas.String(),
		"durationMinutes": cfg.DurationMinutes.String(),
		"intervalSeconds": cfg.IntervalSeconds,
	})
	c.audit(ctx, storage.AuditEntry{
		Action:   "create",
		StreamID: st.ID,
		Amount:   st.TotalAmount,
		MetaJSON: string(meta),
	}, err)
	return st, err
}

func (c *Control) Start(ctx context.Context, id string) error {
	err := c.eng.Start(ctx, id)
	c.audit(ctx, storage.AuditEntry{Action: "start", StreamID: id}, err)
	return err
}

func (c *Control) Resume(ctx context.Context, id string) error {
	err := c.eng.Resume(ctx, id)
	c.audit(ctx, storage.AuditEntry{Action: "resume", StreamID: id}, err)
	return err
}

func (c *Control) Pause(ctx context.Context, id string) error {
	err := c.eng.Pause(ctx, id)
	c.audit(ctx, storage.AuditEntry{Action: "pause", StreamID: id}, err)
	return err
}

func (c *Control) Cancel(ctx context.Context, id string) error {
	err := c.eng.Cancel(ctx, id)
	c.audit(ctx, storage.AuditEntry{Action: "cancel", StreamID: id}, err)
	return err
}

func (c *Control) Get(id string) (stream.Stream, error) { return c.eng.Get(id) }
func (c *Control) List() []stream.Stream               { return c.eng.List() }
func (c *Control) Stats() stream.Stats                 { return c.eng.Stats() }

func (c *Control) audit(ctx context.Context, e storage.AuditEntry, err error) {
	if c.store == nil {
		return
	}
	e.At = c.now()
	e.Actor = c.actor
	e.OK = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	// The command already happened; a cancelled caller must not lose its record.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := c.store.AppendAudit(actx, e); aerr != nil {
		c.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(aerr))
	}
}

// outcomeEntry turns a terminal or error update into an audit entry.
func outcomeEntry(u stream.Update) (storage.AuditEntry, bool) {
	if !slices.Contains(u.Fields, stream.FieldStatus) {
		return storage.AuditEntry{}, false
	}
	switch u.Stream.Status {
	case stream.StatusCompleted, stream.StatusError:
	default:
		// Cancellation is journaled by the command that caused it.
		return storage.AuditEntry{}, false
	}
	meta, _ := json.Marshal(map[string]any{
		"txs":                  len(u.Stream.TxHistory),
		"elapsedActiveSeconds": u.Stream.ElapsedActiveSeconds,
	})
	return storage.AuditEntry{
		At:       u.At,
		Actor:    "engine",
		Action:   "outcome." + string(u.Stream.Status),
		StreamID: u.StreamID,
		Amount:   u.Stream.AmountSent,
		OK:       u.Stream.Status == stream.StatusCompleted,
		Error:    u.Stream.ErrorMessage,
		MetaJSON: string(meta),
	}, true
}
