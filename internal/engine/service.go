package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	"github.com/himanshu-sugha/StreamKAS/internal/payment"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

// palette is assigned round-robin to new streams for display.
var palette = []string{"#49eacb", "#6c5ce7", "#fd79a8", "#00cec9", "#e17055", "#74b9ff", "#a29bfe", "#55efc4"}

// Service owns the stream registry and one timer per active stream.
//
// Every mutation of a stream is followed by an eventbus.TypeStreamUpdated
// event carrying a stream.Update. Events are published while the registry
// lock is held so observers see updates of one stream in order.
type Service struct {
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	clock  Clock
	sender payment.Sender
	policy stream.Policy

	mu       sync.Mutex
	streams  map[string]*entry
	stopped  bool
	colorSeq int

	// inflight counts running ticks so Stop can wait for them.
	inflight sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithValidator replaces the recipient address check.
func WithValidator(v stream.AddressValidator) Option {
	return func(s *Service) {
		if v != nil {
			s.policy.Validator = v
		}
	}
}

// WithIDFunc replaces the stream id generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.policy.NewID = fn
		}
	}
}

// New builds a scheduler. sender is wrapped with cfg.SendTimeout.
func New(cfg Config, sender payment.Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "engine")),
		bus:     bus,
		clock:   RealClock(),
		sender:  payment.WithTimeout(sender, cfg.SendTimeout),
		streams: make(map[string]*entry),
		policy: stream.Policy{
			DustFloor:       cfg.DustFloor,
			DefaultInterval: cfg.DefaultInterval,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates cfg and registers a pending stream.
func (s *Service) Create(_ context.Context, cfg stream.CreateConfig) (stream.Stream, error) {
	now := s.clock.Now()
	st, err := stream.New(cfg, s.cfg.Sender, s.policy, now)
	if err != nil {
		return stream.Stream{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return stream.Stream{}, ErrStopped
	}
	if _, ok := s.streams[st.ID]; ok {
		return stream.Stream{}, fmt.Errorf("%w: %s", ErrDuplicate, st.ID)
	}
	st.Color = s.nextColorLocked()
	e := &entry{s: st}
	s.streams[st.ID] = e
	s.publishLocked(e, []string{stream.FieldCreated}, now)

	s.log.Info("stream created",
		logx.String("stream", st.ID),
		logx.String("recipient", st.Recipient),
		logx.Int64("total", st.TotalAmount),
		logx.Int64("flow_rate", st.FlowRate),
		logx.Int64("ticks", st.TickCount),
		logx.Int64("interval_s", st.IntervalSeconds),
	)
	return st.Clone(), nil
}

// Start activates a pending, paused or errored stream. It is a no-op for a
// stream that is already active.
//
// A pending stream pays its first tick before Start returns (bounded by the
// send timeout). A paused or errored stream resumes on a fresh cadence: the
// next tick fires one interval from now.
func (s *Service) Start(ctx context.Context, id string) error {
	now := s.clock.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	e, ok := s.streams[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.s.Status == stream.StatusActive {
		s.mu.Unlock()
		return nil
	}
	ev, ok := stream.ActivationEvent(e.s.Status)
	if !ok {
		st := e.s.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start %s stream", stream.ErrInvalidTransition, st)
	}
	fields, err := stream.Apply(e.s, ev, now, "")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopTimerLocked(e)
	epoch := e.epoch
	s.armLocked(e, id, epoch)
	s.publishLocked(e, fields, now)
	s.mu.Unlock()

	if ev == stream.EventStart {
		s.log.Info("stream started", logx.String("stream", id))
		s.runTick(context.WithoutCancel(ctx), id, epoch)
	} else {
		s.log.Info("stream resumed", logx.String("stream", id))
	}
	return nil
}

// Resume is Start for a paused or errored stream. It does not pay right
// away: the first tick of the resumed span fires one interval later.
func (s *Service) Resume(ctx context.Context, id string) error {
	return s.Start(ctx, id)
}

// Pause stops the timer of an active stream. Any other status is left alone.
func (s *Service) Pause(_ context.Context, id string) error {
	return s.transition(id, stream.EventPause, "stream paused")
}

// Cancel ends a stream for good. Terminal streams are left alone.
func (s *Service) Cancel(_ context.Context, id string) error {
	return s.transition(id, stream.EventCancel, "stream cancelled")
}

func (s *Service) transition(id string, ev stream.Event, msg string) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.streams[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !stream.Can(e.s.Status, ev) {
		return nil
	}
	s.stopTimerLocked(e)
	fields, err := stream.Apply(e.s, ev, now, "")
	if err != nil {
		return err
	}
	s.publishLocked(e, fields, now)
	s.log.Info(msg,
		logx.String("stream", id),
		logx.Int64("sent", e.s.AmountSent),
		logx.Float64("elapsed_s", e.s.ElapsedActiveSeconds),
	)
	return nil
}

// Get returns a copy of one stream.
func (s *Service) Get(id string) (stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.streams[id]
	if !ok {
		return stream.Stream{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.s.Clone(), nil
}

// List returns copies of all streams, oldest first.
func (s *Service) List() []stream.Stream {
	s.mu.Lock()
	out := make([]stream.Stream, 0, len(s.streams))
	for _, e := range s.streams {
		out = append(out, e.s.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats aggregates the current registry.
func (s *Service) Stats() stream.Stats {
	return stream.Aggregate(s.List())
}

// Load registers previously persisted streams without starting them. Records
// that still claim to be active are demoted to paused. The batch is rejected
// as a whole if any id is already registered or repeated.
func (s *Service) Load(streams []stream.Stream) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	seen := make(map[string]struct{}, len(streams))
	for _, st := range streams {
		if st.ID == "" {
			return fmt.Errorf("%w: stream without id", stream.ErrInvalidConfiguration)
		}
		if !st.Status.Valid() {
			return fmt.Errorf("%w: stream %s has unknown status %q", stream.ErrInvalidConfiguration, st.ID, st.Status)
		}
		if !st.ScheduleValid() {
			return fmt.Errorf("%w: stream %s has interval %ds", stream.ErrInvalidConfiguration, st.ID, st.IntervalSeconds)
		}
		if _, ok := s.streams[st.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, st.ID)
		}
		if _, ok := seen[st.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, st.ID)
		}
		seen[st.ID] = struct{}{}
	}

	for _, st := range streams {
		cp := st.Clone()
		if stream.Demote(&cp, now) {
			s.log.Warn("loaded active stream without timer, paused",
				logx.String("stream", cp.ID),
			)
		}
		if cp.TxHistory == nil {
			cp.TxHistory = []stream.Transaction{}
		}
		if cp.Color == "" {
			cp.Color = s.nextColorLocked()
		}
		s.streams[cp.ID] = &entry{s: &cp}
	}
	if len(streams) > 0 {
		s.log.Info("streams loaded", logx.Int("count", len(streams)))
	}
	return nil
}

// OnUpdate calls fn for every update of stream id, or of every stream when id
// is empty. fn runs on its own goroutine and may miss updates if it falls
// behind. The returned func unsubscribes.
func (s *Service) OnUpdate(id string, fn func(stream.Update)) func() {
	ch, unsub := s.bus.Subscribe(256)
	go func() {
		for ev := range ch {
			if ev.Type != eventbus.TypeStreamUpdated {
				continue
			}
			if id != "" && ev.StreamID != id {
				continue
			}
			if u, ok := ev.Data.(stream.Update); ok {
				fn(u)
			}
		}
	}()
	return unsub
}

// Bus exposes the event bus the service publishes on.
func (s *Service) Bus() eventbus.Bus { return s.bus }

// Snapshot reports scheduler internals.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Streams:      len(s.streams),
		TicksSent:    s.sent.Load(),
		TicksFailed:  s.failed.Load(),
		SkippedTicks: s.skipped.Load(),
		Stopped:      s.stopped,
	}
	for _, e := range s.streams {
		if e.s.Status == stream.StatusActive {
			snap.Active++
		}
		if e.timer != nil {
			snap.Timers++
		}
		if e.state.running() {
			snap.InFlight++
		}
	}
	return snap
}

// Stop disarms every timer and waits for in-flight ticks until ctx is done.
// Stream statuses are left untouched so a later restart can recover them.
// Stop is idempotent.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		for _, e := range s.streams {
			s.stopTimerLocked(e)
		}
		s.log.Info("engine stopping")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("engine stop timed out with ticks in flight")
		return ctx.Err()
	}
}

func (s *Service) nextColorLocked() string {
	c := palette[s.colorSeq%len(palette)]
	s.colorSeq++
	return c
}

func (s *Service) publishLocked(e *entry, fields []string, at time.Time) {
	u := stream.Update{
		StreamID: e.s.ID,
		Fields:   fields,
		Stream:   e.s.Clone(),
		At:       at,
	}
	s.bus.Publish(eventbus.Event{
		Type:     eventbus.TypeStreamUpdated,
		Time:     at,
		StreamID: e.s.ID,
		Data:     u,
	})
}
