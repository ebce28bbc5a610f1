package notifier

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	rtsup "github.com/himanshu-sugha/StreamKAS/internal/runtime/supervisor"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

const historySize = 50

type alert struct {
	streamID string
	text     string
}

// Service turns bus updates into alerts: bus -> queue -> rate limit -> Sink.
//
// It is safe for concurrent use.
type Service struct {
	cfg     Config
	sink    Sink
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu    sync.Mutex
	sup   *rtsup.Supervisor
	unsub func()
	queue chan alert
	last  map[string]stream.Status

	hmu     sync.Mutex
	history []HistoryItem

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, sink Sink, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Service{
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		log:     log.With(logx.String("comp", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		queue:   make(chan alert, cfg.QueueSize),
		last:    map[string]stream.Status{},
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.sink == nil || s.bus == nil {
		return
	}
	events, unsub := s.bus.Subscribe(256)
	s.unsub = unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go0("notifier.consume", func(ctx context.Context) { s.consume(ctx, events) })
	s.sup.GoRestart("notifier.deliver", s.deliver)
	s.log.Debug("notifier started", logx.Int("queue", s.cfg.QueueSize))
}

// Stop unsubscribes, gives queued alerts until ctx is done to go out, then
// stops the workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	unsub()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for len(s.queue) > 0 {
		select {
		case <-ctx.Done():
			s.log.Warn("notifier stop with alerts pending", logx.Int("pending", len(s.queue)))
			return sup.Stop(context.Background())
		case <-tick.C:
		}
	}
	return sup.Stop(ctx)
}

func (s *Service) consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeStreamUpdated {
				continue
			}
			u, ok := ev.Data.(stream.Update)
			if !ok {
				continue
			}
			_ = s.Notify(u)
		}
	}
}

// Notify queues an alert for u if it is a reportable status change. A status
// already reported for the same stream is not reported twice in a row.
func (s *Service) Notify(u stream.Update) error {
	if !slices.Contains(u.Fields, stream.FieldStatus) {
		return nil
	}
	s.mu.Lock()
	prev, seen := s.last[u.StreamID]
	s.last[u.StreamID] = u.Stream.Status
	s.mu.Unlock()
	if seen && prev == u.Stream.Status {
		return nil
	}
	text, ok := alertFor(u)
	if !ok {
		return nil
	}

	select {
	case s.queue <- alert{streamID: u.StreamID, text: text}:
		return nil
	default:
		s.dropped.Add(1)
		s.log.Warn("alert dropped (queue full)", logx.String("stream", u.StreamID))
		return ErrQueueFull
	}
}

func (s *Service) deliver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			err := s.sendWithRetry(ctx, a)
			s.record(a, err)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, a alert) error {
	delay := s.cfg.RetryBase
	var err error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = s.sink.Send(sctx, a.text)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == s.cfg.RetryMax {
			break
		}
		s.log.Debug("alert send failed; retrying",
			logx.String("stream", a.streamID),
			logx.Int("attempt", attempt+1),
			logx.Err(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
	return err
}

func (s *Service) record(a alert, err error) {
	item := HistoryItem{At: time.Now(), StreamID: a.streamID, Text: a.text}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		s.log.Warn("alert not delivered", logx.String("stream", a.streamID), logx.Err(err))
	} else {
		s.sent.Add(1)
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// History returns recent delivery attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

type Stats struct {
	Sent, Failed, Dropped uint64
	Pending               int
}

func (s *Service) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
		Pending: len(s.queue),
	}
}
