package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	"github.com/himanshu-sugha/StreamKAS/internal/payment"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

const testRecipient = "kaspa:qpauqsvk7yf9unexwmxsnmg547mhyga37csh0kj53q6xxgl24ydxjsgzthw5j"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves time forward, running due callbacks in order on the calling
// goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type countingSender struct {
	calls  atomic.Int32
	failAt int32
	err    error
}

func (s *countingSender) Send(_ context.Context, _ string, _ int64) (string, error) {
	n := s.calls.Add(1)
	if s.failAt > 0 && n == s.failAt {
		return "", s.err
	}
	return fmt.Sprintf("tx-%d", n), nil
}

func newTestService(t *testing.T, sender payment.Sender, cfg Config) (*Service, *fakeClock) {
	t.Helper()
	clk := newFakeClock(t0)
	svc := New(cfg, sender, logx.Nop(), eventbus.New(), WithClock(clk))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc, clk
}

func hundredKasTenMinutes() stream.CreateConfig {
	return stream.CreateConfig{
		Recipient:       testRecipient,
		TotalAmountKas:  decimal.NewFromInt(100),
		DurationMinutes: decimal.NewFromInt(10),
		IntervalSeconds: 15,
	}
}

func TestCreateRegistersPendingStream(t *testing.T) {
	svc, _ := newTestService(t, &countingSender{}, Config{Sender: "kaspa:me"})

	st, err := svc.Create(context.Background(), hundredKasTenMinutes())
	require.NoError(t, err)
	assert.Equal(t, stream.StatusPending, st.Status)
	assert.Equal(t, int64(250_000_000), st.FlowRate)
	assert.Equal(t, int64(40), st.TickCount)
	assert.Equal(t, "kaspa:me", st.Sender)
	assert.Equal(t, palette[0], st.Color)
	assert.Equal(t, t0, st.CreatedAt)

	second, err := svc.Create(context.Background(), hundredKasTenMinutes())
	require.NoError(t, err)
	assert.Equal(t, palette[1], second.Color)

	_, err = svc.Create(context.Background(), stream.CreateConfig{Recipient: "nope", TotalAmountKas: decimal.NewFromInt(1), DurationMinutes: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, stream.ErrInvalidConfiguration)
	assert.Len(t, svc.List(), 2)
}

func TestStreamRunsToCompletion(t *testing.T) {
	sender := &countingSender{}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))

	got, err := svc.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatusActive, got.Status)
	assert.Len(t, got.TxHistory, 1)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, t0, *got.StartedAt)

	for i := 0; i < 39; i++ {
		clk.Advance(15 * time.Second)
	}

	got, err = svc.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatusCompleted, got.Status)
	assert.Equal(t, int64(10_000_000_000), got.AmountSent)
	assert.Len(t, got.TxHistory, 40)
	assert.InDelta(t, 585, got.ElapsedActiveSeconds, 1e-9)
	require.NotNil(t, got.CompletedAt)
	for _, tx := range got.TxHistory {
		assert.Equal(t, int64(250_000_000), tx.Amount)
		assert.Equal(t, stream.TxSubmitted, tx.Status)
	}

	assert.Equal(t, 0, clk.pending())
	clk.Advance(time.Hour)
	assert.Equal(t, int32(40), sender.calls.Load())

	snap := svc.Snapshot()
	assert.Equal(t, uint64(40), snap.TicksSent)
	assert.Equal(t, 0, snap.Timers)
	assert.Equal(t, 0, snap.Active)
}

func TestLastTickPaysRemainder(t *testing.T) {
	sender := &countingSender{}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	// 1 KAS over 45s at 15s: floor(1e8/3) per tick leaves 1 sompi for a fourth tick.
	st, err := svc.Create(ctx, stream.CreateConfig{
		Recipient:       testRecipient,
		TotalAmountKas:  decimal.NewFromInt(1),
		DurationMinutes: decimal.RequireFromString("0.75"),
		IntervalSeconds: 15,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), st.TickCount)
	require.NoError(t, svc.Start(ctx, st.ID))
	for i := 0; i < 5; i++ {
		clk.Advance(15 * time.Second)
	}

	got, err := svc.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatusCompleted, got.Status)
	assert.Equal(t, got.TotalAmount, got.AmountSent)
	require.Len(t, got.TxHistory, 4)
	assert.Equal(t, int64(1), got.TxHistory[3].Amount)
}

func TestPaymentFailureHaltsStream(t *testing.T) {
	sender := &countingSender{failAt: 5, err: payment.ErrInsufficientFunds}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))
	for i := 0; i < 4; i++ {
		clk.Advance(15 * time.Second)
	}

	got, err := svc.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatusError, got.Status)
	assert.Len(t, got.TxHistory, 4)
	assert.Equal(t, int64(1_000_000_000), got.AmountSent)
	assert.InDelta(t, 60, got.ElapsedActiveSeconds, 1e-9)
	assert.Contains(t, got.ErrorMessage, "insufficient")
	assert.Equal(t, 0, clk.pending())

	clk.Advance(time.Minute)
	assert.Equal(t, int32(5), sender.calls.Load())

	// Error is recoverable: resume clears the message and waits one interval.
	require.NoError(t, svc.Resume(ctx, st.ID))
	got, _ = svc.Get(st.ID)
	assert.Equal(t, stream.StatusActive, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, int32(5), sender.calls.Load())

	clk.Advance(15 * time.Second)
	got, _ = svc.Get(st.ID)
	assert.Len(t, got.TxHistory, 5)
}

func TestStartIsIdempotent(t *testing.T) {
	sender := &countingSender{}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))
	require.NoError(t, svc.Start(ctx, st.ID))

	assert.Equal(t, int32(1), sender.calls.Load())
	assert.Equal(t, 1, clk.pending())

	clk.Advance(15 * time.Second)
	assert.Equal(t, int32(2), sender.calls.Load())
}

func TestPauseResumeAccounting(t *testing.T) {
	sender := &countingSender{}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))

	clk.Advance(10 * time.Second)
	require.NoError(t, svc.Pause(ctx, st.ID))
	paused, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusPaused, paused.Status)
	assert.InDelta(t, 10, paused.ElapsedActiveSeconds, 1e-9)
	assert.Equal(t, 0, clk.pending())

	// Paused time does not count and no tick fires.
	clk.Advance(time.Minute)
	assert.Equal(t, int32(1), sender.calls.Load())

	require.NoError(t, svc.Resume(ctx, st.ID))
	resumed, _ := svc.Get(st.ID)
	assert.Equal(t, paused.AmountSent, resumed.AmountSent)
	assert.Equal(t, paused.TxHistory, resumed.TxHistory)
	assert.Equal(t, *paused.StartedAt, *resumed.StartedAt)

	clk.Advance(14 * time.Second)
	assert.Equal(t, int32(1), sender.calls.Load())
	clk.Advance(time.Second)
	assert.Equal(t, int32(2), sender.calls.Load())

	require.NoError(t, svc.Pause(ctx, st.ID))
	got, _ := svc.Get(st.ID)
	assert.InDelta(t, 25, got.ElapsedActiveSeconds, 1e-9)

	// Pausing again is a no-op.
	require.NoError(t, svc.Pause(ctx, st.ID))
	again, _ := svc.Get(st.ID)
	assert.Equal(t, got.PausedAt, again.PausedAt)
}

func TestTerminalStreamsIgnoreCommands(t *testing.T) {
	sender := &countingSender{}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))
	require.NoError(t, svc.Cancel(ctx, st.ID))

	before, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusCancelled, before.Status)
	require.NotNil(t, before.CompletedAt)

	require.NoError(t, svc.Pause(ctx, st.ID))
	require.NoError(t, svc.Cancel(ctx, st.ID))
	require.ErrorIs(t, svc.Start(ctx, st.ID), stream.ErrInvalidTransition)
	clk.Advance(time.Minute)

	after, _ := svc.Get(st.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestPendingStreamCanBeCancelled(t *testing.T) {
	svc, _ := newTestService(t, &countingSender{}, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Pause(ctx, st.ID))
	got, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusPending, got.Status)

	require.NoError(t, svc.Cancel(ctx, st.ID))
	got, _ = svc.Get(st.ID)
	assert.Equal(t, stream.StatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestUnknownStream(t *testing.T) {
	svc, _ := newTestService(t, &countingSender{}, Config{})
	ctx := context.Background()

	require.ErrorIs(t, svc.Start(ctx, "missing"), ErrNotFound)
	require.ErrorIs(t, svc.Pause(ctx, "missing"), ErrNotFound)
	require.ErrorIs(t, svc.Cancel(ctx, "missing"), ErrNotFound)
	_, err := svc.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

// blockingSender holds every call until release is closed, then returns err
// if set.
type blockingSender struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
}

func newBlockingSender() *blockingSender {
	return &blockingSender{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (s *blockingSender) Send(ctx context.Context, _ string, _ int64) (string, error) {
	s.calls.Add(1)
	s.entered <- struct{}{}
	select {
	case <-s.release:
		if s.err != nil {
			return "", s.err
		}
		return "tx", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	sender := newBlockingSender()
	svc, clk := newTestService(t, sender, Config{SendTimeout: time.Minute})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx, st.ID) }()
	<-sender.entered

	skips, unsub := svc.Bus().Subscribe(4)
	defer unsub()

	clk.Advance(15 * time.Second)
	snap := svc.Snapshot()
	assert.Equal(t, uint64(1), snap.SkippedTicks)
	assert.Equal(t, 1, snap.InFlight)
	assert.Equal(t, int32(1), sender.calls.Load())

	select {
	case ev := <-skips:
		assert.Equal(t, eventbus.TypeTickSkipped, ev.Type)
		assert.Equal(t, st.ID, ev.StreamID)
	case <-time.After(time.Second):
		t.Fatal("expected a skipped tick event")
	}

	close(sender.release)
	require.NoError(t, <-done)

	clk.Advance(15 * time.Second)
	<-sender.entered
	assert.Equal(t, int32(2), sender.calls.Load())
	got, _ := svc.Get(st.ID)
	assert.Len(t, got.TxHistory, 2)
}

func TestSendTimeoutFailsStream(t *testing.T) {
	sender := newBlockingSender()
	svc, _ := newTestService(t, sender, Config{SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))

	got, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "timed out")
	assert.Empty(t, got.TxHistory)
	assert.Equal(t, uint64(1), svc.Snapshot().TicksFailed)
}

func TestPaymentAcceptedAfterCancelIsRecorded(t *testing.T) {
	sender := newBlockingSender()
	svc, clk := newTestService(t, sender, Config{SendTimeout: time.Minute})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx, st.ID) }()
	<-sender.entered

	require.NoError(t, svc.Cancel(ctx, st.ID))
	close(sender.release)
	require.NoError(t, <-done)

	got, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusCancelled, got.Status)
	assert.Len(t, got.TxHistory, 1)
	assert.Equal(t, got.FlowRate, got.AmountSent)

	clk.Advance(time.Minute)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestFailureFromEarlierSpanKeepsStreamActive(t *testing.T) {
	sender := newBlockingSender()
	sender.err = errors.New("node unreachable")
	svc, clk := newTestService(t, sender, Config{SendTimeout: time.Minute})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx, st.ID) }()
	<-sender.entered

	require.NoError(t, svc.Pause(ctx, st.ID))
	require.NoError(t, svc.Resume(ctx, st.ID))
	close(sender.release)
	require.NoError(t, <-done)

	got, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusActive, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, got.TxHistory)
	snap := svc.Snapshot()
	assert.Equal(t, uint64(1), snap.TicksFailed)
	assert.Equal(t, 1, snap.Timers)

	// A failure inside the resumed span still halts it.
	clk.Advance(15 * time.Second)
	<-sender.entered
	got, _ = svc.Get(st.ID)
	assert.Equal(t, stream.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "node unreachable")
	assert.Equal(t, int32(2), sender.calls.Load())
}

func TestOnUpdateReportsFields(t *testing.T) {
	svc, _ := newTestService(t, &countingSender{}, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)

	updates := make(chan stream.Update, 8)
	unsub := svc.OnUpdate(st.ID, func(u stream.Update) { updates <- u })
	defer unsub()

	other, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, other.ID))
	require.NoError(t, svc.Start(ctx, st.ID))

	next := func() stream.Update {
		select {
		case u := <-updates:
			return u
		case <-time.After(time.Second):
			t.Fatal("update not delivered")
			return stream.Update{}
		}
	}

	first := next()
	assert.Equal(t, st.ID, first.StreamID)
	assert.Contains(t, first.Fields, stream.FieldStatus)
	assert.Contains(t, first.Fields, stream.FieldStartedAt)
	assert.Equal(t, stream.StatusActive, first.Stream.Status)

	second := next()
	assert.ElementsMatch(t, []string{stream.FieldAmountSent, stream.FieldTxHistory}, second.Fields)
	assert.Len(t, second.Stream.TxHistory, 1)
}

func TestLoadDemotesActiveAndRejectsDuplicates(t *testing.T) {
	svc, clk := newTestService(t, &countingSender{}, Config{})

	since := t0.Add(-30 * time.Second)
	records := []stream.Stream{
		{ID: "a", Status: stream.StatusActive, TotalAmount: 100, FlowRate: 10, IntervalSeconds: 15, ActiveSince: &since, StartedAt: &since},
		{ID: "b", Status: stream.StatusCompleted, TotalAmount: 100, AmountSent: 100, IntervalSeconds: 15},
	}
	require.NoError(t, svc.Load(records))

	a, err := svc.Get("a")
	require.NoError(t, err)
	assert.Equal(t, stream.StatusPaused, a.Status)
	assert.InDelta(t, 30, a.ElapsedActiveSeconds, 1e-9)
	assert.NotEmpty(t, a.Color)
	assert.NotNil(t, a.TxHistory)
	assert.Equal(t, 0, clk.pending())

	paused := func(id string) stream.Stream {
		return stream.Stream{ID: id, Status: stream.StatusPaused, IntervalSeconds: 15}
	}
	require.ErrorIs(t, svc.Load([]stream.Stream{paused("a")}), ErrDuplicate)
	require.ErrorIs(t, svc.Load([]stream.Stream{paused("c"), paused("c")}), ErrDuplicate)
	require.ErrorIs(t, svc.Load([]stream.Stream{{ID: "d", Status: "weird", IntervalSeconds: 15}}), stream.ErrInvalidConfiguration)
	huge := paused("e")
	huge.IntervalSeconds = stream.MaxScheduleSeconds + 1
	require.ErrorIs(t, svc.Load([]stream.Stream{huge}), stream.ErrInvalidConfiguration)
	assert.Len(t, svc.List(), 2)

	st := svc.Stats()
	assert.Equal(t, 2, st.TotalStreams)
	assert.Equal(t, 0, st.ActiveStreams)
	assert.Equal(t, int64(100), st.TotalSent)
}

func TestStopDisarmsAndRejects(t *testing.T) {
	sender := &countingSender{}
	svc, clk := newTestService(t, sender, Config{})
	ctx := context.Background()

	st, err := svc.Create(ctx, hundredKasTenMinutes())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, st.ID))

	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))
	clk.Advance(time.Minute)
	assert.Equal(t, int32(1), sender.calls.Load())

	got, _ := svc.Get(st.ID)
	assert.Equal(t, stream.StatusActive, got.Status)

	_, err = svc.Create(ctx, hundredKasTenMinutes())
	require.True(t, errors.Is(err, ErrStopped))
	require.ErrorIs(t, svc.Start(ctx, st.ID), ErrStopped)
	assert.True(t, svc.Snapshot().Stopped)
}

func TestMockSenderReceivesCappedAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := payment.NewMockSender(ctrl)
	svc, _ := newTestService(t, m, Config{})
	ctx := context.Background()

	require.NoError(t, svc.Load([]stream.Stream{{
		ID:              "s",
		Recipient:       testRecipient,
		Status:          stream.StatusPaused,
		TotalAmount:     1000,
		AmountSent:      900,
		FlowRate:        250,
		IntervalSeconds: 15,
	}}))
	m.EXPECT().Send(gomock.Any(), testRecipient, int64(100)).Return("tx-last", nil)

	require.NoError(t, svc.Resume(ctx, "s"))
	// Resume waits one interval; force the tick through the timer path.
	svc.mu.Lock()
	e := svc.streams["s"]
	epoch := e.epoch
	svc.mu.Unlock()
	svc.fire("s", epoch)

	got, _ := svc.Get("s")
	assert.Equal(t, stream.StatusCompleted, got.Status)
	assert.Equal(t, int64(1000), got.AmountSent)
}
