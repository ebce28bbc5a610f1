package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

type recordingSink struct {
	mu    sync.Mutex
	texts []string
	fails int
}

func (r *recordingSink) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("telegram unavailable")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSink) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func update(status stream.Status, fields ...string) stream.Update {
	return stream.Update{
		StreamID: "s1",
		Fields:   fields,
		Stream: stream.Stream{
			ID:                   "s1",
			Recipient:            "kaspa:dest",
			Status:               status,
			TotalAmount:          10_000_000_000,
			AmountSent:           1_000_000_000,
			FlowRate:             250_000_000,
			IntervalSeconds:      15,
			ElapsedActiveSeconds: 75,
			TxHistory:            make([]stream.Transaction, 4),
			ErrorMessage: func() string {
				if status == stream.StatusError {
					return "insufficient funds"
				}
				return ""
			}(),
		},
	}
}

func TestAlertFor(t *testing.T) {
	text, ok := alertFor(update(stream.StatusError, stream.FieldStatus, stream.FieldErrorMessage))
	require.True(t, ok)
	assert.Contains(t, text, "halted")
	assert.Contains(t, text, "sent: 10 / 100 KAS (4 txs)")
	assert.Contains(t, text, "active: 1m15s")
	assert.Contains(t, text, "error: insufficient funds")

	text, ok = alertFor(update(stream.StatusActive, stream.FieldStatus, stream.FieldStartedAt))
	require.True(t, ok)
	assert.Contains(t, text, "rate: 2.5 KAS every 15s")

	_, ok = alertFor(update(stream.StatusActive, stream.FieldStatus))
	assert.False(t, ok, "resume is not alerted")
	_, ok = alertFor(update(stream.StatusPaused, stream.FieldStatus, stream.FieldPausedAt))
	assert.False(t, ok)
	_, ok = alertFor(update(stream.StatusCompleted, stream.FieldAmountSent))
	assert.False(t, ok, "no status field")
}

func TestNotifySuppressesRepeats(t *testing.T) {
	svc := New(Config{QueueSize: 8}, &recordingSink{}, eventbus.New(), logx.Nop())

	require.NoError(t, svc.Notify(update(stream.StatusError, stream.FieldStatus)))
	require.NoError(t, svc.Notify(update(stream.StatusError, stream.FieldStatus)))
	assert.Equal(t, 1, svc.Stats().Pending)

	// error -> active (resume) -> error is a new failure.
	require.NoError(t, svc.Notify(update(stream.StatusActive, stream.FieldStatus)))
	require.NoError(t, svc.Notify(update(stream.StatusError, stream.FieldStatus)))
	assert.Equal(t, 2, svc.Stats().Pending)
}

func TestNotifyQueueFull(t *testing.T) {
	svc := New(Config{QueueSize: 1}, &recordingSink{}, eventbus.New(), logx.Nop())
	require.NoError(t, svc.Notify(update(stream.StatusCompleted, stream.FieldStatus)))

	u := update(stream.StatusCancelled, stream.FieldStatus)
	u.StreamID = "s2"
	require.ErrorIs(t, svc.Notify(u), ErrQueueFull)
	assert.Equal(t, uint64(1), svc.Stats().Dropped)
}

func TestServiceDeliversFromBusWithRetry(t *testing.T) {
	bus := eventbus.New()
	sink := &recordingSink{fails: 1}
	svc := New(Config{RatePerSec: 100, RetryBase: time.Millisecond}, sink, bus, logx.Nop())
	svc.Start(context.Background())
	svc.Start(context.Background())

	u := update(stream.StatusCompleted, stream.FieldStatus, stream.FieldCompletedAt)
	bus.Publish(eventbus.Event{Type: eventbus.TypeStreamUpdated, StreamID: u.StreamID, Data: u})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTickSkipped, StreamID: u.StreamID})

	require.Eventually(t, func() bool { return len(sink.got()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.got()[0], "completed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))

	h := svc.History()
	require.Len(t, h, 1)
	assert.Empty(t, h[0].Error)
	assert.Equal(t, uint64(1), svc.Stats().Sent)
}

func TestServiceGivesUpAfterRetries(t *testing.T) {
	sink := &recordingSink{fails: 10}
	svc := New(Config{RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond}, sink, eventbus.New(), logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Notify(update(stream.StatusCancelled, stream.FieldStatus)))
	require.Eventually(t, func() bool { return svc.Stats().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.got())
	assert.Equal(t, 7, sink.fails)
}

type fakeController struct {
	streams []stream.Stream
	calls   []string
	err     error
}

func (f *fakeController) List() []stream.Stream { return f.streams }
func (f *fakeController) Stats() stream.Stats   { return stream.Aggregate(f.streams) }
func (f *fakeController) Pause(_ context.Context, id string) error {
	f.calls = append(f.calls, "pause "+id)
	return f.err
}
func (f *fakeController) Resume(_ context.Context, id string) error {
	f.calls = append(f.calls, "resume "+id)
	return f.err
}
func (f *fakeController) Cancel(_ context.Context, id string) error {
	f.calls = append(f.calls, "cancel "+id)
	return f.err
}

func TestRunCommand(t *testing.T) {
	ctx := context.Background()
	ctl := &fakeController{streams: []stream.Stream{
		{ID: "a", Status: stream.StatusActive, TotalAmount: 200_000_000, AmountSent: 100_000_000, FlowRate: 150, IntervalSeconds: 15},
	}}

	assert.Equal(t, "a active 1/2 KAS", runCommand(ctx, ctl, "/streams", nil))
	assert.Contains(t, runCommand(ctx, ctl, "/stats", nil), "streams: 1 (active 1)")

	assert.Equal(t, "ok: pause a", runCommand(ctx, ctl, "/pause", []string{"a"}))
	assert.Equal(t, "ok: resume a", runCommand(ctx, ctl, "/resume", []string{"a"}))
	assert.Equal(t, "usage: /cancel <stream id>", runCommand(ctx, ctl, "/cancel", nil))
	assert.Equal(t, []string{"pause a", "resume a"}, ctl.calls)

	ctl.err = errors.New("stream not found")
	assert.Equal(t, "error: stream not found", runCommand(ctx, ctl, "/cancel", []string{"zzz"}))

	assert.Equal(t, "no streams", runCommand(ctx, &fakeController{}, "/streams", nil))
	assert.Equal(t, "unknown command", runCommand(ctx, ctl, "/start", nil))
}

func TestNewTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{}, logx.Nop())
	require.ErrorIs(t, err, ErrNoToken)
}
