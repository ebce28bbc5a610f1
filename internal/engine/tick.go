package engine

import (
	"context"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

func (s *Service) interval(e *entry) time.Duration {
	return time.Duration(e.s.IntervalSeconds) * time.Second
}

// armLocked schedules the next fire of e one interval from now.
func (s *Service) armLocked(e *entry, id string, epoch uint64) {
	e.timer = s.clock.AfterFunc(s.interval(e), func() { s.fire(id, epoch) })
}

// stopTimerLocked disarms e and invalidates callbacks already in flight.
func (s *Service) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.epoch++
}

// fire is the timer callback. The next fire is armed before the tick runs so
// cadence does not drift with payment latency.
func (s *Service) fire(id string, epoch uint64) {
	s.mu.Lock()
	e, ok := s.streams[id]
	if !ok || s.stopped || e.epoch != epoch || e.s.Status != stream.StatusActive {
		s.mu.Unlock()
		return
	}
	s.armLocked(e, id, epoch)
	s.mu.Unlock()

	s.runTick(context.Background(), id, epoch)
}

// runTick performs one payment for stream id.
//
// Protocol:
//   - a tick that finds another tick of the same stream in flight is skipped;
//   - a stream with nothing left completes without paying;
//   - the payment call runs outside the registry lock;
//   - an accepted payment is always recorded, even if the stream was paused or
//     cancelled meanwhile, but only an active stream completes;
//   - a failed payment halts the stream only if it belongs to the current
//     active span. A send that outlives a pause and resume is counted and
//     dropped.
func (s *Service) runTick(ctx context.Context, id string, epoch uint64) {
	s.mu.Lock()
	e, ok := s.streams[id]
	if !ok || s.stopped || e.epoch != epoch || e.s.Status != stream.StatusActive {
		s.mu.Unlock()
		return
	}
	if !e.state.tryAcquire() {
		now := s.clock.Now()
		s.skipped.Add(1)
		s.bus.Publish(eventbus.Event{
			Type:     eventbus.TypeTickSkipped,
			Time:     now,
			StreamID: id,
			Data:     SkippedTick{StreamID: id, At: now},
		})
		s.mu.Unlock()
		s.log.Debug("tick skipped due to overlap", logx.String("stream", id))
		return
	}
	s.inflight.Add(1)
	defer func() {
		e.state.release()
		s.inflight.Done()
	}()

	remaining := e.s.Remaining()
	if remaining <= 0 {
		now := s.clock.Now()
		s.completeLocked(e, now, nil)
		s.mu.Unlock()
		return
	}
	amount := min(e.s.FlowRate, remaining)
	to := e.s.Recipient
	s.mu.Unlock()

	txID, err := s.sender.Send(ctx, to, amount)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.failed.Add(1)
		if e.s.Status != stream.StatusActive || e.epoch != epoch {
			s.log.Warn("payment failed outside its active span",
				logx.String("stream", id),
				logx.String("status", string(e.s.Status)),
				logx.Err(err),
			)
			return
		}
		s.stopTimerLocked(e)
		fields, aerr := stream.Apply(e.s, stream.EventFail, now, err.Error())
		if aerr != nil {
			return
		}
		s.publishLocked(e, fields, now)
		s.log.Warn("payment failed, stream halted",
			logx.String("stream", id),
			logx.Int64("amount", amount),
			logx.Int64("sent", e.s.AmountSent),
			logx.Err(err),
		)
		return
	}

	s.sent.Add(1)
	e.s.AmountSent += amount
	e.s.TxHistory = append(e.s.TxHistory, stream.Transaction{
		TxID:      txID,
		Amount:    amount,
		Timestamp: now,
		Status:    stream.TxSubmitted,
	})
	fields := []string{stream.FieldAmountSent, stream.FieldTxHistory}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("tick paid",
			logx.String("stream", id),
			logx.String("tx", txID),
			logx.Int64("amount", amount),
			logx.Int64("sent", e.s.AmountSent),
			logx.Int64("total", e.s.TotalAmount),
		)
	}

	if e.s.AmountSent >= e.s.TotalAmount && e.s.Status == stream.StatusActive {
		s.completeLocked(e, now, fields)
		return
	}
	s.publishLocked(e, fields, now)
}

func (s *Service) completeLocked(e *entry, now time.Time, fields []string) {
	s.stopTimerLocked(e)
	f, err := stream.Apply(e.s, stream.EventComplete, now, "")
	if err != nil {
		return
	}
	s.publishLocked(e, append(fields, f...), now)
	s.log.Info("stream completed",
		logx.String("stream", e.s.ID),
		logx.Int64("sent", e.s.AmountSent),
		logx.Int("txs", len(e.s.TxHistory)),
		logx.Float64("elapsed_s", e.s.ElapsedActiveSeconds),
	)
}
