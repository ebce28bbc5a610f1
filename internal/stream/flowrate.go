package stream

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// SompiPerKas is the number of sompi in one KAS.
	SompiPerKas = 100_000_000

	// DefaultDustFloor is the minimum per-tick amount (0.00001 KAS).
	DefaultDustFloor int64 = 1000

	// DefaultIntervalSeconds is used when a create request leaves the interval empty.
	DefaultIntervalSeconds int64 = 15

	// MaxScheduleSeconds is the longest duration or interval whose timer still
	// fits in a time.Duration.
	MaxScheduleSeconds = math.MaxInt64 / int64(time.Second)
)

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// ComputeFlowRate splits totalAmount over floor(duration/interval) ticks.
//
// A duration shorter than one interval collapses into a single tick carrying
// the whole amount. Floor division may leave a residual below tickCount that
// is never sent.
func ComputeFlowRate(totalAmount, durationSeconds, intervalSeconds, dustFloor int64) (flowRate, tickCount int64, err error) {
	switch {
	case totalAmount <= 0:
		return 0, 0, fmt.Errorf("%w: total amount must be positive", ErrInvalidConfiguration)
	case durationSeconds <= 0:
		return 0, 0, fmt.Errorf("%w: duration must be positive", ErrInvalidConfiguration)
	case intervalSeconds <= 0:
		return 0, 0, fmt.Errorf("%w: interval must be positive", ErrInvalidConfiguration)
	case durationSeconds > MaxScheduleSeconds:
		return 0, 0, fmt.Errorf("%w: duration exceeds %d seconds", ErrInvalidConfiguration, MaxScheduleSeconds)
	case intervalSeconds > MaxScheduleSeconds:
		return 0, 0, fmt.Errorf("%w: interval exceeds %d seconds", ErrInvalidConfiguration, MaxScheduleSeconds)
	}

	tickCount = durationSeconds / intervalSeconds
	if tickCount == 0 {
		flowRate = totalAmount
	} else {
		flowRate = totalAmount / tickCount
	}
	if flowRate < dustFloor {
		return 0, 0, fmt.Errorf("%w: flow rate %d sompi per tick is below the %d sompi floor; increase amount or decrease duration",
			ErrInvalidConfiguration, flowRate, dustFloor)
	}
	return flowRate, tickCount, nil
}

// KasToSompi converts a KAS amount to sompi, dropping fractional sompi.
// Amounts that do not fit in int64 sompi are rejected.
func KasToSompi(kas decimal.Decimal) (int64, error) {
	sompi := kas.Shift(8).Floor()
	if sompi.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%w: amount %s KAS is out of range", ErrInvalidConfiguration, kas)
	}
	return sompi.IntPart(), nil
}

// SompiToKas converts sompi back to a KAS decimal.
func SompiToKas(sompi int64) decimal.Decimal {
	return decimal.New(sompi, -8)
}

// MinutesToSeconds converts a (possibly fractional) minute count to whole seconds.
func MinutesToSeconds(minutes decimal.Decimal) (int64, error) {
	secs := minutes.Mul(decimal.NewFromInt(60)).Floor()
	if secs.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%w: duration %s minutes is out of range", ErrInvalidConfiguration, minutes)
	}
	return secs.IntPart(), nil
}

// ScheduleValid reports whether the interval of s can drive a timer.
func (s *Stream) ScheduleValid() bool {
	return s.IntervalSeconds > 0 && s.IntervalSeconds <= MaxScheduleSeconds
}
