package engine

import (
	"sync"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/stream"
)

// Config controls stream creation and tick execution.
//
// The app layer maps config.engine into this struct.
type Config struct {
	// DustFloor is the smallest per-tick amount, in sompi.
	DustFloor int64
	// DefaultInterval is used when a create request omits the interval, in seconds.
	DefaultInterval int64
	// SendTimeout bounds a single payment call. 0 uses the default.
	SendTimeout time.Duration
	// Sender is the wallet identity recorded on new streams.
	Sender string
}

const defaultSendTimeout = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.DustFloor <= 0 {
		c.DustFloor = stream.DefaultDustFloor
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = stream.DefaultIntervalSeconds
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Snapshot is a point-in-time view of the scheduler internals.
type Snapshot struct {
	Streams  int
	Active   int
	Timers   int
	InFlight int

	TicksSent    uint64
	TicksFailed  uint64
	SkippedTicks uint64
	Stopped      bool
}

// SkippedTick is carried by eventbus.TypeTickSkipped events.
type SkippedTick struct {
	StreamID string
	At       time.Time
}

// runState guards a stream against overlapping ticks. At most one payment
// call per stream is outstanding at any time.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *runState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// entry is the registry record for one stream.
type entry struct {
	s     *stream.Stream
	timer Timer
	// epoch changes whenever the timer is invalidated; callbacks armed under an
	// older epoch do nothing.
	epoch uint64
	state runState
}
