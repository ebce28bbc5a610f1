package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/stream"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrNoToken   = errors.New("telegram token is empty")
)

// Sink delivers one formatted alert.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Config controls the alert pipeline.
type Config struct {
	QueueSize  int
	RatePerSec float64
	RetryMax   int // < 0 disables retries; 0 means 3
	RetryBase  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

type HistoryItem struct {
	At       time.Time
	StreamID string
	Text     string
	Error    string
}

// Controller is the engine surface the Telegram commands use.
type Controller interface {
	List() []stream.Stream
	Stats() stream.Stats
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}
