package payment

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

// Demo simulates transfers: it waits Latency and returns a fake id. No funds move.
type Demo struct {
	Latency time.Duration
	Log     logx.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemo returns a demo sender with the given simulated latency.
func NewDemo(latency time.Duration, log logx.Logger) *Demo {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Demo{
		Latency: latency,
		Log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *Demo) Send(ctx context.Context, to string, amount int64) (string, error) {
	if d.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d.Latency):
		}
	}
	id := "demo_" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "_" + d.suffix()
	d.Log.Debug("demo transfer", logx.String("to", to), logx.Int64("amount", amount), logx.String("tx", id))
	return id, nil
}

func (d *Demo) suffix() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return strconv.FormatInt(d.rng.Int63n(36*36*36*36*36*36), 36)
}
