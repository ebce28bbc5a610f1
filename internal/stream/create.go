package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateConfig is the human-facing payment order.
type CreateConfig struct {
	Recipient       string          `json:"recipient"`
	TotalAmountKas  decimal.Decimal `json:"totalAmountKas"`
	DurationMinutes decimal.Decimal `json:"durationMinutes"`
	// IntervalSeconds defaults to Policy.DefaultInterval when zero.
	IntervalSeconds int64 `json:"intervalSeconds,omitempty"`
}

// Policy carries the creation rules owned by the engine configuration.
type Policy struct {
	DustFloor       int64
	DefaultInterval int64
	Validator       AddressValidator
	NewID           func() string
}

func (p Policy) withDefaults() Policy {
	if p.DustFloor <= 0 {
		p.DustFloor = DefaultDustFloor
	}
	if p.DefaultInterval <= 0 {
		p.DefaultInterval = DefaultIntervalSeconds
	}
	if p.Validator == nil {
		p.Validator = KaspaValidator{}
	}
	if p.NewID == nil {
		p.NewID = NewID
	}
	return p
}

// NewID returns a fresh stream id.
func NewID() string { return "stream_" + uuid.NewString() }

// New validates cfg and builds a pending stream. Nothing is returned on error.
func New(cfg CreateConfig, sender string, p Policy, now time.Time) (*Stream, error) {
	p = p.withDefaults()

	recipient := strings.TrimSpace(cfg.Recipient)
	if !p.Validator.IsValid(recipient) {
		return nil, fmt.Errorf("%w: invalid recipient address %q", ErrInvalidConfiguration, recipient)
	}
	if cfg.TotalAmountKas.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidConfiguration)
	}

	total, err := KasToSompi(cfg.TotalAmountKas)
	if err != nil {
		return nil, err
	}
	duration, err := MinutesToSeconds(cfg.DurationMinutes)
	if err != nil {
		return nil, err
	}
	interval := cfg.IntervalSeconds
	if interval == 0 {
		interval = p.DefaultInterval
	}

	flowRate, ticks, err := ComputeFlowRate(total, duration, interval, p.DustFloor)
	if err != nil {
		return nil, err
	}

	return &Stream{
		ID:              p.NewID(),
		Sender:          strings.TrimSpace(sender),
		Recipient:       recipient,
		TotalAmount:     total,
		DurationSeconds: duration,
		IntervalSeconds: interval,
		FlowRate:        flowRate,
		TickCount:       ticks,
		Status:          StatusPending,
		TxHistory:       []Transaction{},
		CreatedAt:       now,
	}, nil
}
