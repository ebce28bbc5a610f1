package stream

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether no further event is accepted in this status.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// TxStatus is the submission state of a micro-payment. Nothing here verifies
// chain inclusion, so the only value the scheduler writes is TxSubmitted.
type TxStatus string

const TxSubmitted TxStatus = "submitted"

// Transaction is one tick that the payment sender accepted.
type Transaction struct {
	TxID      string    `json:"txId"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Status    TxStatus  `json:"status"`
}

// Stream is a lump-sum payment split into ticks. Amounts are in sompi.
type Stream struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	TotalAmount int64 `json:"totalAmount"`
	AmountSent  int64 `json:"amountSent"`

	DurationSeconds int64 `json:"durationSeconds"`
	IntervalSeconds int64 `json:"intervalSeconds"`
	FlowRate        int64 `json:"flowRate"`
	TickCount       int64 `json:"tickCount"`

	Status    Status        `json:"status"`
	TxHistory []Transaction `json:"txHistory"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt"`
	// ActiveSince marks the start of the current active span; nil unless active.
	ActiveSince          *time.Time `json:"activeSince,omitempty"`
	PausedAt             *time.Time `json:"pausedAt"`
	CompletedAt          *time.Time `json:"completedAt"`
	ElapsedActiveSeconds float64    `json:"elapsedActiveSeconds"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	Color        string `json:"color"`
}

// Clone returns a deep copy safe to hand to readers.
func (s *Stream) Clone() Stream {
	cp := *s
	cp.TxHistory = append([]Transaction(nil), s.TxHistory...)
	cp.StartedAt = cloneTime(s.StartedAt)
	cp.ActiveSince = cloneTime(s.ActiveSince)
	cp.PausedAt = cloneTime(s.PausedAt)
	cp.CompletedAt = cloneTime(s.CompletedAt)
	return cp
}

// Remaining is the amount still to be sent.
func (s *Stream) Remaining() int64 {
	r := s.TotalAmount - s.AmountSent
	if r < 0 {
		return 0
	}
	return r
}

// Progress returns the sent fraction in [0, 1].
func (s *Stream) Progress() float64 {
	if s.TotalAmount <= 0 {
		return 0
	}
	return float64(s.AmountSent) / float64(s.TotalAmount)
}

// ElapsedAt returns active seconds including the span still running at now.
func (s *Stream) ElapsedAt(now time.Time) float64 {
	e := s.ElapsedActiveSeconds
	if s.Status == StatusActive && s.ActiveSince != nil && now.After(*s.ActiveSince) {
		e += now.Sub(*s.ActiveSince).Seconds()
	}
	return e
}

// SecondsRemaining estimates the active time left on the configured schedule.
func (s *Stream) SecondsRemaining(now time.Time) float64 {
	left := float64(s.DurationSeconds) - s.ElapsedAt(now)
	if left < 0 || s.Status == StatusCompleted {
		return 0
	}
	return left
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Field names reported in Update.Fields. They match the JSON keys.
const (
	FieldStatus       = "status"
	FieldAmountSent   = "amountSent"
	FieldTxHistory    = "txHistory"
	FieldStartedAt    = "startedAt"
	FieldPausedAt     = "pausedAt"
	FieldCompletedAt  = "completedAt"
	FieldElapsed      = "elapsedActiveSeconds"
	FieldErrorMessage = "errorMessage"
	FieldCreated      = "created"
)

// Update is published for every externally observable mutation of a stream.
// Stream is a copy taken right after the mutation.
type Update struct {
	StreamID string    `json:"streamId"`
	Fields   []string  `json:"fields"`
	Stream   Stream    `json:"stream"`
	At       time.Time `json:"at"`
}
