// Package payment defines the narrow contract the scheduler uses to move
// funds, plus the adapters that implement it.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

//go:generate mockgen -destination=mock_sender.go -package=payment . Sender

// Sender submits one transfer and returns the transaction id. A returned id
// means the transfer left the process and cannot be retracted.
type Sender interface {
	Send(ctx context.Context, to string, amount int64) (txID string, err error)
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRejected          = errors.New("transaction rejected")
	ErrNotConnected      = errors.New("wallet not connected")
	ErrNetwork           = errors.New("network error")
)

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to string, amount int64) (string, error)

func (f SenderFunc) Send(ctx context.Context, to string, amount int64) (string, error) {
	return f(ctx, to, amount)
}

// WithTimeout bounds every Send. A deadline hit is reported as ErrNetwork so the
// tick failure path treats it like any other send failure.
func WithTimeout(s Sender, d time.Duration) Sender {
	if d <= 0 {
		return s
	}
	return SenderFunc(func(ctx context.Context, to string, amount int64) (string, error) {
		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			id  string
			err error
		}
		done := make(chan result, 1)
		go func() {
			id, err := s.Send(cctx, to, amount)
			done <- result{id: id, err: err}
		}()

		select {
		case r := <-done:
			return r.id, r.err
		case <-cctx.Done():
			// Prefer a result that raced the deadline; it may carry a real tx id.
			select {
			case r := <-done:
				return r.id, r.err
			default:
			}
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: send timed out after %s", ErrNetwork, d)
			}
			return "", cctx.Err()
		}
	})
}
