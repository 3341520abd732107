package sink

import (
	"context"

	"github.com/sony/gobreaker"
)

// Breaker stops calling a failing sink for a while so an unreachable backend
// does not stall every receive cycle.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	next Sink
}

var _ Sink = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(name string, cfg BreakerConfig, next Sink) *Breaker {
	failures := uint32(max(cfg.Failures, 1))
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     name,
			Interval: cfg.Interval,
			Timeout:  cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
		}),
	}
}

// Push implements Sink. It fails with gobreaker.ErrOpenState while open.
func (b *Breaker) Push(ctx context.Context, samples []Sample) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Push(ctx, samples)
	})
	return err
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Close closes the wrapped sink if it holds resources.
func (b *Breaker) Close() error {
	if c, ok := b.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
