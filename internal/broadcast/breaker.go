package broadcast

import (
	"context"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"github.com/sony/gobreaker"
)

// Breaker stops calling a failing publisher until its open timeout passes.
// While open, Publish fails fast with ErrBreakerOpen.
type Breaker struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next Publisher, failures uint32, timeout time.Duration, log logger.Logger) *Breaker {
	if failures == 0 {
		failures = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Publisher circuit breaker changed state")
		},
	})

	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Publish(ctx context.Context, payload []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.New().Wrap(ErrBreakerOpen, err)
	}
	return err
}

// State returns the breaker state name: closed, open or half-open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Close() error {
	return b.next.Close()
}
