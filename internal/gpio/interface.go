package gpio

import "context"

// Indicator is a binary output such as an LED.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// EdgeSource reports external edges. Watch blocks until ctx is done and
// calls fn at most once per detected edge, from its own goroutine.
type EdgeSource interface {
	Watch(ctx context.Context, fn func()) error
	Close() error
}
