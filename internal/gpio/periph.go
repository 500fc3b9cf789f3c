package gpio

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const defaultEdgePoll = 500 * time.Millisecond

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return errors.New().Wrap(ErrHostInit, hostErr)
	}
	return nil
}

func lookup(name string) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.New().WithData(ErrPinNotFound, name)
	}
	return pin, nil
}

// Pin drives an LED on a GPIO output.
type Pin struct {
	pin gpio.PinIO
	log logger.Logger

	mu sync.Mutex
}

// NewPin claims the named pin as an output, initially low.
func NewPin(name string, log logger.Logger) (*Pin, error) {
	pin, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.New().Wrap(ErrPinConfig, err)
	}

	log.Debug().Str("pin", pin.Name()).Msg("Indicator configured")

	return &Pin{pin: pin, log: log}, nil
}

func (p *Pin) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.pin.Out(level); err != nil {
		return errors.New().Wrap(ErrPinWrite, err)
	}

	return nil
}

func (p *Pin) Close() error {
	if err := p.Set(false); err != nil {
		return err
	}
	return p.pin.Halt()
}

// Button watches a GPIO input for falling edges. The input uses the
// internal pull-up, so the button pulls the line low when pressed.
type Button struct {
	pin  gpio.PinIO
	poll time.Duration
	log  logger.Logger
}

func NewButton(name string, log logger.Logger) (*Button, error) {
	pin, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, errors.New().Wrap(ErrPinConfig, err)
	}

	log.Debug().Str("pin", pin.Name()).Msg("Button configured")

	return &Button{pin: pin, poll: defaultEdgePoll, log: log}, nil
}

// Watch waits for edges in bounded slices so it notices cancellation.
func (b *Button) Watch(ctx context.Context, fn func()) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if b.pin.WaitForEdge(b.poll) {
			fn()
		}
	}
}

func (b *Button) Close() error {
	return b.pin.Halt()
}
