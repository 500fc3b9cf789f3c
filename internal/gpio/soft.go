package gpio

import (
	"context"
	"os"
	"os/signal"

	"codeberg.org/mutker/thermobeacon/internal/logger"
)

// LogIndicator stands in for an LED when no pin is configured.
type LogIndicator struct {
	name string
	log  logger.Logger
	on   bool
}

func NewLogIndicator(name string, log logger.Logger) *LogIndicator {
	return &LogIndicator{name: name, log: log}
}

func (l *LogIndicator) Set(on bool) error {
	if on != l.on {
		l.log.Debug().Str("indicator", l.name).Bool("on", on).Msg("Indicator changed")
	}
	l.on = on
	return nil
}

func (l *LogIndicator) Close() error {
	return l.Set(false)
}

// SignalButton turns a process signal (SIGUSR1 in the daemon) into an
// edge, for hosts without a physical button. The signal is claimed from
// construction until Close.
type SignalButton struct {
	ch chan os.Signal
}

func NewSignalButton(sig os.Signal) *SignalButton {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	return &SignalButton{ch: ch}
}

func (s *SignalButton) Watch(ctx context.Context, fn func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ch:
			fn()
		}
	}
}

func (s *SignalButton) Close() error {
	signal.Stop(s.ch)
	return nil
}
