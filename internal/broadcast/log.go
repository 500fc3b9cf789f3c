package broadcast

import (
	"context"

	"codeberg.org/mutker/thermobeacon/internal/logger"
)

// LogPublisher writes payloads to the log. It is the default when no radio
// or broker is configured.
type LogPublisher struct {
	log logger.Logger
}

func NewLog(log logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, payload []byte) error {
	p.log.Info().Hex("payload", payload).Int("size", len(payload)).Msg("Broadcast")
	return nil
}

func (*LogPublisher) Close() error {
	return nil
}
