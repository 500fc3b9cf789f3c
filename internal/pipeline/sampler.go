package pipeline

import (
	"context"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/gpio"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/state"
	"codeberg.org/mutker/thermobeacon/internal/telemetry"
)

// Sampler takes one blocking reading per run and folds it into the state.
type Sampler struct {
	acq       sensor.Acquirer
	activity  gpio.Indicator
	collector telemetry.Collector
	log       logger.Logger
}

func NewSampler(acq sensor.Acquirer, activity gpio.Indicator, collector telemetry.Collector, log logger.Logger) *Sampler {
	return &Sampler{acq: acq, activity: activity, collector: collector, log: log}
}

// Handle lights the activity indicator for the duration of the read. A
// failed read leaves it lit and the state untouched; the next period
// retries.
func (s *Sampler) Handle(ctx context.Context, w *state.Writer) {
	s.setActivity(true)

	reading, err := s.acq.Read(ctx)
	if err != nil {
		code := errors.CodeOf(err)
		s.collector.SampleFailed(string(code))
		s.log.Warn().Err(err).Str("code", string(code)).Msg("Sample failed")
		return
	}

	w.Append(reading)
	s.setActivity(false)
	s.collector.SampleRecorded(reading.Celsius)

	s.log.Debug().
		Uint64("seq", reading.Seq).
		Float64("celsius", reading.Celsius).
		Int32("raw", reading.Raw).
		Msg("Sample")
}

func (s *Sampler) setActivity(on bool) {
	if err := s.activity.Set(on); err != nil {
		s.log.Warn().Err(err).Bool("on", on).Msg("Failed to set activity indicator")
	}
}
