// Package report aggregates the rolling history into a summary, evaluates
// the alert threshold and broadcasts the encoded payload.
package report

import (
	"context"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/gpio"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/metrics"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/state"
	"codeberg.org/mutker/thermobeacon/internal/telemetry"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
)

const (
	ReasonPeriodic = "periodic"
	ReasonTrigger  = "trigger"
)

// Publisher sends an encoded payload. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Summary is the result of one aggregation.
type Summary struct {
	Mean      float64
	Count     int
	Latest    sensor.Reading
	Threshold float64
	Alert     bool
	Payload   []byte
	Time      time.Time
}

type Config struct {
	Threshold float64
	CompanyID uint16
	GroupID   uint8
}

type Reporter struct {
	cfg       Config
	publisher Publisher
	indicator gpio.Indicator
	recorder  metrics.Recorder
	collector telemetry.Collector
	clock     wallclock.WallClock
	log       logger.Logger
}

type Option func(*Reporter)

func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Reporter) {
		r.recorder = rec
	}
}

func WithCollector(c telemetry.Collector) Option {
	return func(r *Reporter) {
		r.collector = c
	}
}

func WithClock(clock wallclock.WallClock) Option {
	return func(r *Reporter) {
		r.clock = clock
	}
}

func WithLogger(log logger.Logger) Option {
	return func(r *Reporter) {
		r.log = log
	}
}

func New(cfg Config, publisher Publisher, indicator gpio.Indicator, opts ...Option) (*Reporter, error) {
	errFactory := errors.New()

	if publisher == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "publisher is nil")
	}
	if indicator == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "alert indicator is nil")
	}

	r := &Reporter{
		cfg:       cfg,
		publisher: publisher,
		indicator: indicator,
		recorder:  metrics.Nop(),
		collector: telemetry.Nop(),
		clock:     wallclock.Real(),
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Evaluate recomputes the mean and the alert flag and drives the alert
// indicator. The flag is level-triggered: it is rederived on every call.
func (r *Reporter) Evaluate(w *state.Writer) (Summary, error) {
	mean, ok := w.Mean()
	if !ok {
		return Summary{}, errors.New().New(ErrNoReadings)
	}
	latest, _ := w.Latest()

	s := Summary{
		Mean:      mean,
		Count:     len(w.Snapshot().Readings),
		Latest:    latest,
		Threshold: r.cfg.Threshold,
		Alert:     mean > r.cfg.Threshold,
		Time:      r.clock.Now(),
	}

	if s.Alert != w.Alert() {
		r.log.Info().
			Bool("alert", s.Alert).
			Float64("mean", s.Mean).
			Float64("threshold", s.Threshold).
			Msg("Alert state changed")
	}
	w.SetAlert(s.Alert)

	if err := r.indicator.Set(s.Alert); err != nil {
		r.log.Warn().Err(err).Msg("Failed to set alert indicator")
	}
	if s.Alert {
		r.log.Warn().
			Float64("mean", s.Mean).
			Float64("threshold", s.Threshold).
			Msg("Mean temperature above threshold")
	}

	return s, nil
}

// Report evaluates the state, stores the encoded payload and publishes it.
// A failed publish is logged and returned; state is never rolled back.
func (r *Reporter) Report(ctx context.Context, w *state.Writer, reason string) (Summary, error) {
	s, err := r.Evaluate(w)
	if err != nil {
		return Summary{}, err
	}

	payload, err := NewPayload(r.cfg.CompanyID, r.cfg.GroupID, s)
	if err != nil {
		r.log.Error().Err(err).Float64("mean", s.Mean).Msg("Failed to encode payload")
		return s, err
	}
	b, err := payload.MarshalBinary()
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode payload")
		return s, err
	}
	s.Payload = b
	w.SetPayload(b)

	pubErr := r.publisher.Publish(ctx, b)
	if pubErr != nil {
		r.collector.PublishFailed()
		r.log.Error().Err(pubErr).Str("reason", reason).Msg("Failed to publish summary")
		pubErr = errors.New().Wrap(errors.ErrPublish, pubErr)
	}

	r.collector.ReportPublished(s.Mean, s.Count, s.Alert)
	r.record(ctx, s, reason, pubErr == nil)

	r.log.Info().
		Str("reason", reason).
		Float64("mean", s.Mean).
		Float64("latest", s.Latest.Celsius).
		Int("count", s.Count).
		Bool("alert", s.Alert).
		Hex("payload", b).
		Msg("Report")

	return s, pubErr
}

func (r *Reporter) record(ctx context.Context, s Summary, reason string, published bool) {
	rep := &metrics.Report{
		Timestamp: s.Time,
		Reason:    reason,
		Seq:       s.Latest.Seq,
		Count:     s.Count,
		Mean:      s.Mean,
		Latest:    s.Latest.Celsius,
		SupplyMV:  s.Latest.AuxMV,
		Threshold: s.Threshold,
		Alert:     s.Alert,
		Published: published,
	}
	if err := r.recorder.Record(ctx, rep); err != nil {
		r.log.Warn().Err(err).Msg("Failed to record report")
	}
}
