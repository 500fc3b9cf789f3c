package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
)

const (
	defaultSimBaseC     = 24.0
	defaultSimAmplitude = 3.0
	defaultSimPeriod    = 10 * time.Minute
	defaultSimNoise     = 0.15
	defaultSimSupplyMV  = 3300.0
	defaultSimLatency   = 2 * time.Millisecond
)

// Simulated models an LM335 wired to an ADC input. The temperature follows
// a slow sine around a base value with gaussian noise.
type Simulated struct {
	cal       Calibration
	baseC     float64
	amplitude float64
	period    time.Duration
	noise     float64
	supplyMV  float64
	latency   time.Duration
	clock     wallclock.WallClock

	mu    sync.Mutex
	rng   *rand.Rand
	start time.Time
}

type SimOption func(*Simulated)

func WithBase(celsius, amplitude float64, period time.Duration) SimOption {
	return func(s *Simulated) {
		s.baseC = celsius
		s.amplitude = amplitude
		s.period = period
	}
}

func WithNoise(stddev float64) SimOption {
	return func(s *Simulated) {
		s.noise = stddev
	}
}

func WithSupply(mv float64) SimOption {
	return func(s *Simulated) {
		s.supplyMV = mv
	}
}

func WithLatency(d time.Duration) SimOption {
	return func(s *Simulated) {
		s.latency = d
	}
}

func WithSeed(seed int64) SimOption {
	return func(s *Simulated) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

func WithSimClock(clock wallclock.WallClock) SimOption {
	return func(s *Simulated) {
		s.clock = clock
	}
}

func NewSimulated(cal Calibration, opts ...SimOption) *Simulated {
	s := &Simulated{
		cal:       cal,
		baseC:     defaultSimBaseC,
		amplitude: defaultSimAmplitude,
		period:    defaultSimPeriod,
		noise:     defaultSimNoise,
		supplyMV:  defaultSimSupplyMV,
		latency:   defaultSimLatency,
		clock:     wallclock.Real(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.clock.Now()

	return s
}

func (*Simulated) Name() string {
	return "sim"
}

func (*Simulated) Ready() bool {
	return true
}

func (*Simulated) Setup(context.Context) error {
	return nil
}

func (s *Simulated) Convert(ctx context.Context) (Sample, error) {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return Sample{}, errors.New().Wrap(ErrReadFailed, ctx.Err())
		case <-s.clock.After(s.latency):
		}
	}

	s.mu.Lock()
	elapsed := s.clock.Now().Sub(s.start)
	celsius := s.baseC + s.rng.NormFloat64()*s.noise
	if s.period > 0 {
		celsius += s.amplitude * math.Sin(2*math.Pi*elapsed.Seconds()/s.period.Seconds())
	}
	s.mu.Unlock()

	return Sample{
		Raw:    s.cal.Raw(celsius),
		Aux:    s.cal.RawFromMilliVolts(s.supplyMV),
		HasAux: true,
	}, nil
}
