package sensor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
)

// Port serializes access to a Driver. At most one conversion is in flight at
// any time, whether started by Read or by BeginRead.
type Port struct {
	driver Driver
	cal    Calibration
	auxCal Calibration
	clock  wallclock.WallClock
	log    logger.Logger

	mu         sync.Mutex
	configured bool
	inFlight   bool
	generation uint64
	pending    *request
	seq        uint64

	discarded atomic.Uint64
}

// request is the token for one asynchronous conversion.
type request struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan completion
	abandoned  atomic.Bool
}

type completion struct {
	sample Sample
	err    error
	at     time.Time
}

type PortOption func(*Port)

// WithClock overrides the clock used for timestamps and timeouts.
func WithClock(clock wallclock.WallClock) PortOption {
	return func(p *Port) {
		p.clock = clock
	}
}

// WithLogger sets the port's logger.
func WithLogger(log logger.Logger) PortOption {
	return func(p *Port) {
		p.log = log
	}
}

// WithAuxCalibration sets the calibration used for the auxiliary channel.
// It defaults to the primary calibration.
func WithAuxCalibration(cal Calibration) PortOption {
	return func(p *Port) {
		p.auxCal = cal
	}
}

func NewPort(driver Driver, cal Calibration, opts ...PortOption) (*Port, error) {
	errFactory := errors.New()

	if driver == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "sensor driver is nil")
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	p := &Port{
		driver: driver,
		cal:    cal,
		auxCal: cal,
		clock:  wallclock.Real(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Read performs a blocking conversion and returns the calibrated reading.
func (p *Port) Read(ctx context.Context) (Reading, error) {
	if err := p.acquire(ctx); err != nil {
		return Reading{}, err
	}

	sample, err := p.driver.Convert(ctx)
	at := p.clock.Now()

	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()

	return p.calibrate(sample, err, at)
}

// BeginRead arms a single asynchronous conversion. Its result is picked up
// with Collect or CollectWithTimeout.
func (p *Port) BeginRead(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}

	convCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.generation++
	req := &request{
		generation: p.generation,
		cancel:     cancel,
		done:       make(chan completion, 1),
	}
	p.pending = req
	p.mu.Unlock()

	go convert(convCtx, p.driver, p.clock, p.deliverFunc(req))

	return nil
}

// Collect waits for the pending conversion. If ctx ends first, the request
// is abandoned.
func (p *Port) Collect(ctx context.Context) (Reading, error) {
	req, err := p.current()
	if err != nil {
		return Reading{}, err
	}

	select {
	case c := <-req.done:
		p.release(req)
		return p.calibrate(c.sample, c.err, c.at)
	case <-ctx.Done():
		if c, ok := p.ready(req); ok {
			return p.calibrate(c.sample, c.err, c.at)
		}
		return Reading{}, errors.New().Wrap(ErrAcquisitionTimeout, ctx.Err())
	}
}

// CollectWithTimeout waits up to d for the pending conversion. On timeout
// the request is superseded: the conversion is cancelled, the port becomes
// free for the next BeginRead and any late completion is discarded.
func (p *Port) CollectWithTimeout(ctx context.Context, d time.Duration) (Reading, error) {
	req, err := p.current()
	if err != nil {
		return Reading{}, err
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case c := <-req.done:
		p.release(req)
		return p.calibrate(c.sample, c.err, c.at)
	case <-timer.C():
		if c, ok := p.ready(req); ok {
			return p.calibrate(c.sample, c.err, c.at)
		}
		return Reading{}, errors.New().WithData(ErrAcquisitionTimeout, d.String())
	case <-ctx.Done():
		if c, ok := p.ready(req); ok {
			return p.calibrate(c.sample, c.err, c.at)
		}
		return Reading{}, errors.New().Wrap(ErrAcquisitionTimeout, ctx.Err())
	}
}

// Busy reports whether a conversion is in flight.
func (p *Port) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Discarded returns the number of completions that arrived after their
// request was abandoned.
func (p *Port) Discarded() uint64 {
	return p.discarded.Load()
}

func (p *Port) acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		return errors.New().New(ErrAcquisitionBusy)
	}
	if err := p.setupLocked(ctx); err != nil {
		return err
	}
	p.inFlight = true

	return nil
}

// setupLocked configures the channel on first use. A failed setup is
// retried on the next acquisition.
func (p *Port) setupLocked(ctx context.Context) error {
	errFactory := errors.New()

	if p.configured {
		return nil
	}
	if !p.driver.Ready() {
		return errFactory.WithData(ErrNotReady, p.driver.Name())
	}
	if err := p.driver.Setup(ctx); err != nil {
		return errFactory.Wrap(ErrSetup, err)
	}
	p.configured = true

	p.log.Debug().Str("driver", p.driver.Name()).Msg("Sensor channel configured")

	return nil
}

func (p *Port) current() (*request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return nil, errors.New().New(ErrNoRequest)
	}
	return p.pending, nil
}

func (p *Port) release(req *request) {
	p.mu.Lock()
	if p.pending == req {
		p.pending = nil
		p.inFlight = false
	}
	p.mu.Unlock()

	req.cancel()
}

// ready takes a completion that is already buffered when the wait expires.
// Otherwise the request is abandoned.
func (p *Port) ready(req *request) (completion, bool) {
	p.mu.Lock()
	select {
	case c := <-req.done:
		p.mu.Unlock()
		p.release(req)
		return c, true
	default:
	}
	req.abandoned.Store(true)
	if p.pending == req {
		p.pending = nil
		p.inFlight = false
		p.generation++
	}
	p.mu.Unlock()

	req.cancel()

	p.log.Debug().
		Uint64("generation", req.generation).
		Msg("Conversion abandoned")

	return completion{}, false
}

// deliverFunc returns the only capability the completion goroutine holds.
func (p *Port) deliverFunc(req *request) func(completion) {
	return func(c completion) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if req.abandoned.Load() {
			p.discarded.Add(1)
			return
		}
		select {
		case req.done <- c:
		default:
		}
	}
}

func (p *Port) calibrate(sample Sample, convErr error, at time.Time) (Reading, error) {
	errFactory := errors.New()

	if convErr != nil {
		if errors.HasCode(convErr, ErrReadFailed) {
			return Reading{}, convErr
		}
		return Reading{}, errFactory.Wrap(ErrReadFailed, convErr)
	}

	celsius, err := p.cal.Celsius(sample.Raw)
	if err != nil {
		return Reading{}, err
	}

	reading := Reading{
		Celsius: celsius,
		Raw:     sample.Raw,
		Time:    at,
	}

	if sample.HasAux {
		mv, err := p.auxCal.MilliVolts(sample.Aux)
		if err != nil {
			return Reading{}, err
		}
		reading.AuxMV = mv
		reading.HasAux = true
	}

	p.mu.Lock()
	p.seq++
	reading.Seq = p.seq
	p.mu.Unlock()

	return reading, nil
}

// convert runs on its own goroutine and reports through deliver only.
func convert(ctx context.Context, driver Driver, clock wallclock.WallClock, deliver func(completion)) {
	sample, err := driver.Convert(ctx)
	deliver(completion{sample: sample, err: err, at: clock.Now()})
}
