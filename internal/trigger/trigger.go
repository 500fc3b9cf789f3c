// Package trigger turns external edges, such as a button press, into
// out-of-band acquisitions.
//
// An edge only notifies the executor. The acquisition itself runs as an
// executor handler: it arms one conversion on the port, waits for it with a
// bounded timeout and folds the reading into the state.
package trigger

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/executor"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/report"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/state"
	"codeberg.org/mutker/thermobeacon/internal/telemetry"
)

type State int32

const (
	Idle State = iota
	// Armed: an edge was seen and the acquisition waits for the executor.
	Armed
	// Requested: a conversion is in flight.
	Requested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Requested:
		return "requested"
	default:
		return "unknown"
	}
}

// Reporter is the part of report.Reporter the path uses.
type Reporter interface {
	Evaluate(w *state.Writer) (report.Summary, error)
	Report(ctx context.Context, w *state.Writer, reason string) (report.Summary, error)
}

// Registrar installs handlers; *executor.Executor satisfies it.
type Registrar interface {
	Register(kind executor.Kind, h executor.Handler) (executor.Signal, error)
}

type Config struct {
	Timeout time.Duration
	// PublishOnTrigger republishes immediately after a triggered reading
	// instead of waiting for the next report.
	PublishOnTrigger bool
}

type Path struct {
	cfg       Config
	acq       sensor.Acquirer
	rep       Reporter
	collector telemetry.Collector
	log       logger.Logger

	notifier atomic.Pointer[executor.Signal]
	state    atomic.Int32

	edges     atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Path)

func WithCollector(c telemetry.Collector) Option {
	return func(p *Path) {
		p.collector = c
	}
}

func WithLogger(log logger.Logger) Option {
	return func(p *Path) {
		p.log = log
	}
}

func New(cfg Config, acq sensor.Acquirer, rep Reporter, opts ...Option) (*Path, error) {
	errFactory := errors.New()

	if acq == nil || rep == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "acquirer and reporter are required")
	}
	if cfg.Timeout <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, cfg.Timeout.String())
	}

	p := &Path{
		cfg:       cfg,
		acq:       acq,
		rep:       rep,
		collector: telemetry.Nop(),
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Attach registers the acquisition handler as the trigger kind.
func (p *Path) Attach(r Registrar) error {
	sig, err := r.Register(executor.KindTrigger, p.Handle)
	if err != nil {
		return err
	}
	p.notifier.Store(&sig)
	return nil
}

// Edge is called from the edge source. It never blocks: the executor keeps
// at most one trigger run pending, so edges arriving before it runs are
// dropped.
func (p *Path) Edge() {
	p.edges.Add(1)

	sig := p.notifier.Load()
	if sig == nil {
		return
	}
	p.state.CompareAndSwap(int32(Idle), int32(Armed))
	sig.Notify()
}

// Handle performs one triggered acquisition on the executor goroutine. On
// any failure the state is left untouched and the path returns to Idle.
func (p *Path) Handle(ctx context.Context, w *state.Writer) {
	defer p.state.Store(int32(Idle))
	p.state.Store(int32(Requested))

	if err := p.acq.BeginRead(ctx); err != nil {
		p.fail(err, "Failed to begin triggered read")
		return
	}

	reading, err := p.acq.CollectWithTimeout(ctx, p.cfg.Timeout)
	if err != nil {
		p.fail(err, "Triggered read failed")
		return
	}

	w.Append(reading)
	p.completed.Add(1)
	p.collector.TriggerCompleted()

	var s report.Summary
	if p.cfg.PublishOnTrigger {
		s, err = p.rep.Report(ctx, w, report.ReasonTrigger)
	} else {
		s, err = p.rep.Evaluate(w)
	}
	// Report failures are logged by the reporter.
	if err != nil && !errors.HasCode(err, errors.ErrPublish) {
		p.log.Debug().Err(err).Msg("Triggered report skipped")
	}

	p.log.Info().
		Uint64("seq", reading.Seq).
		Float64("celsius", reading.Celsius).
		Bool("alert", s.Alert).
		Msg("Triggered reading")
}

func (p *Path) fail(err error, msg string) {
	p.failed.Add(1)

	code := errors.CodeOf(err)
	p.collector.TriggerFailed(string(code))
	p.log.Warn().Err(err).Str("code", string(code)).Dur("timeout", p.cfg.Timeout).Msg(msg)
}

func (p *Path) State() State {
	return State(p.state.Load())
}

// Edges, Completed and Failed count edges seen, readings folded into the
// state and acquisitions that timed out or failed.
func (p *Path) Edges() uint64     { return p.edges.Load() }
func (p *Path) Completed() uint64 { return p.completed.Load() }
func (p *Path) Failed() uint64    { return p.failed.Load() }
